package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/corralhq/corral/internal/core/constants"
	"github.com/corralhq/corral/internal/util"
)

const (
	DefaultHost           = "0.0.0.0"
	DefaultPort           = 11444
	DefaultBackendBaseURL = "http://127.0.0.1:1234"

	DefaultProxyTimeout     = 120 * time.Second
	DefaultStreamBufferSize = 8 * 1024
	DefaultShutdownTimeout  = 10 * time.Second

	EnvPrefix = "CORRAL"
)

// flatKeys are the recognised configuration keys; each resolves from the
// environment as CORRAL_<KEY_UPPERCASED>.
var flatKeys = []string{
	"backend_http_base_url",
	"backend_control_url",
	"gateway_host",
	"gateway_port",
	"shared_secret",
	"allowlist",
	"require_auth_for_health",
	"proxy_timeout_ms",
	"proxy_stream_timeout_ms",
	"stream_buffer_size",
	"shutdown_timeout_ms",
	"log_dir",
	"enable_log_monitoring",
	"log_level",
	"log_theme",
	"gateway_log_dir",
	"gateway_log_file",
}

// Load resolves the frozen Config from the environment. A local .env file is
// honoured when present; explicit environment variables win over it.
func Load() (*Config, error) {
	// Missing .env is the normal case, not an error.
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	for _, key := range flatKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("binding %s: %w", key, err)
		}
	}
	setDefaults(v)

	cfg := &Config{
		Backend: BackendConfig{
			HTTPBaseURL: util.NormaliseBaseURL(v.GetString("backend_http_base_url")),
			ControlURL:  strings.TrimSpace(v.GetString("backend_control_url")),
		},
		Server: ServerConfig{
			Host:            v.GetString("gateway_host"),
			Port:            v.GetInt("gateway_port"),
			ShutdownTimeout: time.Duration(v.GetInt("shutdown_timeout_ms")) * time.Millisecond,
		},
		Auth: AuthConfig{
			SharedSecret:         v.GetString("shared_secret"),
			Allowlist:            splitList(v.GetString("allowlist")),
			RequireAuthForHealth: v.GetBool("require_auth_for_health"),
		},
		Proxy: ProxyConfig{
			Timeout:          time.Duration(v.GetInt("proxy_timeout_ms")) * time.Millisecond,
			StreamTimeout:    time.Duration(v.GetInt("proxy_stream_timeout_ms")) * time.Millisecond,
			StreamBufferSize: v.GetInt("stream_buffer_size"),
		},
		Monitor: MonitorConfig{
			LogDir:  v.GetString("log_dir"),
			Enabled: v.GetBool("enable_log_monitoring"),
		},
		Logging: LoggingConfig{
			Level:      v.GetString("log_level"),
			Theme:      v.GetString("log_theme"),
			Dir:        v.GetString("gateway_log_dir"),
			FileOutput: v.GetBool("gateway_log_file"),
		},
	}

	if cfg.Backend.ControlURL == "" {
		cfg.Backend.ControlURL = util.DeriveControlURL(cfg.Backend.HTTPBaseURL)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("backend_http_base_url", DefaultBackendBaseURL)
	v.SetDefault("gateway_host", DefaultHost)
	v.SetDefault("gateway_port", DefaultPort)
	v.SetDefault("allowlist", constants.AllowlistWildcard)
	v.SetDefault("require_auth_for_health", false)
	v.SetDefault("proxy_timeout_ms", int(DefaultProxyTimeout/time.Millisecond))
	v.SetDefault("proxy_stream_timeout_ms", 0)
	v.SetDefault("stream_buffer_size", DefaultStreamBufferSize)
	v.SetDefault("shutdown_timeout_ms", int(DefaultShutdownTimeout/time.Millisecond))
	v.SetDefault("enable_log_monitoring", false)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_theme", "default")
	v.SetDefault("gateway_log_file", false)
}

// Validate rejects configurations the gateway cannot start with.
func (c *Config) Validate() error {
	parsed, err := url.Parse(c.Backend.HTTPBaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("backend_http_base_url %q is not a valid absolute URL", c.Backend.HTTPBaseURL)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("gateway_port %d is out of range", c.Server.Port)
	}
	if _, err := util.ParseAllowlist(c.Auth.Allowlist); err != nil {
		return fmt.Errorf("allowlist: %w", err)
	}
	if c.Proxy.Timeout <= 0 {
		return fmt.Errorf("proxy_timeout_ms must be positive")
	}
	if c.Proxy.StreamTimeout < 0 {
		return fmt.Errorf("proxy_stream_timeout_ms must not be negative")
	}
	if c.Monitor.Enabled && c.Monitor.LogDir == "" {
		return fmt.Errorf("enable_log_monitoring requires log_dir")
	}
	switch strings.ToLower(c.Logging.Level) {
	case "error", "warn", "warning", "info", "debug":
	default:
		return fmt.Errorf("log_level %q is not one of error, warn, info, debug", c.Logging.Level)
	}
	return nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
