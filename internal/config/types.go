package config

import (
	"fmt"
	"time"
)

// Config is the frozen runtime configuration. Resolved once at startup from
// the environment (with an optional .env file); never mutated afterwards.
type Config struct {
	Backend BackendConfig `mapstructure:"backend"`
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Proxy   ProxyConfig   `mapstructure:"proxy"`
	Monitor MonitorConfig `mapstructure:"monitor"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// BackendConfig points at the runtime the gateway fronts.
type BackendConfig struct {
	// HTTPBaseURL is the OpenAI-compatible HTTP surface, e.g. http://127.0.0.1:1234
	HTTPBaseURL string `mapstructure:"http_base_url"`
	// ControlURL is the model-management channel. Derived from HTTPBaseURL by
	// scheme swap (http → ws) when left empty.
	ControlURL string `mapstructure:"control_url"`
}

// ServerConfig holds the gateway's own bind settings.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// GetAddress returns the bind address in host:port format.
func (s *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// AuthConfig controls the access filter.
type AuthConfig struct {
	// SharedSecret enables the X-API-Key check when non-empty.
	SharedSecret string `mapstructure:"shared_secret"`
	// Allowlist is a list of IPs/CIDRs, or the wildcard to accept any source.
	Allowlist []string `mapstructure:"allowlist"`
	// RequireAuthForHealth extends the secret check to /health.
	RequireAuthForHealth bool `mapstructure:"require_auth_for_health"`
}

// ProxyConfig holds the pass-through data plane settings.
type ProxyConfig struct {
	// Timeout bounds non-streaming requests end to end.
	Timeout time.Duration `mapstructure:"timeout"`
	// StreamTimeout bounds streaming requests; zero means unbounded.
	StreamTimeout time.Duration `mapstructure:"stream_timeout"`
	// StreamBufferSize is the relay chunk buffer, in bytes.
	StreamBufferSize int `mapstructure:"stream_buffer_size"`
}

// MonitorConfig controls the backend log tailer.
type MonitorConfig struct {
	// LogDir is the backend's rolling log root (<root>/YYYY-MM/*.log).
	LogDir string `mapstructure:"log_dir"`
	// Enabled turns the tailer on. Requires LogDir.
	Enabled bool `mapstructure:"enabled"`
}

// LoggingConfig holds the gateway's own logging settings.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Theme      string `mapstructure:"theme"`
	Dir        string `mapstructure:"dir"`
	FileOutput bool   `mapstructure:"file_output"`
}
