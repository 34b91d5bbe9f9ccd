// Package app assembles the gateway: configuration, state, event bus,
// backend control channel, proxy data plane, log tailer and the HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/corralhq/corral/internal/adapter/control"
	"github.com/corralhq/corral/internal/adapter/proxy"
	"github.com/corralhq/corral/internal/adapter/state"
	"github.com/corralhq/corral/internal/adapter/tailer"
	"github.com/corralhq/corral/internal/app/handlers"
	"github.com/corralhq/corral/internal/app/middleware"
	"github.com/corralhq/corral/internal/config"
	"github.com/corralhq/corral/internal/events"
	"github.com/corralhq/corral/internal/logger"
	"github.com/corralhq/corral/internal/util"
)

const readHeaderTimeout = 10 * time.Second

// Application owns the gateway's long-lived components and their lifecycle.
type Application struct {
	cfg     *config.Config
	logger  *logger.StyledLogger
	store   *state.Store
	pub     *events.Publisher
	control *control.Client
	tailer  *tailer.Tailer
	server  *http.Server

	tailerCancel context.CancelFunc
	tailerDone   chan struct{}
	errCh        chan error
}

// New wires the application from a resolved configuration. Nothing touches
// the network until Start.
func New(cfg *config.Config, styledLogger *logger.StyledLogger) (*Application, error) {
	store := state.NewStore()
	pub := events.NewPublisher(styledLogger.Underlying())

	controlClient := control.NewClient(cfg.Backend.ControlURL, styledLogger)

	proxySvc, err := proxy.NewService(cfg.Backend.HTTPBaseURL, proxy.Config{
		Timeout:          cfg.Proxy.Timeout,
		StreamTimeout:    cfg.Proxy.StreamTimeout,
		StreamBufferSize: cfg.Proxy.StreamBufferSize,
	}, store, pub, styledLogger)
	if err != nil {
		return nil, fmt.Errorf("proxy: %w", err)
	}

	allowlist, err := util.ParseAllowlist(cfg.Auth.Allowlist)
	if err != nil {
		return nil, fmt.Errorf("allowlist: %w", err)
	}
	accessFilter := middleware.NewAccessFilter(
		allowlist, cfg.Auth.SharedSecret, cfg.Auth.RequireAuthForHealth, styledLogger)

	httpApp := handlers.NewApplication(store, pub, controlClient, proxySvc, styledLogger)
	handler := middleware.RequestLogging(accessFilter.Middleware(httpApp.Routes()))

	app := &Application{
		cfg:     cfg,
		logger:  styledLogger,
		store:   store,
		pub:     pub,
		control: controlClient,
		server: &http.Server{
			Addr:              cfg.Server.GetAddress(),
			Handler:           handler,
			ReadHeaderTimeout: readHeaderTimeout,
		},
		errCh: make(chan error, 1),
	}

	if cfg.Monitor.Enabled {
		app.tailer = tailer.New(cfg.Monitor.LogDir, pub, styledLogger)
	}

	return app, nil
}

// Start brings up the tailer (when configured) and the HTTP listener. It
// returns once the listener goroutine is running; fatal server errors
// surface through Wait.
func (a *Application) Start(ctx context.Context) error {
	if !util.IsPortAvailable(a.cfg.Server.Host, a.cfg.Server.Port) {
		return fmt.Errorf("address %s is already in use", a.cfg.Server.GetAddress())
	}

	a.logger.InfoWithEndpoint("Proxying backend", a.cfg.Backend.HTTPBaseURL)
	a.logger.InfoWithEndpoint("Control channel", a.cfg.Backend.ControlURL)

	if a.tailer != nil {
		tailerCtx, cancel := context.WithCancel(context.Background())
		a.tailerCancel = cancel
		a.tailerDone = make(chan struct{})
		go func() {
			defer close(a.tailerDone)
			if err := a.tailer.Run(tailerCtx); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error("Log monitor stopped", "error", err)
			}
		}()
		a.logger.InfoWithEndpoint("Monitoring backend logs", a.cfg.Monitor.LogDir)
	}

	go func() {
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.errCh <- err
		}
	}()

	a.logger.InfoWithEndpoint("Gateway listening", "http://"+a.cfg.Server.GetAddress())
	return nil
}

// Wait blocks until the context is cancelled or the HTTP server fails.
func (a *Application) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case err := <-a.errCh:
		return fmt.Errorf("http server: %w", err)
	}
}

// Stop drains the HTTP server within the shutdown timeout, then tears down
// the tailer, control session and event bus.
func (a *Application) Stop() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}

	if a.tailerCancel != nil {
		a.tailerCancel()
		select {
		case <-a.tailerDone:
		case <-shutdownCtx.Done():
			errs = append(errs, fmt.Errorf("log monitor did not stop in time"))
		}
	}

	if err := a.control.Close(); err != nil {
		errs = append(errs, fmt.Errorf("control close: %w", err))
	}
	a.pub.Shutdown()

	return errors.Join(errs...)
}
