// Package handlers wires the gateway's HTTP surface: health, admin model
// management, the debug endpoints and the OpenAI-compatible proxy catch-all.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/corralhq/corral/internal/adapter/proxy"
	"github.com/corralhq/corral/internal/adapter/state"
	"github.com/corralhq/corral/internal/core/constants"
	"github.com/corralhq/corral/internal/core/domain"
	"github.com/corralhq/corral/internal/events"
	"github.com/corralhq/corral/internal/logger"
)

// ControlClient is the slice of the backend control channel the handlers
// need.
type ControlClient interface {
	ListLoaded(ctx context.Context) ([]domain.LoadedModel, error)
	ListDownloaded(ctx context.Context) ([]domain.DownloadedModel, error)
	LoadModel(ctx context.Context, modelKey, instanceID string, cfg *domain.LoadConfig, onProgress func(float64)) (*domain.LoadedModel, error)
	UnloadModel(ctx context.Context, modelKey, instanceID string) (*domain.LoadedModel, error)
}

// Application holds the dependencies shared by all HTTP handlers.
type Application struct {
	store   *state.Store
	pub     *events.Publisher
	control ControlClient
	proxy   *proxy.Service
	logger  *logger.StyledLogger
}

func NewApplication(store *state.Store, pub *events.Publisher, control ControlClient, proxySvc *proxy.Service, logger *logger.StyledLogger) *Application {
	return &Application{
		store:   store,
		pub:     pub,
		control: control,
		proxy:   proxySvc,
		logger:  logger,
	}
}

// Routes builds the complete routing table.
func (a *Application) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", a.healthHandler)
	mux.HandleFunc("GET /version", a.versionHandler)

	mux.HandleFunc("GET /admin/models", a.modelsHandler)
	mux.HandleFunc("POST /admin/models/load", a.loadHandler)
	mux.HandleFunc("POST /admin/models/unload", a.unloadHandler)
	mux.HandleFunc("POST /admin/models/activate", a.activateHandler)

	mux.HandleFunc("GET /debug/status", a.debugStatusHandler)
	mux.HandleFunc("GET /debug/metrics", a.debugMetricsHandler)
	mux.HandleFunc("GET /debug/stream", a.debugStreamHandler)
	mux.HandleFunc("GET /debug/bus", a.debugBusHandler)

	// Everything else is a proxy candidate.
	mux.HandleFunc("/", a.proxyHandler)

	return mux
}

func (a *Application) proxyHandler(w http.ResponseWriter, r *http.Request) {
	forwardPath, ok := proxy.RewritePath(r.URL.Path)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	a.proxy.Handle(w, r, forwardPath)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set(constants.HeaderContentType, constants.ContentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeValidationFailure(w http.ResponseWriter, details []string) {
	writeJSON(w, http.StatusBadRequest, map[string]any{
		"error":   "Validation failed",
		"details": details,
	})
}
