package handlers

import (
	"net/http"
	"time"

	"github.com/corralhq/corral/internal/version"
)

func (a *Application) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"uptime_seconds": time.Since(a.store.StartTime()).Seconds(),
	})
}

func (a *Application) versionHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"name":        version.Name,
		"version":     version.Version,
		"commit":      version.Commit,
		"built":       version.Date,
		"description": version.Description,
	})
}
