package handlers

import (
	"net/http"
)

// recentRequestDisplayLimit truncates the ring for /debug/status responses.
const recentRequestDisplayLimit = 10

func (a *Application) debugStatusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.store.Snapshot(recentRequestDisplayLimit))
}

func (a *Application) debugMetricsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.store.Metrics())
}

// debugBusHandler exposes the event bus counters: subscriber totals and how
// many events have been dropped on slow consumers.
func (a *Application) debugBusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.pub.Stats())
}
