package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/docker/go-units"

	"github.com/corralhq/corral/internal/core/constants"
	"github.com/corralhq/corral/internal/core/domain"
)

type loadRequest struct {
	LoadConfig       *domain.LoadConfig        `json:"load_config,omitempty"`
	DefaultInference *domain.InferenceDefaults `json:"default_inference,omitempty"`
	Activate         *bool                     `json:"activate,omitempty"`
	ModelKey         string                    `json:"model_key"`
	InstanceID       string                    `json:"instance_id,omitempty"`
}

type unloadRequest struct {
	ModelKey   string `json:"model_key"`
	InstanceID string `json:"instance_id,omitempty"`
}

type activateRequest struct {
	DefaultInference *domain.InferenceDefaults `json:"default_inference,omitempty"`
	ModelKey         string                    `json:"model_key"`
	InstanceID       string                    `json:"instance_id,omitempty"`
}

// downloadedModelView decorates the wire record with a display size.
type downloadedModelView struct {
	domain.DownloadedModel
	SizeHuman string `json:"size_human"`
}

// modelsHandler lists loaded and downloaded models from the backend.
func (a *Application) modelsHandler(w http.ResponseWriter, r *http.Request) {
	loaded, err := a.control.ListLoaded(r.Context())
	if err != nil {
		a.logger.Error("Listing loaded models failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}
	downloaded, err := a.control.ListDownloaded(r.Context())
	if err != nil {
		a.logger.Error("Listing downloaded models failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}
	if loaded == nil {
		loaded = []domain.LoadedModel{}
	}
	views := make([]downloadedModelView, 0, len(downloaded))
	for _, m := range downloaded {
		views = append(views, downloadedModelView{
			DownloadedModel: m,
			SizeHuman:       units.HumanSize(float64(m.SizeBytes)),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"loaded":     loaded,
		"downloaded": views,
	})
}

func (a *Application) loadHandler(w http.ResponseWriter, r *http.Request) {
	var req loadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeValidationFailure(w, []string{"request body must be a JSON object"})
		return
	}

	var details []string
	if req.ModelKey == "" {
		details = append(details, "model_key must not be empty")
	}
	details = append(details, req.LoadConfig.Validate()...)
	details = append(details, req.DefaultInference.Validate()...)
	if len(details) > 0 {
		writeValidationFailure(w, details)
		return
	}

	activate := true
	if req.Activate != nil {
		activate = *req.Activate
	}

	start := time.Now()
	a.pub.Publish(constants.EventModelLoadStart, domain.ModelLifecyclePayload{
		ModelKey:   req.ModelKey,
		InstanceID: req.InstanceID,
	})
	a.store.BeginOperation(domain.OperationLoad, req.ModelKey)

	onProgress := func(p float64) {
		a.store.SetOperationProgress(p)
		a.pub.Publish(constants.EventModelLoadProgress, domain.ModelLoadProgressPayload{
			ModelKey: req.ModelKey,
			Progress: p,
		})
	}

	loaded, err := a.control.LoadModel(r.Context(), req.ModelKey, req.InstanceID, req.LoadConfig, onProgress)
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		a.store.EndOperation(domain.StatusError)
		a.store.RecordError()
		a.logger.Error("Model load failed", "model", req.ModelKey, "error", err)
		a.pub.Publish(constants.EventError, domain.ErrorPayload{
			Error:       err.Error(),
			TotalTimeMs: elapsed,
		})
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	if activate {
		a.store.SetActiveModel(&domain.ActiveModel{
			ModelKey:         req.ModelKey,
			InstanceID:       loaded.Identifier,
			DefaultInference: req.DefaultInference,
		})
	}
	a.store.EndOperation(domain.StatusIdle)

	a.pub.Publish(constants.EventModelLoadComplete, domain.ModelLifecyclePayload{
		ModelKey:    req.ModelKey,
		InstanceID:  loaded.Identifier,
		TotalTimeMs: elapsed,
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "loaded",
		"model_key":     req.ModelKey,
		"instance_id":   loaded.Identifier,
		"activated":     activate,
		"total_time_ms": elapsed,
		"message":       "Model loaded successfully",
	})
}

func (a *Application) unloadHandler(w http.ResponseWriter, r *http.Request) {
	var req unloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeValidationFailure(w, []string{"request body must be a JSON object"})
		return
	}
	if req.ModelKey == "" && req.InstanceID == "" {
		writeValidationFailure(w, []string{"one of model_key or instance_id must be provided"})
		return
	}

	start := time.Now()
	a.pub.Publish(constants.EventModelUnloadStart, domain.ModelLifecyclePayload{
		ModelKey:   req.ModelKey,
		InstanceID: req.InstanceID,
	})
	a.store.BeginOperation(domain.OperationUnload, req.ModelKey)

	unloaded, err := a.control.UnloadModel(r.Context(), req.ModelKey, req.InstanceID)
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		if errors.Is(err, domain.ErrModelNotFound) {
			a.store.EndOperation(domain.StatusIdle)
			writeJSON(w, http.StatusNotFound, map[string]string{
				"status":  "not_found",
				"message": err.Error(),
			})
			return
		}
		a.store.EndOperation(domain.StatusError)
		a.store.RecordError()
		a.logger.Error("Model unload failed", "model", req.ModelKey, "error", err)
		a.pub.Publish(constants.EventError, domain.ErrorPayload{
			Error:       err.Error(),
			TotalTimeMs: elapsed,
		})
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	if a.store.ClearActiveModelIfMatches(unloaded.Path, unloaded.Identifier) {
		a.logger.InfoWithModel("Active model cleared after unload", unloaded.Identifier)
	}
	a.store.EndOperation(domain.StatusIdle)

	a.pub.Publish(constants.EventModelUnloadDone, domain.ModelLifecyclePayload{
		ModelKey:    unloaded.Path,
		InstanceID:  unloaded.Identifier,
		TotalTimeMs: elapsed,
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "unloaded",
		"model_key":     unloaded.Path,
		"instance_id":   unloaded.Identifier,
		"total_time_ms": elapsed,
	})
}

// activateHandler swaps the active model without touching the backend.
func (a *Application) activateHandler(w http.ResponseWriter, r *http.Request) {
	var req activateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeValidationFailure(w, []string{"request body must be a JSON object"})
		return
	}

	var details []string
	if req.ModelKey == "" {
		details = append(details, "model_key must not be empty")
	}
	details = append(details, req.DefaultInference.Validate()...)
	if len(details) > 0 {
		writeValidationFailure(w, details)
		return
	}

	a.store.SetActiveModel(&domain.ActiveModel{
		ModelKey:         req.ModelKey,
		InstanceID:       req.InstanceID,
		DefaultInference: req.DefaultInference,
	})

	a.pub.Publish(constants.EventModelActivate, domain.ModelLifecyclePayload{
		ModelKey:   req.ModelKey,
		InstanceID: req.InstanceID,
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "activated",
		"model_key":   req.ModelKey,
		"instance_id": req.InstanceID,
	})
}
