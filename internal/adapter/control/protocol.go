package control

import (
	"encoding/json"
	"fmt"
)

// The control channel speaks newline-free JSON frames over a single
// websocket: one request per frame, correlated by id. The gateway issues
// one call at a time so frames always belong to the last request sent.
// Long operations may interleave progress notifications (id + progress,
// no result) ahead of the final result or error frame.

type request struct {
	Params any    `json:"params,omitempty"`
	Op     string `json:"op"`
	ID     uint64 `json:"id"`
}

type response struct {
	Result   json.RawMessage `json:"result,omitempty"`
	Error    *wireError      `json:"error,omitempty"`
	Progress *float64        `json:"progress,omitempty"`
	ID       uint64          `json:"id"`
}

// isProgress reports whether the frame is an interim progress notification
// rather than the final answer.
func (r *response) isProgress() bool {
	return r.Progress != nil && r.Result == nil && r.Error == nil
}

type wireError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (e *wireError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Message
}

const (
	opListLoaded     = "list_loaded"
	opListDownloaded = "list_downloaded"
	opLoad           = "load"
	opUnload         = "unload"
)

type loadParams struct {
	Config     any    `json:"config,omitempty"`
	Path       string `json:"path"`
	Identifier string `json:"identifier,omitempty"`
}

type unloadParams struct {
	Identifier string `json:"identifier"`
}
