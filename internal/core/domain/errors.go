package domain

import "errors"

var (
	// ErrBackendUnavailable means the control channel could not be reached
	// after exhausting connect attempts, or the proxy target was unreachable.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrModelNotFound means an unload target did not resolve to any loaded
	// model instance.
	ErrModelNotFound = errors.New("model not found")

	// ErrClientClosed means the downstream client went away mid-stream.
	ErrClientClosed = errors.New("client closed")
)
