package domain

import (
	"encoding/json"
	"time"
)

// Event is a tagged JSON event travelling through the gateway's bus. The
// payload is serialised exactly once at publish time; subscribers receive the
// encoded form.
type Event struct {
	Timestamp time.Time       `json:"timestamp"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
}

// InferenceStartPayload announces a proxied request entering the gateway.
type InferenceStartPayload struct {
	RequestID string `json:"request_id"`
	Method    string `json:"method"`
	Path      string `json:"path"`
}

// InferenceCompletePayload closes out a proxied request.
type InferenceCompletePayload struct {
	TokenUsage  *TokenUsage `json:"token_usage,omitempty"`
	RequestID   string      `json:"request_id"`
	TotalTimeMs int64       `json:"total_time_ms"`
}

// ErrorPayload reports a failed request or operation.
type ErrorPayload struct {
	RequestID   string `json:"request_id,omitempty"`
	Error       string `json:"error"`
	TotalTimeMs int64  `json:"total_time_ms,omitempty"`
}

// ModelLifecyclePayload covers load/unload/activate announcements.
type ModelLifecyclePayload struct {
	ModelKey    string `json:"model_key"`
	InstanceID  string `json:"instance_id,omitempty"`
	TotalTimeMs int64  `json:"total_time_ms,omitempty"`
}

// ModelLoadProgressPayload carries a backend progress report for an
// in-flight load. Progress runs from 0 to 1.
type ModelLoadProgressPayload struct {
	ModelKey string  `json:"model_key"`
	Progress float64 `json:"progress"`
}

// MonthTransitionPayload is emitted when the tailer rolls to a new month
// directory of backend logs.
type MonthTransitionPayload struct {
	OldDirectory string `json:"old_directory"`
	NewDirectory string `json:"new_directory"`
	NewLogFile   string `json:"new_log_file"`
}

// DebugLogPayload is a well-formed backend log line.
type DebugLogPayload struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Message   string `json:"message"`
	Raw       string `json:"raw"`
}
