package domain

import "time"

// GatewayStatus describes what the gateway is currently busy with.
type GatewayStatus string

const (
	StatusIdle       GatewayStatus = "idle"
	StatusLoading    GatewayStatus = "loading_model"
	StatusProcessing GatewayStatus = "processing_inference"
	StatusError      GatewayStatus = "error"
)

// OperationKind tags a long-running backend operation.
type OperationKind string

const (
	OperationLoad      OperationKind = "load"
	OperationUnload    OperationKind = "unload"
	OperationInference OperationKind = "inference"
)

// OperationInfo is present while a long operation is live. At most one
// operation exists at a time.
type OperationInfo struct {
	StartedAt time.Time     `json:"started_at"`
	Kind      OperationKind `json:"kind"`
	ModelKey  string        `json:"model_key,omitempty"`
	Progress  *float64      `json:"progress,omitempty"`
}

// RequestStatus is the terminal (or pending) state of a proxied request.
type RequestStatus string

const (
	RequestPending   RequestStatus = "pending"
	RequestCompleted RequestStatus = "completed"
	RequestFailed    RequestStatus = "failed"
)

// TokenUsage mirrors the OpenAI usage object when the backend reports one.
type TokenUsage struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

// RequestRecord is one entry in the bounded ring of recent proxied requests.
// A completed record always carries a non-nil TimeMs.
type RequestRecord struct {
	Timestamp  time.Time     `json:"timestamp"`
	TimeMs     *int64        `json:"time_ms,omitempty"`
	TokenUsage *TokenUsage   `json:"token_usage,omitempty"`
	RequestID  string        `json:"request_id"`
	Status     RequestStatus `json:"status"`
}

// DebugState is the serialisable snapshot returned by /debug/status.
type DebugState struct {
	Status           GatewayStatus   `json:"status"`
	CurrentOperation *OperationInfo  `json:"current_operation"`
	ActiveModel      *ActiveModel    `json:"active_model"`
	RecentRequests   []RequestRecord `json:"recent_requests"`
	TotalRequests    int64           `json:"total_requests"`
	TotalErrors      int64           `json:"total_errors"`
	UptimeSeconds    float64         `json:"uptime_seconds"`
}
