package constants

const (
	HeaderContentType    = "Content-Type"
	HeaderCacheControl   = "Cache-Control"
	HeaderConnection     = "Connection"
	HeaderAccelBuffering = "X-Accel-Buffering"
	HeaderAPIKey         = "X-API-Key"
	HeaderRequestID      = "X-Corral-Request-ID"

	ContentTypeJSON        = "application/json"
	ContentTypeEventStream = "text/event-stream"

	DefaultHealthCheckEndpoint = "/health"
	DefaultOpenAIPathPrefix    = "/v1/"

	// AllowlistWildcard disables source filtering entirely.
	AllowlistWildcard = "*"
)

// Gateway lifecycle event tags.
const (
	EventInferenceStart    = "inference_start"
	EventInferenceComplete = "inference_complete"
	EventModelLoadStart    = "model_load_start"
	EventModelLoadProgress = "model_load_progress"
	EventModelLoadComplete = "model_load_complete"
	EventModelUnloadStart  = "model_unload_start"
	EventModelUnloadDone   = "model_unload_complete"
	EventModelActivate     = "model_activate"
	EventError             = "error"
	EventConnected         = "connected"
)

// Backend telemetry event tags, extracted by the log tailer.
const (
	EventDebugLog        = "debug_log"
	EventChatStart       = "lmstudio_chat_start"
	EventSamplingParams  = "lmstudio_sampling_params"
	EventPromptProgress  = "lmstudio_prompt_progress"
	EventCacheStats      = "lmstudio_cache_stats"
	EventTokenInfo       = "lmstudio_token_info"
	EventProcessingStart = "lmstudio_processing_start"
	EventMonthTransition = "lmstudio_month_transition"
)
