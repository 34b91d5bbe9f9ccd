package domain

import "fmt"

// InferenceDefaults is a sparse record of sampling parameters attached to the
// active model. Only set fields are injected into proxied requests, and a
// client-provided value always wins over an injected one.
type InferenceDefaults struct {
	Temperature   *float64 `json:"temperature,omitempty"`
	MaxTokens     *int     `json:"max_tokens,omitempty"`
	TopP          *float64 `json:"top_p,omitempty"`
	TopK          *int     `json:"top_k,omitempty"`
	RepeatPenalty *float64 `json:"repeat_penalty,omitempty"`
	StopStrings   []string `json:"stop_strings,omitempty"`
	Stream        *bool    `json:"stream,omitempty"`
}

// Validate returns human-readable bounds violations for the set fields.
func (d *InferenceDefaults) Validate() []string {
	if d == nil {
		return nil
	}

	var details []string
	if d.Temperature != nil && *d.Temperature < 0 {
		details = append(details, fmt.Sprintf("temperature must not be negative, got %v", *d.Temperature))
	}
	if d.MaxTokens != nil && *d.MaxTokens <= 0 {
		details = append(details, fmt.Sprintf("max_tokens must be a positive integer, got %d", *d.MaxTokens))
	}
	if d.TopP != nil && (*d.TopP <= 0 || *d.TopP > 1) {
		details = append(details, fmt.Sprintf("top_p must be within (0,1], got %v", *d.TopP))
	}
	if d.TopK != nil && *d.TopK < 0 {
		details = append(details, fmt.Sprintf("top_k must not be negative, got %d", *d.TopK))
	}
	if d.RepeatPenalty != nil && *d.RepeatPenalty <= 0 {
		details = append(details, fmt.Sprintf("repeat_penalty must be greater than zero, got %v", *d.RepeatPenalty))
	}
	return details
}

// ActiveModel is the model identity the proxy augments requests with.
type ActiveModel struct {
	DefaultInference *InferenceDefaults `json:"default_inference,omitempty"`
	ModelKey         string             `json:"model_key"`
	InstanceID       string             `json:"instance_id,omitempty"`
}

// PreferredIdentifier returns the identity to inject into a request body:
// instance id when present, model key otherwise.
func (m *ActiveModel) PreferredIdentifier() string {
	if m == nil {
		return ""
	}
	if m.InstanceID != "" {
		return m.InstanceID
	}
	return m.ModelKey
}

// GPUConfig controls GPU offload during a model load.
type GPUConfig struct {
	Ratio  *float64 `json:"ratio,omitempty"`
	Layers *int     `json:"layers,omitempty"`
}

// LoadConfig is the sparse backend-side model load configuration. Unset
// fields are left to the backend's defaults.
type LoadConfig struct {
	GPU                *GPUConfig `json:"gpu,omitempty"`
	ContextLength      *int       `json:"context_length,omitempty"`
	CPUThreads         *int       `json:"cpu_threads,omitempty"`
	RopeFrequencyBase  *float64   `json:"rope_frequency_base,omitempty"`
	RopeFrequencyScale *float64   `json:"rope_frequency_scale,omitempty"`
}

// Validate returns a list of human-readable bounds violations, empty when the
// configuration is acceptable.
func (c *LoadConfig) Validate() []string {
	if c == nil {
		return nil
	}

	var details []string
	if c.ContextLength != nil && *c.ContextLength <= 0 {
		details = append(details, fmt.Sprintf("context_length must be a positive integer, got %d", *c.ContextLength))
	}
	if c.CPUThreads != nil && *c.CPUThreads <= 0 {
		details = append(details, fmt.Sprintf("cpu_threads must be greater than zero, got %d", *c.CPUThreads))
	}
	if c.RopeFrequencyBase != nil && *c.RopeFrequencyBase <= 0 {
		details = append(details, fmt.Sprintf("rope_frequency_base must be greater than zero, got %v", *c.RopeFrequencyBase))
	}
	if c.RopeFrequencyScale != nil && *c.RopeFrequencyScale <= 0 {
		details = append(details, fmt.Sprintf("rope_frequency_scale must be greater than zero, got %v", *c.RopeFrequencyScale))
	}
	if c.GPU != nil {
		if c.GPU.Ratio != nil && (*c.GPU.Ratio < 0 || *c.GPU.Ratio > 1) {
			details = append(details, fmt.Sprintf("gpu.ratio must be within [0,1], got %v", *c.GPU.Ratio))
		}
		if c.GPU.Layers != nil && *c.GPU.Layers < 0 {
			details = append(details, fmt.Sprintf("gpu.layers must not be negative, got %d", *c.GPU.Layers))
		}
	}
	return details
}

// LoadedModel is a model instance currently resident in the backend.
type LoadedModel struct {
	Path       string `json:"path"`
	Identifier string `json:"identifier"`
}

// DownloadedModel is a model available on the backend's disk.
type DownloadedModel struct {
	Path      string `json:"path"`
	Type      string `json:"type"`
	SizeBytes int64  `json:"size"`
}
