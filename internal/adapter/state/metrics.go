package state

import (
	"math"
	"runtime"
	"sort"
	"time"

	"github.com/elastic/go-sysinfo"

	"github.com/corralhq/corral/internal/core/domain"
	"github.com/corralhq/corral/pkg/nerdstats"
)

// Metrics is the on-demand view served by /debug/metrics. Nothing here is
// precomputed; everything derives from the ring at query time.
type Metrics struct {
	ModelInfo   *domain.ActiveModel `json:"model_info"`
	Performance PerformanceMetrics  `json:"performance"`
	TokenStats  TokenStats          `json:"token_stats"`
	System      SystemMetrics       `json:"system"`
}

type PerformanceMetrics struct {
	TotalRequests     int64   `json:"total_requests"`
	TotalErrors       int64   `json:"total_errors"`
	ErrorRatePercent  float64 `json:"error_rate_percent"`
	CompletedCount    int     `json:"completed_count"`
	MinResponseTimeMs float64 `json:"min_response_time_ms"`
	MedianResponseMs  float64 `json:"median_response_time_ms"`
	MaxResponseTimeMs float64 `json:"max_response_time_ms"`
	AvgResponseTimeMs float64 `json:"avg_response_time_ms"`
	AvgTokensPerSec   float64 `json:"avg_tokens_per_second"`
}

type TokenStats struct {
	TotalPromptTokens     int     `json:"total_prompt_tokens"`
	TotalCompletionTokens int     `json:"total_completion_tokens"`
	AvgPromptTokens       float64 `json:"avg_prompt_tokens"`
	AvgCompletionTokens   float64 `json:"avg_completion_tokens"`
}

type SystemMetrics struct {
	Platform        string  `json:"platform"`
	UptimeSeconds   float64 `json:"uptime_seconds"`
	MemoryUsedBytes uint64  `json:"memory_used_bytes"`
	MemoryTotal     uint64  `json:"memory_total_bytes,omitempty"`
	Goroutines      int     `json:"goroutines"`
}

// Metrics computes the derived view from the current ring contents.
func (s *Store) Metrics() Metrics {
	s.mu.RLock()
	recent := make([]domain.RequestRecord, len(s.recent))
	copy(recent, s.recent)
	totalRequests := s.totalRequests
	totalErrors := s.totalErrors
	model := cloneActiveModel(s.activeModel)
	s.mu.RUnlock()

	perf := PerformanceMetrics{
		TotalRequests: totalRequests,
		TotalErrors:   totalErrors,
	}
	if denominator := totalRequests + totalErrors; denominator > 0 {
		perf.ErrorRatePercent = round2(float64(totalErrors) / float64(denominator) * 100)
	}

	var times []float64
	var tokensPerSec []float64
	tokens := TokenStats{}
	tokenSamples := 0
	for _, rec := range recent {
		if rec.Status == domain.RequestCompleted {
			perf.CompletedCount++
		}
		if rec.TimeMs != nil {
			times = append(times, float64(*rec.TimeMs))
		}
		if rec.TokenUsage != nil {
			tokens.TotalPromptTokens += rec.TokenUsage.Prompt
			tokens.TotalCompletionTokens += rec.TokenUsage.Completion
			tokenSamples++
			if rec.TimeMs != nil && *rec.TimeMs > 0 {
				tokensPerSec = append(tokensPerSec,
					float64(rec.TokenUsage.Completion)/(float64(*rec.TimeMs)/1000))
			}
		}
	}

	if len(times) > 0 {
		sort.Float64s(times)
		perf.MinResponseTimeMs = round2(times[0])
		perf.MaxResponseTimeMs = round2(times[len(times)-1])
		perf.MedianResponseMs = round2(median(times))
		perf.AvgResponseTimeMs = round2(mean(times))
	}
	if len(tokensPerSec) > 0 {
		perf.AvgTokensPerSec = round2(mean(tokensPerSec))
	}
	if tokenSamples > 0 {
		tokens.AvgPromptTokens = round2(float64(tokens.TotalPromptTokens) / float64(tokenSamples))
		tokens.AvgCompletionTokens = round2(float64(tokens.TotalCompletionTokens) / float64(tokenSamples))
	}

	return Metrics{
		Performance: perf,
		TokenStats:  tokens,
		ModelInfo:   model,
		System:      s.systemMetrics(),
	}
}

func (s *Store) systemMetrics() SystemMetrics {
	ns := nerdstats.Snapshot(s.startTime)
	sys := SystemMetrics{
		Platform:        runtime.GOOS + "/" + runtime.GOARCH,
		UptimeSeconds:   round2(time.Since(s.startTime).Seconds()),
		MemoryUsedBytes: ns.HeapInuse,
		Goroutines:      ns.NumGoroutines,
	}

	// go-sysinfo gives us host-wide context when available; failures here
	// just leave the field empty.
	if host, err := sysinfo.Host(); err == nil {
		if mem, err := host.Memory(); err == nil {
			sys.MemoryTotal = mem.Total
		}
		if osInfo := host.Info().OS; osInfo != nil && osInfo.Name != "" {
			sys.Platform = osInfo.Name + "/" + runtime.GOARCH
		}
	}
	return sys
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func mean(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// median expects sorted input.
func median(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
