package state

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corralhq/corral/internal/core/domain"
)

func msPtr(v int64) *int64 { return &v }

func completedRecord(id string, ms int64, usage *domain.TokenUsage) domain.RequestRecord {
	return domain.RequestRecord{
		Timestamp:  time.Now(),
		TimeMs:     msPtr(ms),
		TokenUsage: usage,
		RequestID:  id,
		Status:     domain.RequestCompleted,
	}
}

func TestStore_RecordCompletionBumpsCounter(t *testing.T) {
	s := NewStore()

	s.RecordCompletion(completedRecord("req_1", 100, nil))
	s.RecordCompletion(completedRecord("req_2", 200, nil))

	snap := s.Snapshot(0)
	assert.Equal(t, int64(2), snap.TotalRequests)
	assert.Equal(t, int64(0), snap.TotalErrors)
	assert.Len(t, snap.RecentRequests, 2)
}

func TestStore_RecordErrorLeavesRingAlone(t *testing.T) {
	s := NewStore()

	s.RecordError()
	s.RecordError()

	snap := s.Snapshot(0)
	assert.Equal(t, int64(0), snap.TotalRequests)
	assert.Equal(t, int64(2), snap.TotalErrors)
	assert.Empty(t, snap.RecentRequests)
}

func TestStore_RingEvictsOldestPastLimit(t *testing.T) {
	s := NewStore()

	for i := 0; i < RecentRequestLimit+1; i++ {
		s.RecordCompletion(completedRecord(fmt.Sprintf("req_%d", i), 10, nil))
	}

	snap := s.Snapshot(0)
	require.Len(t, snap.RecentRequests, RecentRequestLimit)
	assert.Equal(t, "req_1", snap.RecentRequests[0].RequestID)
	assert.Equal(t, fmt.Sprintf("req_%d", RecentRequestLimit), snap.RecentRequests[len(snap.RecentRequests)-1].RequestID)
	// Counter keeps the full tally even after eviction.
	assert.Equal(t, int64(RecentRequestLimit+1), snap.TotalRequests)
}

func TestStore_SnapshotTruncatesToNewest(t *testing.T) {
	s := NewStore()
	for i := 0; i < 20; i++ {
		s.RecordCompletion(completedRecord(fmt.Sprintf("req_%d", i), 10, nil))
	}

	snap := s.Snapshot(10)
	require.Len(t, snap.RecentRequests, 10)
	assert.Equal(t, "req_10", snap.RecentRequests[0].RequestID)
	assert.Equal(t, "req_19", snap.RecentRequests[9].RequestID)
}

func TestStore_OperationLifecycle(t *testing.T) {
	s := NewStore()
	assert.Equal(t, domain.StatusIdle, s.Snapshot(0).Status)

	s.BeginOperation(domain.OperationLoad, "llama-3.1-8b")
	snap := s.Snapshot(0)
	assert.Equal(t, domain.StatusLoading, snap.Status)
	require.NotNil(t, snap.CurrentOperation)
	assert.Equal(t, domain.OperationLoad, snap.CurrentOperation.Kind)
	assert.Equal(t, "llama-3.1-8b", snap.CurrentOperation.ModelKey)

	s.SetOperationProgress(42.5)
	snap = s.Snapshot(0)
	require.NotNil(t, snap.CurrentOperation.Progress)
	assert.InDelta(t, 42.5, *snap.CurrentOperation.Progress, 0.001)

	s.EndOperation(domain.StatusIdle)
	snap = s.Snapshot(0)
	assert.Equal(t, domain.StatusIdle, snap.Status)
	assert.Nil(t, snap.CurrentOperation)
}

func TestStore_BeginOperationReplacesStaleGauge(t *testing.T) {
	s := NewStore()
	s.BeginOperation(domain.OperationInference, "")
	s.BeginOperation(domain.OperationLoad, "qwen2.5-7b")

	snap := s.Snapshot(0)
	require.NotNil(t, snap.CurrentOperation)
	assert.Equal(t, domain.OperationLoad, snap.CurrentOperation.Kind)
	assert.Equal(t, domain.StatusLoading, snap.Status)
}

func TestStore_ActiveModelIsCopied(t *testing.T) {
	s := NewStore()
	temp := 0.7
	s.SetActiveModel(&domain.ActiveModel{
		ModelKey:   "llama-3.1-8b",
		InstanceID: "llama-3.1-8b:2",
		DefaultInference: &domain.InferenceDefaults{
			Temperature: &temp,
			StopStrings: []string{"</s>"},
		},
	})

	got := s.ActiveModel()
	require.NotNil(t, got)
	*got.DefaultInference.Temperature = 0.1
	got.DefaultInference.StopStrings[0] = "mutated"

	again := s.ActiveModel()
	assert.InDelta(t, 0.7, *again.DefaultInference.Temperature, 0.001)
	assert.Equal(t, "</s>", again.DefaultInference.StopStrings[0])
}

func TestStore_ClearActiveModelIfMatches(t *testing.T) {
	s := NewStore()
	s.SetActiveModel(&domain.ActiveModel{ModelKey: "llama-3.1-8b", InstanceID: "llama-3.1-8b:2"})

	assert.False(t, s.ClearActiveModelIfMatches("other-model", "other:1"))
	assert.NotNil(t, s.ActiveModel())

	assert.True(t, s.ClearActiveModelIfMatches("", "llama-3.1-8b:2"))
	assert.Nil(t, s.ActiveModel())

	// No active model left, nothing to clear.
	assert.False(t, s.ClearActiveModelIfMatches("llama-3.1-8b", ""))
}

func TestStore_MetricsPerformance(t *testing.T) {
	s := NewStore()
	s.RecordCompletion(completedRecord("req_a", 100, &domain.TokenUsage{Prompt: 10, Completion: 50, Total: 60}))
	s.RecordCompletion(completedRecord("req_b", 200, &domain.TokenUsage{Prompt: 20, Completion: 100, Total: 120}))
	s.RecordCompletion(completedRecord("req_c", 300, nil))
	s.RecordError()

	m := s.Metrics()

	assert.Equal(t, int64(3), m.Performance.TotalRequests)
	assert.Equal(t, int64(1), m.Performance.TotalErrors)
	assert.InDelta(t, 25.0, m.Performance.ErrorRatePercent, 0.001)
	assert.Equal(t, 3, m.Performance.CompletedCount)

	assert.InDelta(t, 100, m.Performance.MinResponseTimeMs, 0.001)
	assert.InDelta(t, 200, m.Performance.MedianResponseMs, 0.001)
	assert.InDelta(t, 300, m.Performance.MaxResponseTimeMs, 0.001)
	assert.InDelta(t, 200, m.Performance.AvgResponseTimeMs, 0.001)

	// 50 tokens in 0.1s = 500 tok/s, 100 tokens in 0.2s = 500 tok/s.
	assert.InDelta(t, 500, m.Performance.AvgTokensPerSec, 0.001)

	assert.Equal(t, 30, m.TokenStats.TotalPromptTokens)
	assert.Equal(t, 150, m.TokenStats.TotalCompletionTokens)
	assert.InDelta(t, 15, m.TokenStats.AvgPromptTokens, 0.001)
	assert.InDelta(t, 75, m.TokenStats.AvgCompletionTokens, 0.001)
}

func TestStore_MetricsEmptyRing(t *testing.T) {
	s := NewStore()
	m := s.Metrics()

	assert.Zero(t, m.Performance.TotalRequests)
	assert.Zero(t, m.Performance.ErrorRatePercent)
	assert.Zero(t, m.Performance.MinResponseTimeMs)
	assert.Zero(t, m.Performance.AvgTokensPerSec)
	assert.Nil(t, m.ModelInfo)
	assert.GreaterOrEqual(t, m.System.UptimeSeconds, 0.0)
	assert.Positive(t, m.System.Goroutines)
}

func TestStore_MetricsMedianEvenCount(t *testing.T) {
	s := NewStore()
	s.RecordCompletion(completedRecord("req_a", 100, nil))
	s.RecordCompletion(completedRecord("req_b", 200, nil))
	s.RecordCompletion(completedRecord("req_c", 300, nil))
	s.RecordCompletion(completedRecord("req_d", 400, nil))

	m := s.Metrics()
	assert.InDelta(t, 250, m.Performance.MedianResponseMs, 0.001)
}
