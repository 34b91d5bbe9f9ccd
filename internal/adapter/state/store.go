// Package state owns the gateway's single in-memory application state: the
// active model, the ring of recent proxied requests, counters and the
// current-operation gauge. One mutex, short critical sections, no I/O under
// lock.
package state

import (
	"sync"
	"time"

	"github.com/corralhq/corral/internal/core/domain"
)

// RecentRequestLimit bounds the ring of recent request records.
const RecentRequestLimit = 100

type Store struct {
	startTime   time.Time
	activeModel *domain.ActiveModel
	currentOp   *domain.OperationInfo
	recent      []domain.RequestRecord
	status      domain.GatewayStatus

	totalRequests int64
	totalErrors   int64

	mu sync.RWMutex
}

func NewStore() *Store {
	return &Store{
		startTime: time.Now(),
		status:    domain.StatusIdle,
		recent:    make([]domain.RequestRecord, 0, RecentRequestLimit),
	}
}

// StartTime reports when the process came up; uptime is derived from it.
func (s *Store) StartTime() time.Time {
	return s.startTime
}

// SetActiveModel overwrites the active model record.
func (s *Store) SetActiveModel(m *domain.ActiveModel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeModel = cloneActiveModel(m)
}

// ActiveModel returns a copy of the active model, or nil when none is set.
func (s *Store) ActiveModel() *domain.ActiveModel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneActiveModel(s.activeModel)
}

// ClearActiveModelIfMatches clears the active model when it refers to the
// given target, matching instance id first and model key otherwise. Reports
// whether anything was cleared.
func (s *Store) ClearActiveModelIfMatches(modelKey, instanceID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeModel == nil {
		return false
	}
	matches := (instanceID != "" && s.activeModel.InstanceID == instanceID) ||
		(modelKey != "" && s.activeModel.ModelKey == modelKey)
	if matches {
		s.activeModel = nil
	}
	return matches
}

// BeginOperation installs the current-operation gauge, replacing any stale
// one, and moves the gateway status accordingly.
func (s *Store) BeginOperation(kind domain.OperationKind, modelKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	progress := 0.0
	s.currentOp = &domain.OperationInfo{
		Kind:      kind,
		ModelKey:  modelKey,
		Progress:  &progress,
		StartedAt: time.Now(),
	}
	switch kind {
	case domain.OperationLoad, domain.OperationUnload:
		s.status = domain.StatusLoading
	case domain.OperationInference:
		s.status = domain.StatusProcessing
	}
}

// SetOperationProgress updates the live operation's progress, if any.
func (s *Store) SetOperationProgress(progress float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentOp != nil {
		p := progress
		s.currentOp.Progress = &p
	}
}

// EndOperation clears the current-operation gauge and sets the final status.
func (s *Store) EndOperation(status domain.GatewayStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentOp = nil
	s.status = status
}

// RecordCompletion appends a terminal request record to the ring, evicting
// the oldest past the limit, and bumps the completion counter.
func (s *Store) RecordCompletion(rec domain.RequestRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendRecord(rec)
	s.totalRequests++
}

// RecordError bumps the error counter without touching the ring. Transport
// failures and aborted streams never produce a completed record.
func (s *Store) RecordError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalErrors++
}

func (s *Store) appendRecord(rec domain.RequestRecord) {
	if len(s.recent) >= RecentRequestLimit {
		copy(s.recent, s.recent[1:])
		s.recent = s.recent[:len(s.recent)-1]
	}
	s.recent = append(s.recent, rec)
}

// Snapshot returns the serialisable debug state with recent requests
// truncated to the newest limit entries (zero or negative means all).
func (s *Store) Snapshot(limit int) domain.DebugState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recent := s.recent
	if limit > 0 && len(recent) > limit {
		recent = recent[len(recent)-limit:]
	}
	out := make([]domain.RequestRecord, len(recent))
	copy(out, recent)

	var op *domain.OperationInfo
	if s.currentOp != nil {
		opCopy := *s.currentOp
		if s.currentOp.Progress != nil {
			p := *s.currentOp.Progress
			opCopy.Progress = &p
		}
		op = &opCopy
	}

	return domain.DebugState{
		Status:           s.status,
		CurrentOperation: op,
		ActiveModel:      cloneActiveModel(s.activeModel),
		RecentRequests:   out,
		TotalRequests:    s.totalRequests,
		TotalErrors:      s.totalErrors,
		UptimeSeconds:    time.Since(s.startTime).Seconds(),
	}
}

func cloneActiveModel(m *domain.ActiveModel) *domain.ActiveModel {
	if m == nil {
		return nil
	}
	out := *m
	if m.DefaultInference != nil {
		di := *m.DefaultInference
		if m.DefaultInference.StopStrings != nil {
			di.StopStrings = append([]string(nil), m.DefaultInference.StopStrings...)
		}
		out.DefaultInference = &di
	}
	return &out
}
