// Package checkpoint keeps the running state of a sync run and persists it
// between sub-batches so an interrupted run can report what was delivered.
package checkpoint

import (
	"context"
	"time"

	"github.com/ignite/contact-sync/internal/domain"
)

// LostBatch records a sub-batch whose per-record results are unknown because
// the provider rejected the whole call.
type LostBatch struct {
	Records int       `json:"records" dynamodbav:"records"`
	Reason  string    `json:"reason" dynamodbav:"reason"`
	At      time.Time `json:"at" dynamodbav:"at"`
}

// State is the checkpoint of one run. Consumed counts the source records
// whose handling finished, in source order.
type State struct {
	RunID       string         `json:"run_id" dynamodbav:"run_id"`
	ListID      string         `json:"list_id" dynamodbav:"list_id"`
	Stream      string         `json:"stream,omitempty" dynamodbav:"stream,omitempty"`
	SubBatches  int            `json:"sub_batches" dynamodbav:"sub_batches"`
	Consumed    int            `json:"consumed" dynamodbav:"consumed"`
	Processed   int            `json:"processed" dynamodbav:"processed"`
	Succeeded   int            `json:"succeeded" dynamodbav:"succeeded"`
	Failed      int            `json:"failed" dynamodbav:"failed"`
	ByErrorCode map[string]int `json:"by_error_code,omitempty" dynamodbav:"by_error_code,omitempty"`
	LostBatches []LostBatch    `json:"lost_batches,omitempty" dynamodbav:"lost_batches,omitempty"`
	StartedAt   time.Time      `json:"started_at" dynamodbav:"started_at"`
	UpdatedAt   time.Time      `json:"updated_at" dynamodbav:"updated_at"`
}

// New starts the state of a run.
func New(runID string, now time.Time) State {
	return State{RunID: runID, StartedAt: now.UTC(), UpdatedAt: now.UTC()}
}

// Fold adds one outcome.
func (s *State) Fold(o domain.Outcome) {
	s.Processed++
	if o.Success {
		s.Succeeded++
		return
	}
	s.Failed++
	if o.ErrorCode != "" {
		if s.ByErrorCode == nil {
			s.ByErrorCode = make(map[string]int)
		}
		s.ByErrorCode[string(o.ErrorCode)]++
	}
}

// RecordLost notes a sub-batch delivered without record-level state.
func (s *State) RecordLost(records int, reason string, now time.Time) {
	s.LostBatches = append(s.LostBatches, LostBatch{Records: records, Reason: reason, At: now.UTC()})
}

// Touch marks the end of a sub-batch.
func (s *State) Touch(now time.Time) {
	s.SubBatches++
	s.UpdatedAt = now.UTC()
}

// Clone returns a deep copy safe to hand to another goroutine.
func (s State) Clone() State {
	cp := s
	if s.ByErrorCode != nil {
		cp.ByErrorCode = make(map[string]int, len(s.ByErrorCode))
		for k, v := range s.ByErrorCode {
			cp.ByErrorCode[k] = v
		}
	}
	cp.LostBatches = append([]LostBatch(nil), s.LostBatches...)
	return cp
}

// Store persists run state.
type Store interface {
	Save(ctx context.Context, state State) error
	Load(ctx context.Context, runID string) (*State, error)
}
