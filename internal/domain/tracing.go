package domain

import (
	"time"

	"github.com/google/uuid"
)

// DateLayout is the calendar-day format used across submissions and storage.
const DateLayout = "2006-01-02"

// TracingState captures the lifecycle state of a tracing submission.
type TracingState string

const (
	TracingStatePending   TracingState = "PENDING"
	TracingStateCompleted TracingState = "COMPLETED"
	TracingStateError     TracingState = "ERROR"
	TracingStateCancelled TracingState = "CANCELLED"
	TracingStateMissing   TracingState = "MISSING"
)

// allowedTransitions enumerates the valid state machine edges. Every state
// other than PENDING is terminal; MISSING is never transitioned into, it is
// created directly by the reconciler.
var allowedTransitions = map[TracingState][]TracingState{
	TracingStatePending: {
		TracingStateCompleted,
		TracingStateError,
		TracingStateCancelled,
	},
}

// CanTransitionTo reports whether the state machine permits the edge.
func (s TracingState) CanTransitionTo(target TracingState) bool {
	for _, allowed := range allowedTransitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are permitted.
func (s TracingState) IsTerminal() bool {
	return len(allowedTransitions[s]) == 0
}

// Valid reports whether the value is a known state.
func (s TracingState) Valid() bool {
	switch s {
	case TracingStatePending, TracingStateCompleted, TracingStateError,
		TracingStateCancelled, TracingStateMissing:
		return true
	}
	return false
}

// Tracing is one tenant's usage-report submission for one calendar day.
// Version is the optimistic-concurrency counter; it starts at 0 and advances
// by exactly one per applied transition.
type Tracing struct {
	ID        uuid.UUID    `json:"id"`
	TenantID  uuid.UUID    `json:"tenant_id"`
	Date      time.Time    `json:"date"`
	State     TracingState `json:"state"`
	Version   int          `json:"version"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// NewTracing creates a pending tracing for an accepted upload.
func NewTracing(tenantID uuid.UUID, date time.Time) Tracing {
	now := time.Now().UTC()
	return Tracing{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Date:      NormalizeDate(date),
		State:     TracingStatePending,
		Version:   0,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewMissingTracing creates the synthesized record for a tenant that never
// submitted a tracing for the given day.
func NewMissingTracing(tenantID uuid.UUID, date time.Time) Tracing {
	tracing := NewTracing(tenantID, date)
	tracing.State = TracingStateMissing
	return tracing
}

// NormalizeDate truncates a timestamp to its UTC calendar day.
func NormalizeDate(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// SameDay reports whether two timestamps fall on the same UTC calendar day.
func SameDay(a, b time.Time) bool {
	return NormalizeDate(a).Equal(NormalizeDate(b))
}
