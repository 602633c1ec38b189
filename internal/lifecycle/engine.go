package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/rpattn/tracelift/internal/domain"
	"github.com/rpattn/tracelift/internal/repository"

	"github.com/google/uuid"
)

var (
	// ErrConcurrentModification is returned when the expected version lost
	// the race against another transition. Expected under at-least-once
	// delivery; callers treat it as "already resolved", never blind retry.
	ErrConcurrentModification = errors.New("concurrent modification")
	// ErrInvalidTransition is returned when the requested state edge is not
	// permitted from the stored state.
	ErrInvalidTransition = errors.New("invalid transition")
)

// TransitionRequest asks for one versioned state change. Requests are
// transient messages owned by the caller; the engine never retains them
// beyond the call.
type TransitionRequest struct {
	TracingID       uuid.UUID
	ExpectedVersion int
	TargetState     domain.TracingState
	Errors          []domain.PurposeError
}

// TransitionResult reports the applied (or confirmed) version. Replayed is
// set when the request was recognized as an idempotent re-delivery of an
// already applied transition.
type TransitionResult struct {
	NewVersion int
	Replayed   bool
}

// Engine is the versioned state machine over the persistence port. The
// version check and write execute as a single atomic compare-and-swap in the
// store, not as an in-process lock, since producers run as independent
// consumer processes.
type Engine struct {
	tracings repository.TracingRepository
}

// NewEngine wires the state transition engine.
func NewEngine(tracings repository.TracingRepository) *Engine {
	return &Engine{tracings: tracings}
}

// Apply attempts the transition. A stale expected version never mutates
// stored state: if the version already advanced to expectedVersion+1 with
// exactly the requested outcome, the call is treated as a no-op confirmation
// of the caller's own completed write; any other mismatch is
// ErrConcurrentModification.
func (e *Engine) Apply(ctx context.Context, req TransitionRequest) (TransitionResult, error) {
	if !req.TargetState.Valid() {
		return TransitionResult{}, fmt.Errorf("%w: unknown state %q", ErrInvalidTransition, req.TargetState)
	}

	updated, err := e.tracings.ApplyTransition(ctx, req.TracingID, req.ExpectedVersion, req.TargetState, req.Errors)
	if err == nil {
		log.Printf("[LIFECYCLE] tracing %s -> %s (version %d)", req.TracingID, req.TargetState, updated.Version)
		return TransitionResult{NewVersion: updated.Version}, nil
	}

	switch {
	case errors.Is(err, repository.ErrIllegalTransition):
		return TransitionResult{}, fmt.Errorf("%w: tracing %s to %s", ErrInvalidTransition, req.TracingID, req.TargetState)
	case errors.Is(err, repository.ErrVersionConflict):
		result, replayErr := e.confirmReplay(ctx, req)
		if replayErr != nil {
			return TransitionResult{}, replayErr
		}
		return result, nil
	default:
		return TransitionResult{}, fmt.Errorf("apply transition: %w", err)
	}
}

// confirmReplay distinguishes "stale retry of my own completed write" from
// "someone else raced me" by comparing the stored outcome to the request.
func (e *Engine) confirmReplay(ctx context.Context, req TransitionRequest) (TransitionResult, error) {
	current, err := e.tracings.GetByID(ctx, req.TracingID)
	if err != nil {
		return TransitionResult{}, fmt.Errorf("load tracing for replay check: %w", err)
	}

	if current.Version != req.ExpectedVersion+1 || current.State != req.TargetState {
		return TransitionResult{}, fmt.Errorf("%w: tracing %s at version %d in state %s",
			ErrConcurrentModification, req.TracingID, current.Version, current.State)
	}

	stored, err := e.tracings.ListErrors(ctx, req.TracingID)
	if err != nil {
		return TransitionResult{}, fmt.Errorf("load errors for replay check: %w", err)
	}

	if !sameOutcome(stored, req.Errors) {
		return TransitionResult{}, fmt.Errorf("%w: tracing %s outcome differs from stored version %d",
			ErrConcurrentModification, req.TracingID, current.Version)
	}

	log.Printf("[LIFECYCLE] tracing %s replayed transition to %s confirmed (version %d)",
		req.TracingID, req.TargetState, current.Version)
	return TransitionResult{NewVersion: current.Version, Replayed: true}, nil
}

// sameOutcome compares error sets by (rowNumber, errorCode). Message text is
// not compared: detail strings may embed formatting that differs between
// deliveries while classifying the same failure.
func sameOutcome(stored, requested []domain.PurposeError) bool {
	if len(stored) != len(requested) {
		return false
	}
	for i := range stored {
		if stored[i].RowNumber != requested[i].RowNumber || stored[i].ErrorCode != requested[i].ErrorCode {
			return false
		}
	}
	return true
}
