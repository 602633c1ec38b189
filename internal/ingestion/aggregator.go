package ingestion

import (
	"time"

	"github.com/rpattn/tracelift/internal/domain"
	"github.com/rpattn/tracelift/internal/validation"

	"github.com/google/uuid"
)

// AggregateResult is the tracing-level outcome of one processed file.
type AggregateResult struct {
	FinalState domain.TracingState
	Errors     []domain.PurposeError
	TotalRows  int
	ValidRows  int
}

// Aggregate folds the full, ordered sequence of row outcomes for one tracing
// into a single state decision. An empty file is itself an error condition.
// Aggregation is a deterministic single pass: identical input sequences
// always produce identical error lists in identical order, because consumers
// diff error lists across retries.
func Aggregate(tracingID uuid.UUID, date time.Time, outcomes []validation.RowOutcome) AggregateResult {
	result := AggregateResult{
		Errors:    []domain.PurposeError{},
		TotalRows: len(outcomes),
	}

	if len(outcomes) == 0 {
		result.FinalState = domain.TracingStateError
		result.Errors = append(result.Errors, domain.NewPurposeError(
			tracingID, domain.ErrorCodeInvalidRowSchema, "file contains no rows", 0, date))
		return result
	}

	for _, outcome := range outcomes {
		if outcome.Valid() {
			result.ValidRows++
			continue
		}

		purposeErr := domain.NewPurposeError(
			tracingID, outcome.Err.Code, outcome.Err.Message, outcome.Err.RowNumber, date)
		if outcome.Err.PurposeID != nil {
			purposeErr = purposeErr.WithPurpose(*outcome.Err.PurposeID)
		}
		if outcome.Err.Status != 0 {
			purposeErr = purposeErr.WithStatus(outcome.Err.Status)
		}
		result.Errors = append(result.Errors, purposeErr)
	}

	if len(result.Errors) > 0 {
		result.FinalState = domain.TracingStateError
	} else {
		result.FinalState = domain.TracingStateCompleted
	}

	return result
}
