package ingestion

import (
	"reflect"
	"testing"
	"time"

	"github.com/rpattn/tracelift/internal/domain"
	"github.com/rpattn/tracelift/internal/validation"

	"github.com/google/uuid"
)

var aggregateDate = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

func validOutcome(rowNumber int) validation.RowOutcome {
	return validation.RowOutcome{
		RowNumber: rowNumber,
		Row: &validation.ValidRow{
			RowNumber:     rowNumber,
			PurposeID:     uuid.New(),
			Status:        200,
			RequestsCount: 1,
		},
	}
}

func invalidOutcome(rowNumber int, code domain.ErrorCode) validation.RowOutcome {
	return validation.RowOutcome{
		RowNumber: rowNumber,
		Err: &validation.RowError{
			RowNumber: rowNumber,
			Code:      code,
			Message:   "boom",
		},
	}
}

func TestAggregateAllValidCompletes(t *testing.T) {
	result := Aggregate(uuid.New(), aggregateDate, []validation.RowOutcome{
		validOutcome(1), validOutcome(2), validOutcome(3),
	})

	if result.FinalState != domain.TracingStateCompleted {
		t.Fatalf("expected COMPLETED, got %s", result.FinalState)
	}
	if len(result.Errors) != 0 {
		t.Fatalf("expected empty error set, got %d", len(result.Errors))
	}
	if result.TotalRows != 3 || result.ValidRows != 3 {
		t.Fatalf("unexpected counts: %+v", result)
	}
}

func TestAggregateAnyInvalidErrors(t *testing.T) {
	result := Aggregate(uuid.New(), aggregateDate, []validation.RowOutcome{
		validOutcome(1),
		invalidOutcome(2, domain.ErrorCodeInvalidDate),
		validOutcome(3),
		invalidOutcome(4, domain.ErrorCodePurposeNotFound),
	})

	if result.FinalState != domain.TracingStateError {
		t.Fatalf("expected ERROR, got %s", result.FinalState)
	}
	if len(result.Errors) != 2 {
		t.Fatalf("expected 2 errors, got %d", len(result.Errors))
	}
	if result.Errors[0].RowNumber != 2 || result.Errors[1].RowNumber != 4 {
		t.Fatalf("errors must keep source row order: %d, %d",
			result.Errors[0].RowNumber, result.Errors[1].RowNumber)
	}
	if result.ValidRows != 2 {
		t.Fatalf("expected 2 valid rows, got %d", result.ValidRows)
	}
}

func TestAggregateEmptyFile(t *testing.T) {
	tracingID := uuid.New()
	result := Aggregate(tracingID, aggregateDate, nil)

	if result.FinalState != domain.TracingStateError {
		t.Fatalf("expected ERROR, got %s", result.FinalState)
	}
	if len(result.Errors) != 1 {
		t.Fatalf("expected single file-level error, got %d", len(result.Errors))
	}
	fileErr := result.Errors[0]
	if fileErr.ErrorCode != domain.ErrorCodeInvalidRowSchema {
		t.Fatalf("expected INVALID_ROW_SCHEMA, got %s", fileErr.ErrorCode)
	}
	if fileErr.RowNumber != 0 {
		t.Fatalf("file-level error must use row 0, got %d", fileErr.RowNumber)
	}
	if fileErr.TracingID != tracingID {
		t.Fatalf("error must be attributed to the tracing, got %s", fileErr.TracingID)
	}
}

func TestAggregateDeterministic(t *testing.T) {
	outcomes := []validation.RowOutcome{
		invalidOutcome(1, domain.ErrorCodeInvalidStatusCode),
		validOutcome(2),
		invalidOutcome(3, domain.ErrorCodeInvalidRequestsCount),
	}

	first := Aggregate(uuid.Nil, aggregateDate, outcomes)
	second := Aggregate(uuid.Nil, aggregateDate, outcomes)

	type key struct {
		row  int
		code domain.ErrorCode
	}
	project := func(errs []domain.PurposeError) []key {
		out := make([]key, 0, len(errs))
		for _, e := range errs {
			out = append(out, key{row: e.RowNumber, code: e.ErrorCode})
		}
		return out
	}

	if !reflect.DeepEqual(project(first.Errors), project(second.Errors)) {
		t.Fatalf("identical inputs must aggregate identically: %+v vs %+v",
			project(first.Errors), project(second.Errors))
	}
	if first.FinalState != second.FinalState {
		t.Fatalf("state must be deterministic: %s vs %s", first.FinalState, second.FinalState)
	}
}
