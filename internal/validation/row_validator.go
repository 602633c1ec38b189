package validation

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rpattn/tracelift/internal/domain"

	"github.com/google/uuid"
)

// RawRow is one decoded line of an uploaded tracing file, untyped. RowNumber
// is 1-based and matches source line order; it is used for error reporting
// only.
type RawRow struct {
	RowNumber     int
	Date          string
	PurposeID     string
	Status        string
	RequestsCount string
}

// Context is the read-only lookup state a row is validated against: the
// submitting tenant, the file's declared submission date, and the platform
// catalog read model.
type Context struct {
	TenantID  uuid.UUID
	Date      time.Time
	Purposes  map[uuid.UUID]domain.Purpose
	Eservices map[uuid.UUID]domain.Eservice
	Tenants   map[uuid.UUID]domain.Tenant
}

// ValidRow carries the resolved identifiers of a row that passed every check.
type ValidRow struct {
	RowNumber     int
	PurposeID     uuid.UUID
	EserviceID    uuid.UUID
	ProducerID    uuid.UUID
	ConsumerID    uuid.UUID
	Status        int
	RequestsCount int
	Date          time.Time
}

// RowError classifies a failed row with exactly one taxonomy code.
type RowError struct {
	RowNumber int
	Code      domain.ErrorCode
	Message   string
	PurposeID *uuid.UUID
	Status    int
}

// RowOutcome is the result of validating one row: either Row or Err is set,
// never both.
type RowOutcome struct {
	RowNumber int
	Row       *ValidRow
	Err       *RowError
}

// Valid reports whether the row passed validation.
func (o RowOutcome) Valid() bool {
	return o.Err == nil
}

// Validate checks one raw row against schema and business rules. Checks are
// applied in a fixed order and the first failure wins, so no row ever carries
// more than one error code. The function is pure: no side effects beyond the
// returned outcome.
func Validate(row RawRow, ctx Context) RowOutcome {
	fail := func(code domain.ErrorCode, message string) RowOutcome {
		return RowOutcome{
			RowNumber: row.RowNumber,
			Err: &RowError{
				RowNumber: row.RowNumber,
				Code:      code,
				Message:   message,
			},
		}
	}

	if strings.TrimSpace(row.Date) == "" ||
		strings.TrimSpace(row.PurposeID) == "" ||
		strings.TrimSpace(row.Status) == "" ||
		strings.TrimSpace(row.RequestsCount) == "" {
		return fail(domain.ErrorCodeInvalidRowSchema, "row is missing one or more required fields")
	}

	rowDate, err := time.Parse(domain.DateLayout, strings.TrimSpace(row.Date))
	if err != nil {
		return fail(domain.ErrorCodeInvalidRowSchema, fmt.Sprintf("date %q is not a valid %s value", row.Date, domain.DateLayout))
	}

	status, err := strconv.Atoi(strings.TrimSpace(row.Status))
	if err != nil {
		return fail(domain.ErrorCodeInvalidRowSchema, fmt.Sprintf("status %q is not an integer", row.Status))
	}

	requests, err := strconv.Atoi(strings.TrimSpace(row.RequestsCount))
	if err != nil {
		return fail(domain.ErrorCodeInvalidRowSchema, fmt.Sprintf("requests count %q is not an integer", row.RequestsCount))
	}

	purposeID, err := uuid.Parse(strings.TrimSpace(row.PurposeID))
	if err != nil {
		return fail(domain.ErrorCodeInvalidPurpose, fmt.Sprintf("purpose id %q is not a valid identifier", row.PurposeID))
	}

	// From here on the purpose and status survived structural checks, so
	// attach them to any classification for reporting.
	failRow := func(code domain.ErrorCode, message string) RowOutcome {
		outcome := fail(code, message)
		outcome.Err.PurposeID = &purposeID
		outcome.Err.Status = status
		return outcome
	}

	if !recognizedStatusCode(status) {
		return failRow(domain.ErrorCodeInvalidStatusCode, fmt.Sprintf("status %d is not a registered HTTP status code", status))
	}

	if !domain.SameDay(rowDate, ctx.Date) {
		return failRow(domain.ErrorCodeInvalidDate, fmt.Sprintf(
			"row date %s does not match submission date %s",
			rowDate.Format(domain.DateLayout), ctx.Date.Format(domain.DateLayout)))
	}

	if requests <= 0 {
		return failRow(domain.ErrorCodeInvalidRequestsCount, fmt.Sprintf("requests count must be positive, got %d", requests))
	}

	purpose, ok := ctx.Purposes[purposeID]
	if !ok {
		return failRow(domain.ErrorCodePurposeNotFound, fmt.Sprintf("purpose %s not found", purposeID))
	}

	eservice, ok := ctx.Eservices[purpose.EserviceID]
	if !ok {
		return failRow(domain.ErrorCodeEserviceNotFound, fmt.Sprintf("e-service %s not found", purpose.EserviceID))
	}

	if !purpose.ActiveOn(ctx.Date) {
		return failRow(domain.ErrorCodeEserviceNotAssociated, fmt.Sprintf(
			"e-service %s is not associated with tenant %s on %s",
			eservice.ID, ctx.TenantID, ctx.Date.Format(domain.DateLayout)))
	}

	if _, ok := ctx.Tenants[eservice.ProducerID]; !ok {
		return failRow(domain.ErrorCodeProducerNotFound, fmt.Sprintf("producer %s not found", eservice.ProducerID))
	}

	if _, ok := ctx.Tenants[purpose.ConsumerID]; !ok {
		return failRow(domain.ErrorCodeConsumerNotFound, fmt.Sprintf("consumer %s not found", purpose.ConsumerID))
	}

	if ctx.TenantID != eservice.ProducerID && ctx.TenantID != purpose.ConsumerID {
		return failRow(domain.ErrorCodeTenantIsNotProducerOrConsumer, fmt.Sprintf(
			"tenant %s is neither producer nor consumer of e-service %s", ctx.TenantID, eservice.ID))
	}

	return RowOutcome{
		RowNumber: row.RowNumber,
		Row: &ValidRow{
			RowNumber:     row.RowNumber,
			PurposeID:     purposeID,
			EserviceID:    eservice.ID,
			ProducerID:    eservice.ProducerID,
			ConsumerID:    purpose.ConsumerID,
			Status:        status,
			RequestsCount: requests,
			Date:          domain.NormalizeDate(rowDate),
		},
	}
}

// MarkDuplicates enforces (purposeId, status) uniqueness within one file.
// Outcomes must be ordered by row number; a repeated pair invalidates the
// later-occurring row. Rows that already failed validation never claim a
// pair. The returned slice is the input, rewritten in place.
func MarkDuplicates(outcomes []RowOutcome) []RowOutcome {
	type pair struct {
		purpose uuid.UUID
		status  int
	}
	seen := make(map[pair]int)

	for i, outcome := range outcomes {
		if !outcome.Valid() {
			continue
		}
		key := pair{purpose: outcome.Row.PurposeID, status: outcome.Row.Status}
		if firstRow, dup := seen[key]; dup {
			purposeID := outcome.Row.PurposeID
			outcomes[i] = RowOutcome{
				RowNumber: outcome.RowNumber,
				Err: &RowError{
					RowNumber: outcome.RowNumber,
					Code:      domain.ErrorCodePurposeAndStatusNotUnique,
					Message: fmt.Sprintf(
						"purpose %s with status %d already reported at row %d",
						purposeID, outcome.Row.Status, firstRow),
					PurposeID: &purposeID,
					Status:    outcome.Row.Status,
				},
			}
			continue
		}
		seen[key] = outcome.RowNumber
	}

	return outcomes
}

// recognizedStatusCode reports whether the code belongs to the IANA-registered
// HTTP status set.
func recognizedStatusCode(code int) bool {
	return code >= 100 && code <= 599 && http.StatusText(code) != ""
}
