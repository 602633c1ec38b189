package domain

import (
	"time"

	"github.com/google/uuid"
)

// PurposeError is one persisted row-level validation failure. PurposeID is
// nil when the row failed before a purpose could be extracted. Version is the
// tracing version the error set was recorded against; the set for a
// (tracing, version) pair is immutable once written.
type PurposeError struct {
	ID        uuid.UUID  `json:"id"`
	TracingID uuid.UUID  `json:"tracing_id"`
	PurposeID *uuid.UUID `json:"purpose_id,omitempty"`
	RowNumber int        `json:"row_number"`
	ErrorCode ErrorCode  `json:"error_code"`
	Message   string     `json:"message"`
	Date      time.Time  `json:"date"`
	Status    int        `json:"status"`
	Version   int        `json:"version"`
	CreatedAt time.Time  `json:"created_at"`
}

// NewPurposeError builds the persisted record for a classified row failure.
// Every pipeline stage goes through this single constructor so detail
// formatting stays uniform across the taxonomy.
func NewPurposeError(tracingID uuid.UUID, code ErrorCode, message string, rowNumber int, date time.Time) PurposeError {
	return PurposeError{
		ID:        uuid.New(),
		TracingID: tracingID,
		RowNumber: rowNumber,
		ErrorCode: code,
		Message:   message,
		Date:      NormalizeDate(date),
	}
}

// WithPurpose attaches the purpose extracted from the offending row.
func (e PurposeError) WithPurpose(purposeID uuid.UUID) PurposeError {
	e.PurposeID = &purposeID
	return e
}

// WithStatus attaches the HTTP status extracted from the offending row.
func (e PurposeError) WithStatus(status int) PurposeError {
	e.Status = status
	return e
}
