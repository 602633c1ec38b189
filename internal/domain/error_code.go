package domain

// ErrorCode identifies one member of the closed row-level error taxonomy.
// Codes are persisted and returned to API consumers: they are never renamed
// or reused for a different meaning, only appended to.
type ErrorCode string

const (
	ErrorCodeInvalidRowSchema               ErrorCode = "INVALID_ROW_SCHEMA"
	ErrorCodeInvalidStatusCode              ErrorCode = "INVALID_STATUS_CODE"
	ErrorCodeInvalidPurpose                 ErrorCode = "INVALID_PURPOSE"
	ErrorCodeInvalidDate                    ErrorCode = "INVALID_DATE"
	ErrorCodeInvalidRequestsCount           ErrorCode = "INVALID_REQUEST_COUNT"
	ErrorCodeEserviceNotAssociated          ErrorCode = "ESERVICE_NOT_ASSOCIATED"
	ErrorCodeEserviceNotFound               ErrorCode = "ESERVICE_NOT_FOUND"
	ErrorCodeConsumerNotFound               ErrorCode = "CONSUMER_NOT_FOUND"
	ErrorCodeProducerNotFound               ErrorCode = "PRODUCER_NOT_FOUND"
	ErrorCodeTenantIsNotProducerOrConsumer  ErrorCode = "TENANT_IS_NOT_PRODUCER_OR_CONSUMER"
	ErrorCodePurposeNotFound                ErrorCode = "PURPOSE_NOT_FOUND"
	ErrorCodePurposeAndStatusNotUnique      ErrorCode = "PURPOSE_AND_STATUS_NOT_UNIQUE"
)

// knownErrorCodes keeps the closed set checkable at the serialization boundary.
var knownErrorCodes = map[ErrorCode]struct{}{
	ErrorCodeInvalidRowSchema:              {},
	ErrorCodeInvalidStatusCode:             {},
	ErrorCodeInvalidPurpose:                {},
	ErrorCodeInvalidDate:                   {},
	ErrorCodeInvalidRequestsCount:          {},
	ErrorCodeEserviceNotAssociated:         {},
	ErrorCodeEserviceNotFound:              {},
	ErrorCodeConsumerNotFound:              {},
	ErrorCodeProducerNotFound:              {},
	ErrorCodeTenantIsNotProducerOrConsumer: {},
	ErrorCodePurposeNotFound:               {},
	ErrorCodePurposeAndStatusNotUnique:     {},
}

// Valid reports whether the code belongs to the taxonomy.
func (c ErrorCode) Valid() bool {
	_, ok := knownErrorCodes[c]
	return ok
}
