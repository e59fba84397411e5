package dto

import "net/http"

// Error codes are the domain error codes themselves, so clients see the same
// code the engine raised.

// General error codes
const (
	// ErrCodeInternal is used for internal server errors
	ErrCodeInternal = "INTERNAL_ERROR"
	// ErrCodeServiceUnavailable is used when a dependency such as the database is down
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
)

// Input error codes
const (
	// ErrCodeBadRequest is used for malformed requests
	ErrCodeBadRequest = "BAD_REQUEST"
	// ErrCodeInvalidJSON is used when JSON parsing fails
	ErrCodeInvalidJSON = "INVALID_JSON"
	// ErrCodeValidation is used when binding validation fails
	ErrCodeValidation = "VALIDATION_ERROR"
	// ErrCodeInvalidInput is used for invalid commercial terms or requests
	ErrCodeInvalidInput = "INVALID_INPUT"
	// ErrCodeInvalidEntry is used when an allocation line is malformed
	ErrCodeInvalidEntry = "INVALID_ENTRY"
	// ErrCodeRequestTooLarge is used when the body exceeds the configured limit
	ErrCodeRequestTooLarge = "REQUEST_TOO_LARGE"
)

// Resource error codes
const (
	// ErrCodeNotFound is used when a resource is not found
	ErrCodeNotFound = "NOT_FOUND"
	// ErrCodeAlreadyExists is used when an idempotency key is already taken
	ErrCodeAlreadyExists = "ALREADY_EXISTS"
	// ErrCodeConcurrentModification is used when balances moved under a planned allocation
	ErrCodeConcurrentModification = "CONCURRENT_MODIFICATION"
	// ErrCodeLockNotAcquired is used when the counterparty lock stays busy
	ErrCodeLockNotAcquired = "LOCK_NOT_ACQUIRED"
)

// Allocation rule error codes
const (
	// ErrCodeNoOpenObligations is used when nothing is pending for the thread and direction
	ErrCodeNoOpenObligations = "NO_OPEN_OBLIGATIONS"
	// ErrCodeOverallocation is used when the amount exceeds the total pending
	ErrCodeOverallocation = "OVERALLOCATION"
	// ErrCodeAllocationSumMismatch is used when the lines do not add up to the cash amount
	ErrCodeAllocationSumMismatch = "ALLOCATION_SUM_MISMATCH"
	// ErrCodeInvalidStatusTransition is used when a payment status would move backwards
	ErrCodeInvalidStatusTransition = "INVALID_STATUS_TRANSITION"
)

// Rate limiting error codes
const (
	// ErrCodeRateLimited is used when rate limit is exceeded
	ErrCodeRateLimited = "RATE_LIMITED"
)

// ErrorCodeHTTPStatus maps error codes to HTTP status codes
var ErrorCodeHTTPStatus = map[string]int{
	ErrCodeInternal:           http.StatusInternalServerError,
	ErrCodeServiceUnavailable: http.StatusServiceUnavailable,

	// Input errors -> 400 Bad Request
	ErrCodeBadRequest:      http.StatusBadRequest,
	ErrCodeInvalidJSON:     http.StatusBadRequest,
	ErrCodeValidation:      http.StatusBadRequest,
	ErrCodeInvalidInput:    http.StatusBadRequest,
	ErrCodeInvalidEntry:    http.StatusBadRequest,
	ErrCodeRequestTooLarge: http.StatusRequestEntityTooLarge,

	// Resource errors
	ErrCodeNotFound:               http.StatusNotFound,
	ErrCodeAlreadyExists:          http.StatusConflict,
	ErrCodeConcurrentModification: http.StatusConflict,
	ErrCodeLockNotAcquired:        http.StatusConflict,

	// Allocation rules -> 422 Unprocessable Entity
	ErrCodeNoOpenObligations:       http.StatusUnprocessableEntity,
	ErrCodeOverallocation:          http.StatusUnprocessableEntity,
	ErrCodeAllocationSumMismatch:   http.StatusUnprocessableEntity,
	ErrCodeInvalidStatusTransition: http.StatusUnprocessableEntity,

	ErrCodeRateLimited: http.StatusTooManyRequests,
}

// GetHTTPStatus returns the HTTP status code for an error code
// Returns 500 Internal Server Error if the error code is not found
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// ErrorCodeAliases maps generic shared error codes onto the ledger codes
var ErrorCodeAliases = map[string]string{
	"CONCURRENCY_CONFLICT": ErrCodeConcurrentModification,
	"INVALID_STATE":        ErrCodeInvalidStatusTransition,
}

// NormalizeErrorCode resolves aliases. Other codes are returned as-is.
func NormalizeErrorCode(code string) string {
	if canonical, ok := ErrorCodeAliases[code]; ok {
		return canonical
	}
	return code
}
