package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// Error codes
const (
	CodeRadarError     = "RADAR_ERROR"
	CodeQuotaExhausted = "QUOTA_EXHAUSTED"
	CodeUpstream       = "UPSTREAM_ERROR"
	CodePersistence    = "PERSISTENCE_ERROR"
	CodeCache          = "CACHE_ERROR"
	CodeValidation     = "VALIDATION_ERROR"
	CodeNotFound       = "NOT_FOUND"
)

type RadarError struct {
	Message    string
	Code       string
	StatusCode int
	Context    map[string]any
	Cause      error
}

func (e *RadarError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *RadarError) Unwrap() error {
	return e.Cause
}

func NewRadarError(message, code string, statusCode int, context map[string]any) *RadarError {
	return &RadarError{
		Message:    message,
		Code:       code,
		StatusCode: statusCode,
		Context:    context,
	}
}

func (e *RadarError) WithCause(cause error) *RadarError {
	e.Cause = cause
	return e
}

// QuotaExhaustedError is returned before an upstream call that the daily
// budget cannot cover. It is not retryable until the ledger rolls over.
type QuotaExhaustedError struct {
	*RadarError
	Operation string
	Used      int
	Limit     int
	Requested int
	ResetAt   time.Time
}

func NewQuotaExhaustedError(operation string, used, limit, requested int, resetAt time.Time) *QuotaExhaustedError {
	return &QuotaExhaustedError{
		RadarError: &RadarError{
			Message: fmt.Sprintf("quota exhausted for %s: used %d/%d, requested %d", operation, used, limit, requested),
			Code:    CodeQuotaExhausted,
			Context: map[string]any{
				"operation": operation,
				"used":      used,
				"limit":     limit,
				"requested": requested,
			},
			StatusCode: 429,
		},
		Operation: operation,
		Used:      used,
		Limit:     limit,
		Requested: requested,
		ResetAt:   resetAt,
	}
}

type UpstreamError struct {
	*RadarError
	Operation string
	Resource  string
}

func NewUpstreamError(message, operation, resource string, statusCode int, cause error) *UpstreamError {
	return &UpstreamError{
		RadarError: &RadarError{
			Message:    message,
			Code:       CodeUpstream,
			StatusCode: statusCode,
			Context: map[string]any{
				"operation": operation,
				"resource":  resource,
			},
			Cause: cause,
		},
		Operation: operation,
		Resource:  resource,
	}
}

type NotFoundError struct {
	*RadarError
	Resource string
}

func NewNotFoundError(resource string) *NotFoundError {
	return &NotFoundError{
		RadarError: &RadarError{
			Message:    fmt.Sprintf("%s not found", resource),
			Code:       CodeNotFound,
			StatusCode: 404,
			Context:    map[string]any{"resource": resource},
		},
		Resource: resource,
	}
}

type PersistenceError struct {
	*RadarError
	Operation string
	Table     string
}

func NewPersistenceError(message, operation, table string, cause error) *PersistenceError {
	return &PersistenceError{
		RadarError: &RadarError{
			Message:    message,
			Code:       CodePersistence,
			StatusCode: 500,
			Context: map[string]any{
				"operation": operation,
				"table":     table,
			},
			Cause: cause,
		},
		Operation: operation,
		Table:     table,
	}
}

type CacheError struct {
	*RadarError
	Operation string
	Key       string
}

func NewCacheError(message, operation, key string, cause error) *CacheError {
	return &CacheError{
		RadarError: &RadarError{
			Message:    message,
			Code:       CodeCache,
			StatusCode: 500,
			Context: map[string]any{
				"operation": operation,
				"key":       key,
			},
			Cause: cause,
		},
		Operation: operation,
		Key:       key,
	}
}

type ValidationError struct {
	*RadarError
	Field string
	Value interface{}
}

func NewValidationError(message, field string, value interface{}) *ValidationError {
	return &ValidationError{
		RadarError: &RadarError{
			Message:    message,
			Code:       CodeValidation,
			StatusCode: 400,
			Context: map[string]any{
				"field": field,
				"value": value,
			},
		},
		Field: field,
		Value: value,
	}
}

// IsQuotaExhausted reports whether err (or anything it wraps) is a quota stop.
func IsQuotaExhausted(err error) bool {
	var qe *QuotaExhaustedError
	return stderrors.As(err, &qe)
}

func IsNotFound(err error) bool {
	var nf *NotFoundError
	return stderrors.As(err, &nf)
}

// Code extracts the error code from a RadarError chain, or "" for foreign errors.
func Code(err error) string {
	var qe *QuotaExhaustedError
	if stderrors.As(err, &qe) {
		return qe.Code
	}
	var ue *UpstreamError
	if stderrors.As(err, &ue) {
		return ue.Code
	}
	var nf *NotFoundError
	if stderrors.As(err, &nf) {
		return nf.Code
	}
	var pe *PersistenceError
	if stderrors.As(err, &pe) {
		return pe.Code
	}
	var ce *CacheError
	if stderrors.As(err, &ce) {
		return ce.Code
	}
	var ve *ValidationError
	if stderrors.As(err, &ve) {
		return ve.Code
	}
	var re *RadarError
	if stderrors.As(err, &re) {
		return re.Code
	}
	return ""
}
