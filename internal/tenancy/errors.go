// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package tenancy

import "time"

// Error codes surfaced by the admission plane. Mirrors internal/wire.Error's
// shape so the two error taxonomies compose cleanly at the HTTP edge.
const (
	CodeTenantNotFound     = "TENANT_NOT_FOUND"
	CodeTenantSuspended    = "TENANT_SUSPENDED"
	CodeTenantAccessDenied = "TENANT_ACCESS_DENIED"
	CodeLimitExceeded      = "LIMIT_EXCEEDED"
	CodeQuotaExceeded      = "QUOTA_EXCEEDED"
	CodeRateLimitExceeded  = "RATE_LIMIT_EXCEEDED"
	CodeInvalidSlug        = "INVALID_SLUG"
	CodeAlreadyExists      = "ALREADY_EXISTS"
	CodeInternalError      = "INTERNAL_ERROR"
)

// Error is the admission plane's failure shape.
type Error struct {
	Code       string
	Message    string
	RetryAfter *time.Duration
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return e.Code + ": " + e.Message
}

// NewError builds a non-retriable Error.
func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NewRetriableError builds an Error carrying a retryAfter hint.
func NewRetriableError(code, message string, retryAfter time.Duration) *Error {
	return &Error{Code: code, Message: message, RetryAfter: &retryAfter}
}

// IsCode reports whether err is an *Error with the given code.
func IsCode(err error, code string) bool {
	te, ok := err.(*Error)
	return ok && te != nil && te.Code == code
}
