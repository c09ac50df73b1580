// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package admission

import (
	"fmt"
	"net/http"

	"github.com/ManuGH/xg2g/internal/control/http/problem"
	"github.com/ManuGH/xg2g/internal/tenancy"
)

// Admission Control Problem Codes (Stable)
const (
	CodeTenantNotFound      = tenancy.CodeTenantNotFound
	CodeTenantSuspended     = tenancy.CodeTenantSuspended
	CodeConnectionLimitFull = "ADMISSION_CONNECTION_LIMIT_FULL"
	CodeChannelLimitFull    = "ADMISSION_CHANNEL_LIMIT_FULL"
	CodeRateLimitExceeded   = tenancy.CodeRateLimitExceeded
	CodeQuotaExceeded       = tenancy.CodeQuotaExceeded
)

// Problem is a lightweight wrapper around RFC7807 data for internal passing.
// This allows the admission gate to return a pure error value that the
// transport layer can convert to a wire response using problem.Write.
type Problem struct {
	Status     int
	Type       string
	Title      string
	Code       string
	Detail     string
	Extra      map[string]any
	RetryAfter int // seconds, 0 means omit
}

func (p *Problem) Error() string {
	return fmt.Sprintf("[%s] %s: %s", p.Code, p.Title, p.Detail)
}

// NewTenantNotFound returns a 404 problem when the resolved slug has no
// matching tenant.
func NewTenantNotFound(slug string) *Problem {
	return &Problem{
		Status: http.StatusNotFound,
		Type:   "admission/tenant-not-found",
		Title:  "Tenant not found",
		Code:   CodeTenantNotFound,
		Detail: "No tenant matches the resolved identifier.",
		Extra:  map[string]any{"slug": slug},
	}
}

// NewTenantSuspended returns a 403 problem when the tenant's account is
// suspended.
func NewTenantSuspended(tenantID string) *Problem {
	return &Problem{
		Status: http.StatusForbidden,
		Type:   "admission/tenant-suspended",
		Title:  "Tenant suspended",
		Code:   CodeTenantSuspended,
		Detail: "This tenant's account is suspended.",
		Extra:  map[string]any{"tenant_id": tenantID},
	}
}

// NewConnectionLimitFull returns a 503 problem when a tenant's plan-derived
// concurrent connection ceiling is reached.
func NewConnectionLimitFull(current, limit int) *Problem {
	return &Problem{
		Status: http.StatusServiceUnavailable,
		Type:   "admission/connection-limit-full",
		Title:  "Connection capacity exceeded",
		Code:   CodeConnectionLimitFull,
		Detail: "Maximum number of concurrent connections reached for this tenant's plan.",
		Extra: map[string]any{
			"current": current,
			"limit":   limit,
		},
	}
}

// NewChannelLimitFull returns a 503 problem when a tenant's plan-derived
// channel ceiling is reached.
func NewChannelLimitFull(current, limit int) *Problem {
	return &Problem{
		Status: http.StatusServiceUnavailable,
		Type:   "admission/channel-limit-full",
		Title:  "Channel capacity exceeded",
		Code:   CodeChannelLimitFull,
		Detail: "Maximum number of channels reached for this tenant's plan.",
		Extra: map[string]any{
			"current": current,
			"limit":   limit,
		},
	}
}

// NewRateLimitExceeded returns a 429 problem wrapping a *tenancy.Error that
// already carries a retry-after hint.
func NewRateLimitExceeded(err *tenancy.Error) *Problem {
	p := &Problem{
		Status: http.StatusTooManyRequests,
		Type:   "admission/rate-limit-exceeded",
		Title:  "Rate limit exceeded",
		Code:   CodeRateLimitExceeded,
		Detail: err.Message,
	}
	if err.RetryAfter != nil {
		p.RetryAfter = int(err.RetryAfter.Seconds())
	}
	return p
}

// NewQuotaExceeded returns a 429 problem wrapping a *tenancy.Error raised by
// LimitEnforcer.
func NewQuotaExceeded(err *tenancy.Error) *Problem {
	p := &Problem{
		Status: http.StatusTooManyRequests,
		Type:   "admission/quota-exceeded",
		Title:  "Quota exceeded",
		Code:   CodeQuotaExceeded,
		Detail: err.Message,
	}
	if err.RetryAfter != nil {
		p.RetryAfter = int(err.RetryAfter.Seconds())
	}
	return p
}

// FromTenantError translates a *tenancy.Error surfaced by TenantResolver or
// LimitEnforcer into the equivalent wire Problem.
func FromTenantError(err *tenancy.Error) *Problem {
	switch err.Code {
	case tenancy.CodeTenantNotFound:
		return NewTenantNotFound(err.Message)
	case tenancy.CodeTenantSuspended:
		return NewTenantSuspended(err.Message)
	case tenancy.CodeRateLimitExceeded:
		return NewRateLimitExceeded(err)
	case tenancy.CodeQuotaExceeded, tenancy.CodeLimitExceeded:
		return NewQuotaExceeded(err)
	default:
		return &Problem{
			Status: http.StatusForbidden,
			Type:   "admission/tenant-access-denied",
			Title:  "Access denied",
			Code:   err.Code,
			Detail: err.Message,
		}
	}
}

// WriteProblem converts an admission.Problem to an HTTP response using the
// standard problem package.
func WriteProblem(w http.ResponseWriter, r *http.Request, p *Problem) {
	if p.RetryAfter > 0 {
		w.Header().Set("Retry-After", fmt.Sprintf("%d", p.RetryAfter))
	}
	problem.Write(w, r, p.Status, p.Type, p.Title, p.Code, p.Detail, p.Extra)
}
