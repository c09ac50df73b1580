// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package tenancy

import "context"

type ctxKey struct{}

// WithTenant binds t to ctx so that any downstream call in the same task
// tree can fetch it without argument-threading. Child contexts inherit the
// binding; it is never stored in a package-level global.
func WithTenant(ctx context.Context, t *Tenant) context.Context {
	return context.WithValue(ctx, ctxKey{}, t)
}

// TenantFromContext retrieves the tenant bound to ctx, if any.
func TenantFromContext(ctx context.Context) (*Tenant, bool) {
	t, ok := ctx.Value(ctxKey{}).(*Tenant)
	return t, ok && t != nil
}
