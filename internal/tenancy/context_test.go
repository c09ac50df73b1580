// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package tenancy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTenantContext_RoundTrip(t *testing.T) {
	tenant := &Tenant{ID: "t1", Slug: "acme"}
	ctx := WithTenant(context.Background(), tenant)

	got, ok := TenantFromContext(ctx)
	assert.True(t, ok)
	assert.Same(t, tenant, got)
}

func TestTenantContext_MissingReturnsFalse(t *testing.T) {
	_, ok := TenantFromContext(context.Background())
	assert.False(t, ok)
}

func TestErrorTaxonomy(t *testing.T) {
	err := NewError(CodeTenantNotFound, "tenant not found")
	assert.True(t, IsCode(err, CodeTenantNotFound))
	assert.False(t, IsCode(err, CodeLimitExceeded))
	assert.Equal(t, "TENANT_NOT_FOUND: tenant not found", err.Error())

	var plain error = context.Canceled
	assert.False(t, IsCode(plain, CodeTenantNotFound))
}
