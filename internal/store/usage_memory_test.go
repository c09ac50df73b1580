// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/xg2g/internal/tenancy"
)

func TestMemoryUsageStorage_IncrementAndGet(t *testing.T) {
	s := NewMemoryUsageStorage()
	ctx := context.Background()

	total, err := s.Increment(ctx, "t1", "api_calls", tenancy.PeriodMonth, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)

	total, err = s.Increment(ctx, "t1", "api_calls", tenancy.PeriodMonth, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)

	got, err := s.Get(ctx, "t1", "api_calls", tenancy.PeriodMonth)
	require.NoError(t, err)
	assert.Equal(t, int64(5), got)
}

func TestMemoryUsageStorage_GetAllScopesToTenantAndPeriod(t *testing.T) {
	s := NewMemoryUsageStorage()
	ctx := context.Background()

	_, err := s.Increment(ctx, "t1", "api_calls", tenancy.PeriodMonth, 1)
	require.NoError(t, err)
	_, err = s.Increment(ctx, "t1", "storage_mb", tenancy.PeriodMonth, 2)
	require.NoError(t, err)
	_, err = s.Increment(ctx, "t2", "api_calls", tenancy.PeriodMonth, 9)
	require.NoError(t, err)

	all, err := s.GetAll(ctx, "t1", tenancy.PeriodMonth)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"api_calls": 1, "storage_mb": 2}, all)
}

func TestMemoryUsageStorage_Reset(t *testing.T) {
	s := NewMemoryUsageStorage()
	ctx := context.Background()

	_, err := s.Increment(ctx, "t1", "api_calls", tenancy.PeriodMonth, 5)
	require.NoError(t, err)
	require.NoError(t, s.Reset(ctx, "t1", "api_calls", tenancy.PeriodMonth))

	got, err := s.Get(ctx, "t1", "api_calls", tenancy.PeriodMonth)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got)
}
