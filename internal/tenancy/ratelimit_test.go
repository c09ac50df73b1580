// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package tenancy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_AllowsWithinWindowThenBlocks(t *testing.T) {
	l := NewRateLimiter(RateLimiterConfig{
		Default: PlanLimit{RequestsPerWindow: 2, WindowDuration: time.Minute},
	})
	tenant := &Tenant{ID: "t1", Plan: PlanFree}
	now := time.Unix(0, 0)

	ok, _ := l.Allow(tenant, "", now)
	assert.True(t, ok)
	ok, _ = l.Allow(tenant, "", now)
	assert.True(t, ok)
	ok, retryAfter := l.Allow(tenant, "", now)
	assert.False(t, ok)
	assert.Greater(t, retryAfter, time.Duration(0))
}

func TestRateLimiter_WindowResetsAfterDuration(t *testing.T) {
	l := NewRateLimiter(RateLimiterConfig{
		Default: PlanLimit{RequestsPerWindow: 1, WindowDuration: time.Minute},
	})
	tenant := &Tenant{ID: "t1", Plan: PlanFree}
	now := time.Unix(0, 0)

	ok, _ := l.Allow(tenant, "", now)
	assert.True(t, ok)
	ok, _ = l.Allow(tenant, "", now)
	assert.False(t, ok)

	later := now.Add(time.Minute + time.Second)
	ok, _ = l.Allow(tenant, "", later)
	assert.True(t, ok)
}

func TestRateLimiter_PlanSpecificLimitOverridesDefault(t *testing.T) {
	l := NewRateLimiter(RateLimiterConfig{
		Default: PlanLimit{RequestsPerWindow: 1, WindowDuration: time.Minute},
		Plans: map[Plan]PlanLimit{
			PlanEnterprise: {RequestsPerWindow: 100, WindowDuration: time.Minute},
		},
	})
	tenant := &Tenant{ID: "t1", Plan: PlanEnterprise}
	now := time.Unix(0, 0)

	for i := 0; i < 10; i++ {
		ok, _ := l.Allow(tenant, "", now)
		assert.True(t, ok)
	}
}

func TestRateLimiter_SubKeyPartitionsBudgetIndependently(t *testing.T) {
	l := NewRateLimiter(RateLimiterConfig{
		Default: PlanLimit{RequestsPerWindow: 1, WindowDuration: time.Minute},
	})
	tenant := &Tenant{ID: "t1", Plan: PlanFree}
	now := time.Unix(0, 0)

	ok, _ := l.Allow(tenant, "conn-a", now)
	assert.True(t, ok)
	ok, _ = l.Allow(tenant, "conn-b", now)
	assert.True(t, ok)
	ok, _ = l.Allow(tenant, "conn-a", now)
	assert.False(t, ok)
}

func TestRateLimiter_ZeroLimitMeansUnbounded(t *testing.T) {
	l := NewRateLimiter(RateLimiterConfig{Default: PlanLimit{RequestsPerWindow: 0}})
	tenant := &Tenant{ID: "t1"}
	now := time.Unix(0, 0)
	for i := 0; i < 100; i++ {
		ok, _ := l.Allow(tenant, "", now)
		assert.True(t, ok)
	}
}

func TestRateLimiter_EnforceReturnsRetriableError(t *testing.T) {
	l := NewRateLimiter(RateLimiterConfig{
		Default: PlanLimit{RequestsPerWindow: 1, WindowDuration: time.Minute},
	})
	tenant := &Tenant{ID: "t1"}
	now := time.Unix(0, 0)

	require.NoError(t, l.Enforce(tenant, "", now))
	err := l.Enforce(tenant, "", now)
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeRateLimitExceeded))

	var te *Error
	require.ErrorAs(t, err, &te)
	require.NotNil(t, te.RetryAfter)
}

func TestRateLimiter_CapacityEvictsLeastRecentlyTouched(t *testing.T) {
	l := NewRateLimiter(RateLimiterConfig{
		Default:     PlanLimit{RequestsPerWindow: 10, WindowDuration: time.Minute},
		MapCapacity: 2,
	})
	now := time.Unix(0, 0)

	l.Allow(&Tenant{ID: "t1"}, "", now)
	l.Allow(&Tenant{ID: "t2"}, "", now)
	l.Allow(&Tenant{ID: "t3"}, "", now)

	assert.Equal(t, 2, l.Size())
	_, stillTracked := l.windows[rateLimitKey("t1", "")]
	assert.False(t, stillTracked, "t1 was touched least recently and is evicted")
}

func TestRateLimiter_ResetClearsWindow(t *testing.T) {
	l := NewRateLimiter(RateLimiterConfig{
		Default: PlanLimit{RequestsPerWindow: 1, WindowDuration: time.Minute},
	})
	tenant := &Tenant{ID: "t1"}
	now := time.Unix(0, 0)

	ok, _ := l.Allow(tenant, "", now)
	require.True(t, ok)
	ok, _ = l.Allow(tenant, "", now)
	require.False(t, ok)

	l.Reset("t1", "")
	ok, _ = l.Allow(tenant, "", now)
	assert.True(t, ok)
}
