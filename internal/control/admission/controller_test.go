// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package admission

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/xg2g/internal/config"
	"github.com/ManuGH/xg2g/internal/tenancy"
)

func testRateLimitConfig() config.RateLimitConfig {
	return config.RateLimitConfig{
		Plans: map[string]config.PlanLimits{
			"PRO": {MaxConnections: 100, MaxChannels: 20},
		},
		Default: config.PlanLimits{MaxConnections: 5, MaxChannels: 2},
	}
}

func testTenant(plan tenancy.Plan, status tenancy.Status) *tenancy.Tenant {
	return &tenancy.Tenant{ID: "t-1", Slug: "acme", Plan: plan, Status: status}
}

func TestAdmissionController(t *testing.T) {
	tests := []struct {
		name       string
		tenant     *tenancy.Tenant
		state      RuntimeState
		req        Request
		wantAllow  bool
		wantCode   string
		wantStatus int
	}{
		{
			name:      "Allow: within plan limits",
			tenant:    testTenant(tenancy.PlanPro, tenancy.StatusActive),
			state:     RuntimeState{ActiveConnections: 10, ActiveChannels: 1},
			req:       Request{},
			wantAllow: true,
		},
		{
			name:       "Reject: tenant suspended",
			tenant:     testTenant(tenancy.PlanPro, tenancy.StatusSuspended),
			state:      RuntimeState{},
			req:        Request{},
			wantAllow:  false,
			wantCode:   CodeTenantSuspended,
			wantStatus: 403,
		},
		{
			name:       "Reject: connection limit full (default plan)",
			tenant:     testTenant(tenancy.PlanFree, tenancy.StatusActive),
			state:      RuntimeState{ActiveConnections: 5},
			req:        Request{},
			wantAllow:  false,
			wantCode:   CodeConnectionLimitFull,
			wantStatus: 503,
		},
		{
			name:       "Reject: channel limit exceeded by request",
			tenant:     testTenant(tenancy.PlanFree, tenancy.StatusActive),
			state:      RuntimeState{ActiveConnections: 1, ActiveChannels: 2},
			req:        Request{ChannelsRequested: 1},
			wantAllow:  false,
			wantCode:   CodeChannelLimitFull,
			wantStatus: 503,
		},
		{
			name:      "Allow: unrecognized plan falls back to default and is within it",
			tenant:    testTenant(tenancy.Plan("UNKNOWN"), tenancy.StatusActive),
			state:     RuntimeState{ActiveConnections: 1},
			req:       Request{},
			wantAllow: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ctrl := NewController(testRateLimitConfig())
			decision := ctrl.Check(context.Background(), tc.tenant, tc.req, tc.state)

			if tc.wantAllow {
				assert.True(t, decision.Allow)
				assert.Nil(t, decision.Problem)
				return
			}
			assert.False(t, decision.Allow)
			require.NotNil(t, decision.Problem)
			assert.Equal(t, tc.wantCode, decision.Problem.Code)
			assert.Equal(t, tc.wantStatus, decision.Problem.Status)
			assert.NotEmpty(t, decision.Problem.Title)
			assert.NotEmpty(t, decision.Problem.Detail)
		})
	}
}

func TestControllerHighConnectionPlanNeverFullAtZero(t *testing.T) {
	ctrl := NewController(config.RateLimitConfig{Default: config.PlanLimits{MaxConnections: 0, MaxChannels: 0}})
	tenant := testTenant(tenancy.PlanEnterprise, tenancy.StatusActive)
	decision := ctrl.Check(context.Background(), tenant, Request{ChannelsRequested: 1000}, RuntimeState{ActiveConnections: 999999})
	assert.True(t, decision.Allow, "MaxConnections/MaxChannels == 0 means unbounded, not zero capacity")
}
