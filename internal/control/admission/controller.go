// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package admission evaluates whether an inbound connection request should
// be admitted onto the realtime session core, given the resolved tenant's
// plan limits and the connection registry's current occupancy.
package admission

import (
	"context"

	"github.com/ManuGH/xg2g/internal/config"
	"github.com/ManuGH/xg2g/internal/metrics"
	"github.com/ManuGH/xg2g/internal/tenancy"
)

// Decision represents the outcome of an admission check.
type Decision struct {
	Allow   bool
	Problem *Problem
}

// Request represents the input needed for an admission decision.
type Request struct {
	ChannelsRequested int
}

// RuntimeState encapsulates the tenant's current occupancy against the
// realtime session core, as observed from the connection registry and
// channel router at the moment of the request.
type RuntimeState struct {
	ActiveConnections int
	ActiveChannels    int
}

// CapacityController abstracts the admission logic.
type CapacityController interface {
	Check(ctx context.Context, tenant *tenancy.Tenant, req Request, state RuntimeState) Decision
}

// Controller implements CapacityController with deterministic,
// plan-derived connection and channel ceilings. An unrecognized plan falls
// back to cfg.Default.
//
// Rules (strict order):
//  1. Tenant suspended -> reject
//  2. MaxConnections exceeded -> reject
//  3. MaxChannels exceeded by this request -> reject
//  4. Allow
type Controller struct {
	cfg config.RateLimitConfig
}

// NewController builds a Controller from the admission edge's rate-limit
// configuration, which also carries the per-plan connection/channel
// ceilings.
func NewController(cfg config.RateLimitConfig) *Controller {
	return &Controller{cfg: cfg}
}

func (c *Controller) limitsFor(plan tenancy.Plan) config.PlanLimits {
	if pl, ok := c.cfg.Plans[string(plan)]; ok {
		return pl
	}
	return c.cfg.Default
}

// Check evaluates whether tenant may open another connection given state.
func (c *Controller) Check(ctx context.Context, tenant *tenancy.Tenant, req Request, state RuntimeState) Decision {
	if tenant.Status == tenancy.StatusSuspended {
		metrics.RecordAdmissionReject(CodeTenantSuspended)
		return Decision{Allow: false, Problem: NewTenantSuspended(tenant.ID)}
	}

	limits := c.limitsFor(tenant.Plan)

	if limits.MaxConnections > 0 && state.ActiveConnections >= limits.MaxConnections {
		metrics.RecordAdmissionReject(CodeConnectionLimitFull)
		return Decision{Allow: false, Problem: NewConnectionLimitFull(state.ActiveConnections, limits.MaxConnections)}
	}

	if req.ChannelsRequested > 0 && limits.MaxChannels > 0 && state.ActiveChannels+req.ChannelsRequested > limits.MaxChannels {
		metrics.RecordAdmissionReject(CodeChannelLimitFull)
		return Decision{Allow: false, Problem: NewChannelLimitFull(state.ActiveChannels, limits.MaxChannels)}
	}

	metrics.RecordAdmissionAllow(string(tenant.Plan))
	return Decision{Allow: true}
}
