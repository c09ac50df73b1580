// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package tenancy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ManuGH/xg2g/internal/metrics"
)

// Period bounds a usage counter's reset cadence.
type Period string

const (
	PeriodMinute Period = "minute"
	PeriodHour   Period = "hour"
	PeriodDay    Period = "day"
	PeriodMonth  Period = "month"
)

// UsageStorage is the persistence contract for per-tenant metric counters.
// Implementations (store.MemoryUsageStorage, store.RedisUsageStorage) own
// the period-keyed bucketing; the tracker only deals in (tenant, metric,
// period) triples.
type UsageStorage interface {
	Increment(ctx context.Context, tenantID, metric string, period Period, delta int64) (int64, error)
	Get(ctx context.Context, tenantID, metric string, period Period) (int64, error)
	GetAll(ctx context.Context, tenantID string, period Period) (map[string]int64, error)
	Reset(ctx context.Context, tenantID, metric string, period Period) error
}

// ThresholdListener is notified when a tenant's usage of a metric crosses
// one of the tracker's alert thresholds.
type ThresholdListener func(tenantID, metric string, percentage int, current, limit int64)

var defaultAlertThresholds = []int{80, 90, 100}

// UsageTracker records per-tenant consumption and fires ThresholdListener
// callbacks as usage crosses configured percentage-of-limit thresholds.
type UsageTracker struct {
	storage    UsageStorage
	thresholds []int

	mu        sync.Mutex
	listeners []ThresholdListener
	// fired remembers the highest threshold already reported for a
	// (tenantID, metric, period) triple, so a listener is not re-invoked
	// on every increment once a threshold has been crossed.
	fired map[string]int
}

// NewUsageTracker builds a tracker over storage. Pass nil thresholds to use
// the default {80, 90, 100}.
func NewUsageTracker(storage UsageStorage, thresholds []int) *UsageTracker {
	if len(thresholds) == 0 {
		thresholds = defaultAlertThresholds
	}
	return &UsageTracker{
		storage:    storage,
		thresholds: thresholds,
		fired:      make(map[string]int),
	}
}

// OnThreshold registers a callback invoked when usage crosses a threshold.
func (t *UsageTracker) OnThreshold(fn ThresholdListener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, fn)
}

func fireKey(tenantID, metric string, period Period) string {
	return tenantID + "|" + metric + "|" + string(period)
}

// Increment records delta units of metric consumption for tenantID and
// reports the new total, firing threshold callbacks against limit if it is
// greater than zero.
func (t *UsageTracker) Increment(ctx context.Context, tenantID, metric string, period Period, delta, limit int64) (int64, error) {
	current, err := t.storage.Increment(ctx, tenantID, metric, period, delta)
	if err != nil {
		return 0, fmt.Errorf("increment usage: %w", err)
	}
	if limit > 0 {
		t.checkThresholds(tenantID, metric, period, current, limit)
	}
	return current, nil
}

func (t *UsageTracker) checkThresholds(tenantID, metric string, period Period, current, limit int64) {
	percentage := int(current * 100 / limit)
	key := fireKey(tenantID, metric, period)

	t.mu.Lock()
	highest := t.fired[key]
	var crossed int
	for _, threshold := range t.thresholds {
		if percentage >= threshold && threshold > highest {
			crossed = threshold
		}
	}
	if crossed > 0 {
		t.fired[key] = crossed
	}
	listeners := append([]ThresholdListener(nil), t.listeners...)
	t.mu.Unlock()

	if crossed == 0 {
		return
	}
	metrics.RecordUsageThreshold(metric, crossed)
	for _, l := range listeners {
		l(tenantID, metric, crossed, current, limit)
	}
}

// GetUsage returns the current counter for (tenantID, metric, period).
func (t *UsageTracker) GetUsage(ctx context.Context, tenantID, metric string, period Period) (int64, error) {
	return t.storage.Get(ctx, tenantID, metric, period)
}

// GetAllUsage returns every metric counter tracked for tenantID in period.
func (t *UsageTracker) GetAllUsage(ctx context.Context, tenantID string, period Period) (map[string]int64, error) {
	return t.storage.GetAll(ctx, tenantID, period)
}

// ResetUsage clears a single counter, typically called by a scheduled job
// rolling a period over.
func (t *UsageTracker) ResetUsage(ctx context.Context, tenantID, metric string, period Period) error {
	key := fireKey(tenantID, metric, period)
	t.mu.Lock()
	delete(t.fired, key)
	t.mu.Unlock()
	return t.storage.Reset(ctx, tenantID, metric, period)
}

// LimitEnforcer checks and enforces per-tenant quotas ahead of metered
// operations. It consults Tenant.Limits, not the rate-limit plan table:
// limits are long-window quotas (API calls per month, storage, users),
// distinct from RateLimiter's short tumbling windows.
type LimitEnforcer struct {
	tracker *UsageTracker
}

// NewLimitEnforcer builds an enforcer over tracker.
func NewLimitEnforcer(tracker *UsageTracker) *LimitEnforcer {
	return &LimitEnforcer{tracker: tracker}
}

func limitFor(limits Limits, metric string) int64 {
	switch metric {
	case "users":
		return int64(limits.MaxUsers)
	case "storage_mb":
		return int64(limits.MaxStorageMB)
	case "api_calls":
		return int64(limits.MaxAPICallsPerMonth)
	case "behaviors_per_minute":
		return int64(limits.MaxBehaviorsPerMinute)
	default:
		return -1
	}
}

// Check reports whether tenant has remaining quota for metric without
// consuming any, e.g. for preflight validation before expensive work.
func (e *LimitEnforcer) Check(ctx context.Context, tenant *Tenant, metric string, period Period) error {
	limit := limitFor(tenant.Limits, metric)
	if limit < 0 {
		return nil
	}
	current, err := e.tracker.GetUsage(ctx, tenant.ID, metric, period)
	if err != nil {
		return fmt.Errorf("check limit: %w", err)
	}
	if current >= limit {
		metrics.RecordLimitExceeded(metric)
		return NewError(CodeLimitExceeded, fmt.Sprintf("%s limit of %d exceeded", metric, limit))
	}
	return nil
}

// Enforce is an alias for Check kept for call-site symmetry with
// EnforceAndIncrement; it performs no mutation.
func (e *LimitEnforcer) Enforce(ctx context.Context, tenant *Tenant, metric string, period Period) error {
	return e.Check(ctx, tenant, metric, period)
}

// EnforceAndIncrement checks quota, and if it is not yet exhausted,
// atomically records one unit of consumption. Implementations must not
// increment past the limit: the single over-limit increment that crosses
// from current==limit-1 to limit is allowed, any increment once
// current>=limit is rejected.
func (e *LimitEnforcer) EnforceAndIncrement(ctx context.Context, tenant *Tenant, metric string, period Period) error {
	limit := limitFor(tenant.Limits, metric)
	if limit < 0 {
		_, err := e.tracker.Increment(ctx, tenant.ID, metric, period, 1, 0)
		return err
	}
	current, err := e.tracker.GetUsage(ctx, tenant.ID, metric, period)
	if err != nil {
		return fmt.Errorf("enforce limit: %w", err)
	}
	if current >= limit {
		metrics.RecordLimitExceeded(metric)
		retryAfter := periodRemainder(period, time.Now())
		return NewRetriableError(CodeQuotaExceeded, fmt.Sprintf("%s quota of %d exhausted", metric, limit), retryAfter)
	}
	after, err := e.tracker.Increment(ctx, tenant.ID, metric, period, 1, limit)
	if err != nil {
		return fmt.Errorf("enforce limit: %w", err)
	}
	if after > limit {
		// A concurrent caller consumed the last unit between the read and the
		// increment: give this unit back and reject.
		if _, err := e.tracker.storage.Increment(ctx, tenant.ID, metric, period, -1); err != nil {
			return fmt.Errorf("enforce limit: %w", err)
		}
		metrics.RecordLimitExceeded(metric)
		return NewRetriableError(CodeQuotaExceeded, fmt.Sprintf("%s quota of %d exhausted", metric, limit), periodRemainder(period, time.Now()))
	}
	return nil
}

// periodRemainder estimates time until period rolls over, used only as a
// Retry-After hint; exactness doesn't matter since storage owns resets.
func periodRemainder(period Period, now time.Time) time.Duration {
	switch period {
	case PeriodMinute:
		return time.Until(now.Truncate(time.Minute).Add(time.Minute))
	case PeriodHour:
		return time.Until(now.Truncate(time.Hour).Add(time.Hour))
	case PeriodDay:
		year, month, day := now.Date()
		next := time.Date(year, month, day+1, 0, 0, 0, 0, now.Location())
		return time.Until(next)
	case PeriodMonth:
		year, month, _ := now.Date()
		next := time.Date(year, month+1, 1, 0, 0, 0, 0, now.Location())
		return time.Until(next)
	default:
		return time.Minute
	}
}
