// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package metrics exposes the realtime session core's and admission
// plane's Prometheus instrumentation. Labels are kept low-cardinality
// (plan, code, reason) — never raw tenant or connection IDs. The one
// exception is the channel subscriber gauge, labeled by channel id.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AdmissionAllowTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xg2g_admission_allow_total",
		Help: "Connections admitted, labeled by tenant plan.",
	}, []string{"plan"})

	AdmissionRejectTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xg2g_admission_reject_total",
		Help: "Connections rejected at admission, labeled by reason code.",
	}, []string{"reason"})

	ActiveConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "xg2g_active_connections",
		Help: "Currently open realtime connections, labeled by tenant plan.",
	}, []string{"plan"})

	RateLimitRejectTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xg2g_rate_limit_reject_total",
		Help: "Requests rejected by the tenant rate limiter, labeled by plan.",
	}, []string{"plan"})

	LimitExceededTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xg2g_limit_exceeded_total",
		Help: "Quota/limit check failures, labeled by metric name.",
	}, []string{"metric"})

	UsageThresholdCrossedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xg2g_usage_threshold_crossed_total",
		Help: "Usage threshold crossings, labeled by metric and percentage bucket.",
	}, []string{"metric", "threshold"})
)

// RecordAdmissionAllow increments the allow counter and active-connections
// gauge for plan.
func RecordAdmissionAllow(plan string) {
	AdmissionAllowTotal.WithLabelValues(plan).Inc()
	ActiveConnections.WithLabelValues(plan).Inc()
}

// RecordAdmissionReject increments the reject counter for reason.
func RecordAdmissionReject(reason string) {
	AdmissionRejectTotal.WithLabelValues(reason).Inc()
}

// RecordConnectionClosed decrements the active-connections gauge for plan.
func RecordConnectionClosed(plan string) {
	ActiveConnections.WithLabelValues(plan).Dec()
}

// RecordRateLimitReject increments the rate-limit rejection counter.
func RecordRateLimitReject(plan string) {
	RateLimitRejectTotal.WithLabelValues(plan).Inc()
}

// RecordLimitExceeded increments the quota failure counter for metric.
func RecordLimitExceeded(metric string) {
	LimitExceededTotal.WithLabelValues(metric).Inc()
}

// RecordUsageThreshold increments the threshold-crossing counter.
func RecordUsageThreshold(metric string, threshold int) {
	UsageThresholdCrossedTotal.WithLabelValues(metric, thresholdBucket(threshold)).Inc()
}

func thresholdBucket(threshold int) string {
	switch {
	case threshold >= 100:
		return "100"
	case threshold >= 90:
		return "90"
	case threshold >= 80:
		return "80"
	default:
		return "other"
	}
}
