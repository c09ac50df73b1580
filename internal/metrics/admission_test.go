// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics_test

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/xg2g/internal/metrics"
)

func TestPromhttpExposure(t *testing.T) {
	srv := httptest.NewServer(promhttp.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, 200, resp.StatusCode)
}

func TestRecordAdmissionAllowIncrementsCounterAndGauge(t *testing.T) {
	before := testutil.ToFloat64(metrics.AdmissionAllowTotal.WithLabelValues("PRO"))
	gaugeBefore := testutil.ToFloat64(metrics.ActiveConnections.WithLabelValues("PRO"))
	metrics.RecordAdmissionAllow("PRO")
	after := testutil.ToFloat64(metrics.AdmissionAllowTotal.WithLabelValues("PRO"))
	require.Equal(t, before+1, after)
	require.Equal(t, gaugeBefore+1, testutil.ToFloat64(metrics.ActiveConnections.WithLabelValues("PRO")))
}

func TestRecordAdmissionRejectIncrementsCounter(t *testing.T) {
	before := testutil.ToFloat64(metrics.AdmissionRejectTotal.WithLabelValues("TENANT_SUSPENDED"))
	metrics.RecordAdmissionReject("TENANT_SUSPENDED")
	after := testutil.ToFloat64(metrics.AdmissionRejectTotal.WithLabelValues("TENANT_SUSPENDED"))
	require.Equal(t, before+1, after)
}

func TestRecordUsageThresholdBucketsByThreshold(t *testing.T) {
	// Compared as deltas, since other tests in this binary may have already
	// incremented the same label sets.
	full := metrics.UsageThresholdCrossedTotal.WithLabelValues("api_calls", "100")
	other := metrics.UsageThresholdCrossedTotal.WithLabelValues("api_calls", "other")
	fullBefore, otherBefore := testutil.ToFloat64(full), testutil.ToFloat64(other)
	metrics.RecordUsageThreshold("api_calls", 100)
	metrics.RecordUsageThreshold("api_calls", 42)
	require.Equal(t, fullBefore+1, testutil.ToFloat64(full))
	require.Equal(t, otherBefore+1, testutil.ToFloat64(other))
}
