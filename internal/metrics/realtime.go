// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HeartbeatMissedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xg2g_heartbeat_missed_total",
		Help: "Heartbeat pings that got no pong within the connection's timeout.",
	}, []string{"reason"})

	HeartbeatEvictionTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "xg2g_heartbeat_eviction_total",
		Help: "Connections evicted for exceeding max missed heartbeats.",
	})

	ChannelPublishTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xg2g_channel_publish_total",
		Help: "Events published to a channel, labeled by outcome.",
	}, []string{"outcome"})

	ChannelSubscribersGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "xg2g_channel_subscribers",
		Help: "Current subscriber count, labeled by channel id.",
	}, []string{"channel"})

	SlowConsumerEvictionTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "xg2g_slow_consumer_eviction_total",
		Help: "Subscribers evicted for falling behind their outbound queue.",
	})

	PresenceTransitionTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xg2g_presence_transition_total",
		Help: "Presence events processed, labeled by type.",
	}, []string{"type"})
)

// RecordHeartbeatMissed increments the missed-heartbeat counter.
func RecordHeartbeatMissed(reason string) {
	HeartbeatMissedTotal.WithLabelValues(reason).Inc()
}

// RecordHeartbeatEviction increments the eviction counter.
func RecordHeartbeatEviction() {
	HeartbeatEvictionTotal.Inc()
}

// RecordChannelPublish increments the publish counter for outcome
// ("delivered", "dropped_oldest", "evicted_slow_consumer").
func RecordChannelPublish(outcome string) {
	ChannelPublishTotal.WithLabelValues(outcome).Inc()
	if outcome == "evicted_slow_consumer" {
		SlowConsumerEvictionTotal.Inc()
	}
}

// SetChannelSubscribers sets the current subscriber gauge for channel.
func SetChannelSubscribers(channel string, count int) {
	ChannelSubscribersGauge.WithLabelValues(channel).Set(float64(count))
}

// RecordPresenceTransition increments the presence event counter for kind.
func RecordPresenceTransition(kind string) {
	PresenceTransitionTotal.WithLabelValues(kind).Inc()
}
