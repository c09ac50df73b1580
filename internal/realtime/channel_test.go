// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package realtime

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelRouterSubscribePublishHappyPath(t *testing.T) {
	r := NewChannelRouter(RouterConfig{}, nil)

	events, err := r.Subscribe("conn-1", "room-1", SubscribeOptions{})
	require.NoError(t, err)

	require.NoError(t, r.Publish("room-1", "chat.message", json.RawMessage(`{"text":"hi"}`), PublishOptions{}))

	select {
	case ev := <-events:
		assert.Equal(t, "chat.message", ev.Name)
		assert.Equal(t, uint64(0), ev.Seq)
		assert.False(t, ev.Lagged)
	case <-time.After(time.Second):
		t.Fatal("expected event delivery")
	}
}

func TestChannelRouterSubscribeReplaysHistory(t *testing.T) {
	r := NewChannelRouter(RouterConfig{HistorySize: 10}, nil)

	for i := 0; i < 5; i++ {
		require.NoError(t, r.Publish("room-1", "tick", json.RawMessage(`{}`), PublishOptions{}))
	}

	events, err := r.Subscribe("late-joiner", "room-1", SubscribeOptions{FromHistory: 3})
	require.NoError(t, err)

	var seqs []uint64
	for i := 0; i < 3; i++ {
		select {
		case ev := <-events:
			seqs = append(seqs, ev.Seq)
		case <-time.After(time.Second):
			t.Fatal("expected backlog replay")
		}
	}
	assert.Equal(t, []uint64{2, 3, 4}, seqs)
}

func TestChannelRouterPublishExcludesSender(t *testing.T) {
	r := NewChannelRouter(RouterConfig{}, nil)

	sender, err := r.Subscribe("sender", "room-1", SubscribeOptions{})
	require.NoError(t, err)
	receiver, err := r.Subscribe("receiver", "room-1", SubscribeOptions{})
	require.NoError(t, err)

	require.NoError(t, r.Publish("room-1", "chat.message", json.RawMessage(`{}`), PublishOptions{Exclude: map[string]bool{"sender": true}}))

	select {
	case <-receiver:
	case <-time.After(time.Second):
		t.Fatal("receiver should get the event")
	}
	select {
	case <-sender:
		t.Fatal("sender should not receive its own excluded publish")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestChannelRouterDropOldestMarksLagged(t *testing.T) {
	r := NewChannelRouter(RouterConfig{OutboundQueueSize: 1, BackpressurePolicy: PolicyDropOldest}, nil)

	events, err := r.Subscribe("slow", "room-1", SubscribeOptions{})
	require.NoError(t, err)

	require.NoError(t, r.Publish("room-1", "a", json.RawMessage(`{}`), PublishOptions{}))
	require.NoError(t, r.Publish("room-1", "b", json.RawMessage(`{}`), PublishOptions{}))

	select {
	case ev := <-events:
		assert.Equal(t, "b", ev.Name, "oldest queued message was dropped")
		assert.True(t, ev.Lagged)
	case <-time.After(time.Second):
		t.Fatal("expected delivery of surviving event")
	}
}

func TestChannelRouterEvictSlowConsumerUnsubscribes(t *testing.T) {
	var evictedReason string
	r := NewChannelRouter(RouterConfig{
		OutboundQueueSize:   1,
		BackpressurePolicy:  PolicyEvictSlowConsumer,
		SlowConsumerTimeout: 50 * time.Millisecond,
	}, func(connID, channelID, reason string) {
		evictedReason = reason
	})

	_, err := r.Subscribe("slow", "room-1", SubscribeOptions{})
	require.NoError(t, err)

	require.NoError(t, r.Publish("room-1", "a", json.RawMessage(`{}`), PublishOptions{}))
	require.NoError(t, r.Publish("room-1", "b", json.RawMessage(`{}`), PublishOptions{}))

	require.Eventually(t, func() bool {
		return evictedReason == "slow_consumer"
	}, time.Second, 10*time.Millisecond)

	assert.Empty(t, r.ForChannel("room-1"))
}

func TestChannelRouterUnsubscribeGCsEmptyChannel(t *testing.T) {
	r := NewChannelRouter(RouterConfig{}, nil)

	_, err := r.Subscribe("conn-1", "room-1", SubscribeOptions{})
	require.NoError(t, err)

	r.Unsubscribe("conn-1", "room-1", "")

	assert.Empty(t, r.ForChannel("room-1"))
	assert.Empty(t, r.ChannelsFor("conn-1"))
}

func TestChannelRouterRemoveConnectionUnsubscribesAll(t *testing.T) {
	r := NewChannelRouter(RouterConfig{}, nil)

	_, err := r.Subscribe("conn-1", "room-1", SubscribeOptions{})
	require.NoError(t, err)
	_, err = r.Subscribe("conn-1", "room-2", SubscribeOptions{})
	require.NoError(t, err)

	r.RemoveConnection("conn-1")

	assert.Empty(t, r.ChannelsFor("conn-1"))
}
