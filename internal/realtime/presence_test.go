// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package realtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPresenceStateManagerJoinLeaveUpdate(t *testing.T) {
	r := NewChannelRouter(RouterConfig{}, nil)
	mgr := NewPresenceStateManager(r)

	mgr.AddPresence(Presence{ChannelID: "room-1", UserID: "u1", ConnectionID: "c1", Status: PresenceOnline})

	state := mgr.GetState("room-1")
	require.Len(t, state, 1)
	assert.Equal(t, PresenceOnline, state[0].Status)

	require.NoError(t, mgr.UpdatePresence(Presence{ChannelID: "room-1", UserID: "u1", ConnectionID: "c1", Status: PresenceAway}))
	state = mgr.GetState("room-1")
	require.Len(t, state, 1)
	assert.Equal(t, PresenceAway, state[0].Status)

	mgr.RemovePresence("room-1", "u1", "c1")
	assert.Empty(t, mgr.GetState("room-1"))
}

func TestPresenceStateManagerUpdateUnknownTupleFails(t *testing.T) {
	r := NewChannelRouter(RouterConfig{}, nil)
	mgr := NewPresenceStateManager(r)

	err := mgr.UpdatePresence(Presence{ChannelID: "room-1", UserID: "ghost", ConnectionID: "c1"})
	assert.Error(t, err)
}

func TestPresenceStateManagerGetDiffCollapsesJoinThenLeave(t *testing.T) {
	r := NewChannelRouter(RouterConfig{}, nil)
	mgr := NewPresenceStateManager(r)

	since := time.Now()
	mgr.AddPresence(Presence{ChannelID: "room-1", UserID: "u1", ConnectionID: "c1", Status: PresenceOnline})
	mgr.RemovePresence("room-1", "u1", "c1")

	diff := mgr.GetDiff("room-1", since)
	assert.Empty(t, diff.Joined, "a join immediately canceled by a leave produces no net join")
	assert.Empty(t, diff.Left, "the canceling leave is absorbed, not reported separately")
}

func TestPresenceStateManagerGetDiffReportsSurvivingJoinAndDisjointLeave(t *testing.T) {
	r := NewChannelRouter(RouterConfig{}, nil)
	mgr := NewPresenceStateManager(r)

	// u2 joined before the watermark and disconnects during the window.
	mgr.AddPresence(Presence{ChannelID: "room-1", UserID: "u2", ConnectionID: "c2", Status: PresenceOnline})
	since := time.Now()
	mgr.RemovePresence("room-1", "u2", "c2")

	// u1 joins during the window and is still present at the end of it.
	mgr.AddPresence(Presence{ChannelID: "room-1", UserID: "u1", ConnectionID: "c1", Status: PresenceOnline})

	diff := mgr.GetDiff("room-1", since)
	require.Len(t, diff.Joined, 1)
	assert.Equal(t, "u1", diff.Joined[0].UserID)
	require.Len(t, diff.Left, 1)
	assert.Equal(t, "u2", diff.Left[0].UserID)
}

func TestPresenceStateManagerSnapshotRoundTrip(t *testing.T) {
	r := NewChannelRouter(RouterConfig{}, nil)
	mgr := NewPresenceStateManager(r)

	mgr.AddPresence(Presence{ChannelID: "room-1", UserID: "u1", ConnectionID: "c1", Status: PresenceOnline})
	snap := mgr.CreateSnapshot("room-1")

	mgr.RemovePresence("room-1", "u1", "c1")
	assert.Empty(t, mgr.GetState("room-1"))

	mgr.RestoreSnapshot(snap)
	restored := mgr.GetState("room-1")
	require.Len(t, restored, 1)
	assert.Equal(t, "u1", restored[0].UserID)
}

func TestPresenceStateManagerCleanupEvictsStaleAndTrimsLog(t *testing.T) {
	r := NewChannelRouter(RouterConfig{}, nil)
	mgr := NewPresenceStateManager(r)

	mgr.AddPresence(Presence{ChannelID: "room-1", UserID: "u1", ConnectionID: "c1", Status: PresenceOnline})
	cutoff := time.Now().Add(time.Minute)

	mgr.Cleanup("room-1", cutoff)

	assert.Empty(t, mgr.GetState("room-1"))
	diff := mgr.GetDiff("room-1", time.Time{})
	assert.Empty(t, diff.Joined, "the join predates the cutoff and is no longer in the log")
}

func TestPresenceTrackerNotifiesListeners(t *testing.T) {
	r := NewChannelRouter(RouterConfig{}, nil)
	tracker := NewPresenceTracker(NewPresenceStateManager(r))

	var joined, left bool
	tracker.Subscribe(PresenceListener{
		OnJoined: func(p Presence) { joined = true },
		OnLeft:   func(channelID, userID, connectionID string) { left = true },
	})

	tracker.Join(Presence{ChannelID: "room-1", UserID: "u1", ConnectionID: "c1", Status: PresenceOnline})
	tracker.Leave("room-1", "u1", "c1")

	assert.True(t, joined)
	assert.True(t, left)
}

func TestPresenceTrackerChannelStats(t *testing.T) {
	r := NewChannelRouter(RouterConfig{}, nil)
	tracker := NewPresenceTracker(NewPresenceStateManager(r))

	tracker.Join(Presence{ChannelID: "room-1", UserID: "u1", ConnectionID: "c1", Status: PresenceOnline})
	tracker.Join(Presence{ChannelID: "room-1", UserID: "u1", ConnectionID: "c2", Status: PresenceOnline})
	tracker.Join(Presence{ChannelID: "room-1", UserID: "u2", ConnectionID: "c3", Status: PresenceOnline})

	stats := tracker.ChannelStats("room-1")
	assert.Equal(t, 3, stats.TotalPresent)
	assert.Equal(t, 2, stats.UniqueUsers)
}
