// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package realtime

import (
	"sync"
	"time"

	"github.com/ManuGH/xg2g/internal/metrics"
	"github.com/ManuGH/xg2g/internal/wire"
)

const presenceLogCapacity = 1000

// PresenceStatus is the status half of a (channel, user, connection) tuple.
type PresenceStatus string

const (
	PresenceOnline    PresenceStatus = "ONLINE"
	PresenceAway      PresenceStatus = "AWAY"
	PresenceBusy      PresenceStatus = "BUSY"
	PresenceInvisible PresenceStatus = "INVISIBLE"
	PresenceOffline   PresenceStatus = "OFFLINE"
)

// Presence is the record that a user participates in a channel via a
// connection.
type Presence struct {
	ChannelID    string
	UserID       string
	ConnectionID string
	Status       PresenceStatus
	CustomState  map[string]any
	JoinedAt     time.Time
	LastSeenAt   time.Time
	DeviceInfo   map[string]string
}

type presenceKey struct {
	ChannelID    string
	UserID       string
	ConnectionID string
}

func keyOf(p Presence) presenceKey {
	return presenceKey{ChannelID: p.ChannelID, UserID: p.UserID, ConnectionID: p.ConnectionID}
}

// PresenceEventType enumerates the kinds appended to a channel's presence log.
type PresenceEventType string

const (
	PresenceEventJoin    PresenceEventType = "join"
	PresenceEventLeave   PresenceEventType = "leave"
	PresenceEventUpdate  PresenceEventType = "update"
	PresenceEventTimeout PresenceEventType = "timeout"
)

// PresenceEvent is one entry in a channel's bounded presence history.
type PresenceEvent struct {
	Type         PresenceEventType
	ChannelID    string
	UserID       string
	ConnectionID string
	Snapshot     *Presence
	Timestamp    time.Time
}

// PresenceDiff is the result of replaying a channel's event log from a
// watermark forward.
type PresenceDiff struct {
	Joined    []Presence
	Left      []presenceKey
	Updated   []Presence
	Timestamp time.Time
}

// PresenceStateManager is the in-memory authority for presence state and
// event history, folded into each channel's single lock.
type PresenceStateManager struct {
	router *ChannelRouter
}

// NewPresenceStateManager builds a manager backed by router's per-channel
// locks and maps.
func NewPresenceStateManager(router *ChannelRouter) *PresenceStateManager {
	return &PresenceStateManager{router: router}
}

func (m *PresenceStateManager) appendEventLocked(cs *channelState, ev PresenceEvent) {
	metrics.RecordPresenceTransition(string(ev.Type))
	if len(cs.presenceLog) < presenceLogCapacity {
		cs.presenceLog = append(cs.presenceLog, ev)
		return
	}
	// overwrite oldest: presenceLog is used as a plain slice window here
	// rather than an explicit ring, since entries are appended, not
	// randomly indexed, and Go's append already amortizes growth.
	copy(cs.presenceLog, cs.presenceLog[1:])
	cs.presenceLog[len(cs.presenceLog)-1] = ev
}

// AddPresence registers p, replacing any prior occupant of the same
// (channel, user, connection) tuple, and appends a join event.
func (m *PresenceStateManager) AddPresence(p Presence) {
	cs := m.router.getOrCreate(p.ChannelID)
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if p.JoinedAt.IsZero() {
		p.JoinedAt = time.Now()
	}
	p.LastSeenAt = time.Now()
	cp := p
	cs.presence[keyOf(p)] = &cp

	users, ok := cs.presenceUsers[p.UserID]
	if !ok {
		users = make(map[string]bool)
		cs.presenceUsers[p.UserID] = users
	}
	users[p.ConnectionID] = true

	snap := cp
	m.appendEventLocked(cs, PresenceEvent{Type: PresenceEventJoin, ChannelID: p.ChannelID, UserID: p.UserID, ConnectionID: p.ConnectionID, Snapshot: &snap, Timestamp: snap.LastSeenAt})
}

// RemovePresence deletes the tuple and appends a leave event.
func (m *PresenceStateManager) RemovePresence(channelID, userID, connectionID string) {
	m.router.mu.RLock()
	cs, ok := m.router.channels[channelID]
	m.router.mu.RUnlock()
	if !ok {
		return
	}

	cs.mu.Lock()
	key := presenceKey{ChannelID: channelID, UserID: userID, ConnectionID: connectionID}
	_, existed := cs.presence[key]
	delete(cs.presence, key)
	if users, ok := cs.presenceUsers[userID]; ok {
		delete(users, connectionID)
		if len(users) == 0 {
			delete(cs.presenceUsers, userID)
		}
	}
	if existed {
		m.appendEventLocked(cs, PresenceEvent{Type: PresenceEventLeave, ChannelID: channelID, UserID: userID, ConnectionID: connectionID, Timestamp: time.Now()})
	}
	cs.mu.Unlock()

	m.router.gcIfEmpty(channelID, cs)
}

// UpdatePresence merges status/custom-state changes into an existing tuple
// and appends an update event. Fails-with wire.CodeInternalError if the
// tuple does not exist.
func (m *PresenceStateManager) UpdatePresence(p Presence) error {
	cs := m.router.getOrCreate(p.ChannelID)
	cs.mu.Lock()
	defer cs.mu.Unlock()

	key := keyOf(p)
	existing, ok := cs.presence[key]
	if !ok {
		return wire.NewError(wire.CodeInternalError, "presence tuple does not exist")
	}
	if p.Status != "" {
		existing.Status = p.Status
	}
	if p.CustomState != nil {
		existing.CustomState = p.CustomState
	}
	existing.LastSeenAt = time.Now()

	snap := *existing
	m.appendEventLocked(cs, PresenceEvent{Type: PresenceEventUpdate, ChannelID: p.ChannelID, UserID: p.UserID, ConnectionID: p.ConnectionID, Snapshot: &snap, Timestamp: snap.LastSeenAt})
	return nil
}

// Heartbeat refreshes LastSeenAt for a tuple without emitting an event.
func (m *PresenceStateManager) Heartbeat(channelID, userID, connectionID string) {
	m.router.mu.RLock()
	cs, ok := m.router.channels[channelID]
	m.router.mu.RUnlock()
	if !ok {
		return
	}
	cs.mu.Lock()
	if p, ok := cs.presence[presenceKey{channelID, userID, connectionID}]; ok {
		p.LastSeenAt = time.Now()
	}
	cs.mu.Unlock()
}

// GetState returns a full snapshot of channelID's current presence.
func (m *PresenceStateManager) GetState(channelID string) []Presence {
	m.router.mu.RLock()
	cs, ok := m.router.channels[channelID]
	m.router.mu.RUnlock()
	if !ok {
		return nil
	}
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	out := make([]Presence, 0, len(cs.presence))
	for _, p := range cs.presence {
		out = append(out, *p)
	}
	return out
}

// GetDiff replays channelID's event log from since forward, per the
// deterministic collapse algorithm: a join still pending at the end of the
// window is reported once in Joined; a leave that cancels a pending join
// collapses to nothing; an update merges into a pending join, else is
// reported in Updated.
func (m *PresenceStateManager) GetDiff(channelID string, since time.Time) PresenceDiff {
	m.router.mu.RLock()
	cs, ok := m.router.channels[channelID]
	m.router.mu.RUnlock()
	diff := PresenceDiff{Timestamp: time.Now()}
	if !ok {
		return diff
	}

	cs.mu.RLock()
	relevant := make([]PresenceEvent, 0, len(cs.presenceLog))
	for _, ev := range cs.presenceLog {
		if !ev.Timestamp.Before(since) {
			relevant = append(relevant, ev)
		}
	}
	cs.mu.RUnlock()

	pendingJoin := make(map[presenceKey]Presence)
	for _, ev := range relevant {
		key := presenceKey{ChannelID: ev.ChannelID, UserID: ev.UserID, ConnectionID: ev.ConnectionID}
		switch ev.Type {
		case PresenceEventJoin:
			if ev.Snapshot != nil {
				pendingJoin[key] = *ev.Snapshot
			}
		case PresenceEventLeave:
			if _, ok := pendingJoin[key]; ok {
				delete(pendingJoin, key)
			} else {
				diff.Left = append(diff.Left, key)
			}
		case PresenceEventUpdate:
			if p, ok := pendingJoin[key]; ok {
				if ev.Snapshot != nil {
					p.Status = ev.Snapshot.Status
					p.CustomState = ev.Snapshot.CustomState
				}
				pendingJoin[key] = p
			} else if ev.Snapshot != nil {
				diff.Updated = append(diff.Updated, *ev.Snapshot)
			}
		}
	}
	for _, p := range pendingJoin {
		diff.Joined = append(diff.Joined, p)
	}
	return diff
}

// PresenceSnapshot is a deep-copyable capture of one channel's presence,
// used by subscribers catching up after a transient disconnect.
type PresenceSnapshot struct {
	ChannelID  string
	Entries    []Presence
	CapturedAt time.Time
}

// CreateSnapshot deep-copies channelID's presence state.
func (m *PresenceStateManager) CreateSnapshot(channelID string) PresenceSnapshot {
	return PresenceSnapshot{ChannelID: channelID, Entries: m.GetState(channelID), CapturedAt: time.Now()}
}

// RestoreSnapshot replaces channelID's presence state with the snapshot's
// entries, without emitting join events for each (a bulk restore, not a
// sequence of joins).
func (m *PresenceStateManager) RestoreSnapshot(snap PresenceSnapshot) {
	cs := m.router.getOrCreate(snap.ChannelID)
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.presence = make(map[presenceKey]*Presence, len(snap.Entries))
	cs.presenceUsers = make(map[string]map[string]bool)
	for _, p := range snap.Entries {
		cp := p
		cs.presence[keyOf(p)] = &cp
		users, ok := cs.presenceUsers[p.UserID]
		if !ok {
			users = make(map[string]bool)
			cs.presenceUsers[p.UserID] = users
		}
		users[p.ConnectionID] = true
	}
}

// Cleanup evicts presences whose LastSeenAt predates olderThan, then users
// left with zero connections, then trims history older than the cutoff.
func (m *PresenceStateManager) Cleanup(channelID string, olderThan time.Time) {
	m.router.mu.RLock()
	cs, ok := m.router.channels[channelID]
	m.router.mu.RUnlock()
	if !ok {
		return
	}

	cs.mu.Lock()
	var expired []presenceKey
	for key, p := range cs.presence {
		if p.LastSeenAt.Before(olderThan) {
			expired = append(expired, key)
		}
	}
	for _, key := range expired {
		delete(cs.presence, key)
		if users, ok := cs.presenceUsers[key.UserID]; ok {
			delete(users, key.ConnectionID)
			if len(users) == 0 {
				delete(cs.presenceUsers, key.UserID)
			}
		}
		m.appendEventLocked(cs, PresenceEvent{Type: PresenceEventTimeout, ChannelID: channelID, UserID: key.UserID, ConnectionID: key.ConnectionID, Timestamp: time.Now()})
	}

	trimmed := cs.presenceLog[:0]
	for _, ev := range cs.presenceLog {
		if !ev.Timestamp.Before(olderThan) {
			trimmed = append(trimmed, ev)
		}
	}
	cs.presenceLog = trimmed
	cs.mu.Unlock()

	m.router.gcIfEmpty(channelID, cs)
}

// PresenceListener receives at-most-once-per-transition presence signals.
type PresenceListener struct {
	OnJoined  func(Presence)
	OnLeft    func(channelID, userID, connectionID string)
	OnUpdated func(Presence)
	OnCleaned func(channelID string)
}

// PresenceTracker is the request-side API over PresenceStateManager, adding
// signal fan-out to registered listeners.
type PresenceTracker struct {
	state *PresenceStateManager

	mu        sync.RWMutex
	listeners []PresenceListener
}

// NewPresenceTracker builds a tracker over the given state manager.
func NewPresenceTracker(state *PresenceStateManager) *PresenceTracker {
	return &PresenceTracker{state: state}
}

// Subscribe registers l to receive presence signals. Returns no handle;
// listeners live for the tracker's lifetime, matching the teacher's
// emitter-registration pattern for process-lifetime observers.
func (t *PresenceTracker) Subscribe(l PresenceListener) {
	t.mu.Lock()
	t.listeners = append(t.listeners, l)
	t.mu.Unlock()
}

// Join records a presence and notifies listeners.
func (t *PresenceTracker) Join(p Presence) {
	t.state.AddPresence(p)
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, l := range t.listeners {
		if l.OnJoined != nil {
			l.OnJoined(p)
		}
	}
}

// Leave removes a presence and notifies listeners.
func (t *PresenceTracker) Leave(channelID, userID, connectionID string) {
	t.state.RemovePresence(channelID, userID, connectionID)
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, l := range t.listeners {
		if l.OnLeft != nil {
			l.OnLeft(channelID, userID, connectionID)
		}
	}
}

// Update mutates a presence's status/custom state and notifies listeners.
func (t *PresenceTracker) Update(p Presence) error {
	if err := t.state.UpdatePresence(p); err != nil {
		return err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, l := range t.listeners {
		if l.OnUpdated != nil {
			l.OnUpdated(p)
		}
	}
	return nil
}

// Heartbeat refreshes a presence's liveness without emitting a signal.
func (t *PresenceTracker) Heartbeat(channelID, userID, connectionID string) {
	t.state.Heartbeat(channelID, userID, connectionID)
}

// Query returns the current presence snapshot for a channel.
func (t *PresenceTracker) Query(channelID string) []Presence {
	return t.state.GetState(channelID)
}

// Stats summarizes one channel's presence for operational visibility.
type Stats struct {
	ChannelID    string
	TotalPresent int
	UniqueUsers  int
}

// ChannelStats returns occupancy counts for channelID.
func (t *PresenceTracker) ChannelStats(channelID string) Stats {
	t.state.router.mu.RLock()
	cs, ok := t.state.router.channels[channelID]
	t.state.router.mu.RUnlock()
	if !ok {
		return Stats{ChannelID: channelID}
	}
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return Stats{ChannelID: channelID, TotalPresent: len(cs.presence), UniqueUsers: len(cs.presenceUsers)}
}

// Cleanup evicts stale presences for a channel and notifies listeners.
func (t *PresenceTracker) Cleanup(channelID string, olderThan time.Time) {
	t.state.Cleanup(channelID, olderThan)
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, l := range t.listeners {
		if l.OnCleaned != nil {
			l.OnCleaned(channelID)
		}
	}
}
