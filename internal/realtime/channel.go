// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package realtime

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ManuGH/xg2g/internal/metrics"
)

// BackpressurePolicy selects what ChannelRouter.Publish does when a
// subscriber's outbound queue is full.
type BackpressurePolicy string

const (
	// PolicyDropOldest evicts the oldest queued message for the lagging
	// subscriber and marks the next delivered message as Lagged.
	PolicyDropOldest BackpressurePolicy = "drop_oldest"
	// PolicyEvictSlowConsumer blocks the publisher up to a timeout, then
	// unsubscribes the lagging subscriber with reason "slow_consumer".
	PolicyEvictSlowConsumer BackpressurePolicy = "evict_slow_consumer"
)

// RouterConfig tunes ChannelRouter's history ring and per-subscriber queue.
type RouterConfig struct {
	HistorySize         int
	OutboundQueueSize   int
	BackpressurePolicy  BackpressurePolicy
	SlowConsumerTimeout time.Duration
}

func (c RouterConfig) withDefaults() RouterConfig {
	if c.HistorySize <= 0 {
		c.HistorySize = 1000
	}
	if c.OutboundQueueSize <= 0 {
		c.OutboundQueueSize = 128
	}
	if c.BackpressurePolicy == "" {
		c.BackpressurePolicy = PolicyDropOldest
	}
	if c.SlowConsumerTimeout <= 0 {
		c.SlowConsumerTimeout = 2 * time.Second
	}
	return c
}

// HistoryEntry is one published event retained in a channel's ring buffer.
type HistoryEntry struct {
	Seq       uint64
	Name      string
	Data      json.RawMessage
	Timestamp time.Time
}

// OutboundEvent is delivered to a subscriber's channel. Lagged is set on the
// first delivery after the router dropped one or more queued events for
// this subscriber.
type OutboundEvent struct {
	Seq       uint64
	ChannelID string
	Name      string
	Data      json.RawMessage
	Timestamp time.Time
	Lagged    bool
}

type subscriber struct {
	connID   string
	outbound chan OutboundEvent
	lagged   atomic.Bool
}

// channelState folds a channel's subscriber set, history ring, and presence
// state under one lock, so a Subscribe call observes a consistent snapshot
// of all three (per the fold-together design guidance).
type channelState struct {
	mu sync.RWMutex

	subscribers map[string]*subscriber

	ring     []HistoryEntry
	ringHead int
	ringLen  int
	nextSeq  uint64

	presence      map[presenceKey]*Presence
	presenceUsers map[string]map[string]bool // userID -> set of connection ids, for stats
	presenceLog   []PresenceEvent
}

func newChannelState(historySize int) *channelState {
	return &channelState{
		subscribers:   make(map[string]*subscriber),
		ring:          make([]HistoryEntry, historySize),
		presence:      make(map[presenceKey]*Presence),
		presenceUsers: make(map[string]map[string]bool),
		presenceLog:   make([]PresenceEvent, 0, presenceLogCapacity),
	}
}

// ChannelRouter is the fan-out bus. Channels are created lazily on first
// subscription and garbage-collected when they have no subscribers and no
// presence.
type ChannelRouter struct {
	cfg RouterConfig

	mu       sync.RWMutex // guards the channels map's keys only
	channels map[string]*channelState

	onSubscriberEvicted func(connID, channelID, reason string)
}

// NewChannelRouter constructs an empty router.
func NewChannelRouter(cfg RouterConfig, onSubscriberEvicted func(connID, channelID, reason string)) *ChannelRouter {
	return &ChannelRouter{
		cfg:                 cfg.withDefaults(),
		channels:            make(map[string]*channelState),
		onSubscriberEvicted: onSubscriberEvicted,
	}
}

func (r *ChannelRouter) getOrCreate(channelID string) *channelState {
	r.mu.RLock()
	cs, ok := r.channels[channelID]
	r.mu.RUnlock()
	if ok {
		return cs
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cs, ok := r.channels[channelID]; ok {
		return cs
	}
	cs = newChannelState(r.cfg.HistorySize)
	r.channels[channelID] = cs
	return cs
}

// gcIfEmpty removes channelID from the router if it has become empty. Caller
// must NOT hold cs.mu when calling this.
func (r *ChannelRouter) gcIfEmpty(channelID string, cs *channelState) {
	cs.mu.RLock()
	empty := len(cs.subscribers) == 0 && len(cs.presence) == 0
	cs.mu.RUnlock()
	if !empty {
		return
	}
	r.mu.Lock()
	if current, ok := r.channels[channelID]; ok && current == cs {
		current.mu.RLock()
		stillEmpty := len(current.subscribers) == 0 && len(current.presence) == 0
		current.mu.RUnlock()
		if stillEmpty {
			delete(r.channels, channelID)
		}
	}
	r.mu.Unlock()
}

// SubscribeOptions controls catch-up behavior at subscribe time.
type SubscribeOptions struct {
	FromHistory int
}

// Subscribe adds connID to channelID's subscriber set and returns the
// channel it should read delivered events from. If opts.FromHistory > 0,
// up to that many recent events are enqueued before Subscribe returns, so
// the caller sees a gap-free prefix of history followed by live events.
func (r *ChannelRouter) Subscribe(connID, channelID string, opts SubscribeOptions) (<-chan OutboundEvent, error) {
	cs := r.getOrCreate(channelID)

	cs.mu.Lock()
	defer cs.mu.Unlock()

	sub := &subscriber{connID: connID, outbound: make(chan OutboundEvent, r.cfg.OutboundQueueSize)}
	cs.subscribers[connID] = sub
	metrics.SetChannelSubscribers(channelID, len(cs.subscribers))

	if opts.FromHistory > 0 {
		backlog := cs.snapshotHistoryLocked(opts.FromHistory)
		for _, entry := range backlog {
			select {
			case sub.outbound <- OutboundEvent{Seq: entry.Seq, ChannelID: channelID, Name: entry.Name, Data: entry.Data, Timestamp: entry.Timestamp}:
			default:
				// subscriber queue too small for the requested backlog; stop
				// replaying rather than blocking under the channel lock.
			}
		}
	}

	return sub.outbound, nil
}

// Unsubscribe removes connID from channelID, closing its outbound channel.
func (r *ChannelRouter) Unsubscribe(connID, channelID, reason string) {
	r.mu.RLock()
	cs, ok := r.channels[channelID]
	r.mu.RUnlock()
	if !ok {
		return
	}

	cs.mu.Lock()
	sub, ok := cs.subscribers[connID]
	if ok {
		delete(cs.subscribers, connID)
		close(sub.outbound)
	}
	remaining := len(cs.subscribers)
	cs.mu.Unlock()
	metrics.SetChannelSubscribers(channelID, remaining)

	if ok && r.onSubscriberEvicted != nil && reason != "" {
		r.onSubscriberEvicted(connID, channelID, reason)
	}
	r.gcIfEmpty(channelID, cs)
}

// PublishOptions excludes a set of subscribers from one Publish call.
type PublishOptions struct {
	Exclude map[string]bool
}

// Publish appends an event to channelID's history ring and delivers it to
// every current subscriber except those in opts.Exclude. Delivery order to
// any single subscriber matches publish order; delivery across subscribers
// is not serialized.
func (r *ChannelRouter) Publish(channelID, name string, data json.RawMessage, opts PublishOptions) error {
	cs := r.getOrCreate(channelID)

	cs.mu.Lock()
	seq := cs.nextSeq
	cs.nextSeq++
	entry := HistoryEntry{Seq: seq, Name: name, Data: data, Timestamp: time.Now()}
	cs.appendHistoryLocked(entry)
	subs := make([]*subscriber, 0, len(cs.subscribers))
	for id, s := range cs.subscribers {
		if opts.Exclude != nil && opts.Exclude[id] {
			continue
		}
		subs = append(subs, s)
	}
	policy := r.cfg.BackpressurePolicy
	timeout := r.cfg.SlowConsumerTimeout
	cs.mu.Unlock()

	event := OutboundEvent{Seq: seq, ChannelID: channelID, Name: name, Data: data, Timestamp: entry.Timestamp}

	// Delivery happens outside the channel lock: no suspension point may
	// hold it (publish must not await a single subscriber's send while
	// other subscribers or readers are blocked).
	for _, s := range subs {
		r.deliver(channelID, s, event, policy, timeout)
	}
	return nil
}

func (r *ChannelRouter) deliver(channelID string, s *subscriber, event OutboundEvent, policy BackpressurePolicy, timeout time.Duration) {
	ev := event
	if s.lagged.Load() {
		ev.Lagged = true
	}

	select {
	case s.outbound <- ev:
		s.lagged.Store(false)
		metrics.RecordChannelPublish("delivered")
		return
	default:
	}

	switch policy {
	case PolicyEvictSlowConsumer:
		select {
		case s.outbound <- ev:
			s.lagged.Store(false)
			metrics.RecordChannelPublish("delivered")
		case <-time.After(timeout):
			metrics.RecordChannelPublish("evicted_slow_consumer")
			r.Unsubscribe(s.connID, channelID, "slow_consumer")
		}
	default: // PolicyDropOldest
		select {
		case <-s.outbound:
			s.lagged.Store(true)
		default:
		}
		ev.Lagged = true
		select {
		case s.outbound <- ev:
			s.lagged.Store(false)
			metrics.RecordChannelPublish("dropped_oldest")
		default:
			// lost the race against concurrent drains; leave lagged set so
			// the next successful delivery still carries the marker.
			s.lagged.Store(true)
		}
	}
}

// RemoveConnection removes connID from every channel it subscribes to,
// e.g. on connection close.
func (r *ChannelRouter) RemoveConnection(connID string) {
	r.mu.RLock()
	ids := make([]string, 0, len(r.channels))
	for id := range r.channels {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	for _, id := range ids {
		r.Unsubscribe(connID, id, "")
	}
}

// ForChannel returns the connection ids currently subscribed to channelID.
func (r *ChannelRouter) ForChannel(channelID string) []string {
	r.mu.RLock()
	cs, ok := r.channels[channelID]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	out := make([]string, 0, len(cs.subscribers))
	for id := range cs.subscribers {
		out = append(out, id)
	}
	return out
}

// ChannelsFor returns the channel ids connID currently subscribes to.
func (r *ChannelRouter) ChannelsFor(connID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for id, cs := range r.channels {
		cs.mu.RLock()
		_, ok := cs.subscribers[connID]
		cs.mu.RUnlock()
		if ok {
			out = append(out, id)
		}
	}
	return out
}

func (cs *channelState) appendHistoryLocked(entry HistoryEntry) {
	capacity := len(cs.ring)
	if capacity == 0 {
		return
	}
	idx := (cs.ringHead + cs.ringLen) % capacity
	cs.ring[idx] = entry
	if cs.ringLen < capacity {
		cs.ringLen++
	} else {
		cs.ringHead = (cs.ringHead + 1) % capacity
	}
}

// snapshotHistoryLocked returns up to n of the most recent entries, oldest first.
func (cs *channelState) snapshotHistoryLocked(n int) []HistoryEntry {
	if n > cs.ringLen {
		n = cs.ringLen
	}
	out := make([]HistoryEntry, 0, n)
	start := cs.ringHead + cs.ringLen - n
	capacity := len(cs.ring)
	for i := 0; i < n; i++ {
		idx := (start + i) % capacity
		out = append(out, cs.ring[idx])
	}
	return out
}
