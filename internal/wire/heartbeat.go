// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package wire

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/ManuGH/xg2g/internal/log"
	"github.com/ManuGH/xg2g/internal/metrics"
)

// HeartbeatConfig tunes a single connection's ping cadence.
type HeartbeatConfig struct {
	Interval  time.Duration
	Timeout   time.Duration
	MaxMissed int
	Jitter    time.Duration
}

func (c HeartbeatConfig) withDefaults() HeartbeatConfig {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.MaxMissed <= 0 {
		c.MaxMissed = 3
	}
	return c
}

// beatState is SCHEDULED, SENT, MISSED, or EVICTED, per the spec's
// per-connection state machine.
type beatState int

const (
	beatScheduled beatState = iota
	beatSent
	beatMissed
	beatEvicted
)

type connState struct {
	mu   sync.Mutex
	cfg  HeartbeatConfig
	state beatState

	active       bool
	missedCount  int
	lastPing     time.Time
	lastPong     time.Time
	latency      time.Duration
	pingInFlight string // id of the outstanding ping, empty if none

	timer *time.Timer
}

// ManagerConfig tunes the global sweeper shared by all connections.
type ManagerConfig struct {
	SweepInterval   time.Duration
	StaleThreshold  time.Duration
}

func (c ManagerConfig) withDefaults() ManagerConfig {
	if c.SweepInterval <= 0 {
		c.SweepInterval = 60 * time.Second
	}
	if c.StaleThreshold <= 0 {
		c.StaleThreshold = 5 * time.Minute
	}
	return c
}

// HeartbeatManager maintains liveness for a set of connections, identified
// by an opaque id, emitting pings through onPing and expecting pongs fed
// back through HandlePong.
type HeartbeatManager struct {
	cfg ManagerConfig

	onPing    func(id string, pingID string)
	onPong    func(id string, latency time.Duration)
	onTimeout func(id string)

	mu    sync.RWMutex
	conns map[string]*connState

	sweepCancel context.CancelFunc
	sweepDone   chan struct{}

	idSeq uint64
	idMu  sync.Mutex
}

// NewHeartbeatManager constructs a manager and starts its global sweeper.
func NewHeartbeatManager(cfg ManagerConfig, onPing func(id, pingID string), onPong func(id string, latency time.Duration), onTimeout func(id string)) *HeartbeatManager {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	m := &HeartbeatManager{
		cfg:         cfg,
		onPing:      onPing,
		onPong:      onPong,
		onTimeout:   onTimeout,
		conns:       make(map[string]*connState),
		sweepCancel: cancel,
		sweepDone:   make(chan struct{}),
	}
	go m.runSweeper(ctx)
	return m
}

func (m *HeartbeatManager) nextPingID() string {
	m.idMu.Lock()
	defer m.idMu.Unlock()
	m.idSeq++
	return "ping-" + time.Now().UTC().Format("150405.000000000") + "-" + itoa(m.idSeq)
}

func itoa(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// AddConnection registers state for id, initially inactive.
func (m *HeartbeatManager) AddConnection(id string, cfg HeartbeatConfig) {
	cfg = cfg.withDefaults()
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.conns[id]; exists {
		return
	}
	m.conns[id] = &connState{cfg: cfg, state: beatScheduled, lastPong: time.Now()}
}

// Start activates heartbeats for id, or for every connection if id is empty.
// Idempotent.
func (m *HeartbeatManager) Start(id string) {
	m.forEachMatching(id, func(cid string, cs *connState) {
		cs.mu.Lock()
		already := cs.active
		cs.active = true
		cs.mu.Unlock()
		if !already {
			m.scheduleNext(cid, cs)
		}
	})
}

// Stop deactivates heartbeats for id, or for every connection if id is empty.
// Idempotent.
func (m *HeartbeatManager) Stop(id string) {
	m.forEachMatching(id, func(_ string, cs *connState) {
		cs.mu.Lock()
		cs.active = false
		if cs.timer != nil {
			cs.timer.Stop()
		}
		cs.mu.Unlock()
	})
}

func (m *HeartbeatManager) forEachMatching(id string, fn func(string, *connState)) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if id != "" {
		if cs, ok := m.conns[id]; ok {
			fn(id, cs)
		}
		return
	}
	for cid, cs := range m.conns {
		fn(cid, cs)
	}
}

func (m *HeartbeatManager) scheduleNext(id string, cs *connState) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if !cs.active {
		return
	}
	interval := cs.cfg.Interval
	if cs.cfg.Jitter > 0 {
		delta := time.Duration(rand.Int63n(int64(2*cs.cfg.Jitter))) - cs.cfg.Jitter
		interval += delta
		if interval < 0 {
			interval = 0
		}
	}
	cs.state = beatScheduled
	if cs.timer != nil {
		cs.timer.Stop()
	}
	cs.timer = time.AfterFunc(interval, func() {
		m.fire(id)
	})
}

func (m *HeartbeatManager) fire(id string) {
	m.mu.RLock()
	cs, ok := m.conns[id]
	m.mu.RUnlock()
	if !ok {
		return
	}
	cs.mu.Lock()
	if !cs.active {
		cs.mu.Unlock()
		return
	}
	pingID := m.nextPingID()
	cs.state = beatSent
	cs.pingInFlight = pingID
	cs.lastPing = time.Now()
	timeout := cs.cfg.Timeout
	cs.mu.Unlock()

	if m.onPing != nil {
		m.onPing(id, pingID)
	}

	time.AfterFunc(timeout, func() {
		m.handleTimeout(id, pingID)
	})
}

func (m *HeartbeatManager) handleTimeout(id, pingID string) {
	m.mu.RLock()
	cs, ok := m.conns[id]
	m.mu.RUnlock()
	if !ok {
		return
	}
	cs.mu.Lock()
	if cs.pingInFlight != pingID {
		// a pong already arrived for this ping, or the connection moved on.
		cs.mu.Unlock()
		return
	}
	cs.missedCount++
	cs.pingInFlight = ""
	cs.state = beatMissed
	evict := cs.missedCount >= cs.cfg.MaxMissed
	cs.mu.Unlock()

	metrics.RecordHeartbeatMissed("timeout")
	if evict {
		m.evict(id)
		return
	}
	m.scheduleNext(id, cs)
}

// Ping emits an out-of-band ping for id and blocks until the matching pong
// arrives, ctx is canceled, or the connection's timeout elapses.
func (m *HeartbeatManager) Ping(ctx context.Context, id string) (time.Duration, error) {
	m.mu.RLock()
	cs, ok := m.conns[id]
	m.mu.RUnlock()
	if !ok {
		return 0, NewError(CodeInternalError, "unknown connection")
	}

	pingID := m.nextPingID()
	cs.mu.Lock()
	cs.state = beatSent
	cs.pingInFlight = pingID
	cs.lastPing = time.Now()
	timeout := cs.cfg.Timeout
	cs.mu.Unlock()

	if m.onPing != nil {
		m.onPing(id, pingID)
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	poll := time.NewTicker(5 * time.Millisecond)
	defer poll.Stop()
	for {
		select {
		case <-ctx.Done():
			return 0, NewError(CodeTimeout, "ping canceled")
		case <-deadline.C:
			return 0, NewError(CodeTimeout, "ping timed out")
		case <-poll.C:
			cs.mu.Lock()
			if cs.pingInFlight != pingID {
				lat := cs.latency
				cs.mu.Unlock()
				return lat, nil
			}
			cs.mu.Unlock()
		}
	}
}

// HandlePong records a pong for id, resetting its missed-beat counter,
// marking it active and scheduling its next ping, also after Stop. A pong
// for an id that was evicted or never added is ignored.
func (m *HeartbeatManager) HandlePong(id string, originalTimestamp time.Time) {
	m.mu.RLock()
	cs, ok := m.conns[id]
	m.mu.RUnlock()
	if !ok {
		return
	}

	cs.mu.Lock()
	now := time.Now()
	var latency time.Duration
	if !originalTimestamp.IsZero() {
		latency = now.Sub(originalTimestamp)
	} else {
		latency = now.Sub(cs.lastPing)
	}
	cs.lastPong = now
	cs.latency = latency
	cs.missedCount = 0
	cs.pingInFlight = ""
	cs.state = beatScheduled
	cs.active = true
	cs.mu.Unlock()

	m.scheduleNext(id, cs)

	if m.onPong != nil {
		m.onPong(id, latency)
	}
}

// IsAlive reports whether id's last pong is within its configured timeout.
func (m *HeartbeatManager) IsAlive(id string) bool {
	m.mu.RLock()
	cs, ok := m.conns[id]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return time.Since(cs.lastPong) <= cs.cfg.Timeout
}

func (m *HeartbeatManager) evict(id string) {
	m.mu.Lock()
	cs, ok := m.conns[id]
	if ok {
		delete(m.conns, id)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	cs.mu.Lock()
	if cs.timer != nil {
		cs.timer.Stop()
	}
	cs.state = beatEvicted
	cs.mu.Unlock()

	log.WithComponent("heartbeat").Warn().Str("connection_id", id).Msg("connection evicted for missed heartbeats")
	metrics.RecordHeartbeatEviction()
	if m.onTimeout != nil {
		m.onTimeout(id)
	}
}

// runSweeper removes any connection whose lastPong exceeds StaleThreshold,
// regardless of active state, as a belt-and-braces pass against zombie
// connections the per-connection timers somehow missed.
func (m *HeartbeatManager) runSweeper(ctx context.Context) {
	defer close(m.sweepDone)
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweepOnce()
		}
	}
}

func (m *HeartbeatManager) sweepOnce() {
	cutoff := time.Now().Add(-m.cfg.StaleThreshold)
	var stale []string
	m.mu.RLock()
	for id, cs := range m.conns {
		cs.mu.Lock()
		if cs.lastPong.Before(cutoff) {
			stale = append(stale, id)
		}
		cs.mu.Unlock()
	}
	m.mu.RUnlock()

	for _, id := range stale {
		m.evict(id)
	}
}

// Cleanup cancels all timers and removes all connection state. The
// manager is unusable afterward.
func (m *HeartbeatManager) Cleanup() {
	m.sweepCancel()
	<-m.sweepDone

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cs := range m.conns {
		cs.mu.Lock()
		if cs.timer != nil {
			cs.timer.Stop()
		}
		cs.mu.Unlock()
	}
	m.conns = make(map[string]*connState)
}
