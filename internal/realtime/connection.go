// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package realtime implements the session layer: connection tracking,
// per-channel fan-out, and presence state.
package realtime

import (
	"sync"
	"time"

	"github.com/ManuGH/xg2g/internal/wire"
)

// ConnState is a Connection's lifecycle state.
type ConnState string

const (
	StateHandshaking ConnState = "HANDSHAKING"
	StateOpen        ConnState = "OPEN"
	StateDraining    ConnState = "DRAINING"
	StateClosed      ConnState = "CLOSED"
)

// validTransitions enumerates the allowed state machine edges.
var validTransitions = map[ConnState]map[ConnState]bool{
	StateHandshaking: {StateOpen: true, StateClosed: true},
	StateOpen:        {StateDraining: true, StateClosed: true},
	StateDraining:    {StateClosed: true},
	StateClosed:      {},
}

// Connection is an authenticated, tenant-bound logical session. It owns a
// single outbound queue; only ChannelRouter and control-path code may send
// on it, and only the connection's writer goroutine may receive.
type Connection struct {
	ID            string
	TenantID      string
	RemoteAddress string
	EstablishedAt time.Time

	Outbound chan wire.Frame

	mu         sync.RWMutex
	state      ConnState
	lastSeenAt time.Time
	latency    time.Duration
}

// NewConnection constructs a Connection in the HANDSHAKING state with a
// bounded outbound queue of the given capacity.
func NewConnection(id, tenantID, remoteAddr string, queueSize int) *Connection {
	now := time.Now()
	return &Connection{
		ID:            id,
		TenantID:      tenantID,
		RemoteAddress: remoteAddr,
		EstablishedAt: now,
		Outbound:      make(chan wire.Frame, queueSize),
		state:         StateHandshaking,
		lastSeenAt:    now,
	}
}

// State returns the connection's current lifecycle state.
func (c *Connection) State() ConnState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Transition moves the connection to newState if the edge is legal.
func (c *Connection) Transition(newState ConnState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == newState {
		return nil
	}
	if !validTransitions[c.state][newState] {
		return wire.NewError(wire.CodeInternalError, "illegal connection state transition")
	}
	c.state = newState
	return nil
}

// TouchSeen records inbound or outbound activity for idle-tracking.
func (c *Connection) TouchSeen() {
	c.mu.Lock()
	c.lastSeenAt = time.Now()
	c.mu.Unlock()
}

// LastSeenAt returns the last time activity was recorded on this connection.
func (c *Connection) LastSeenAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastSeenAt
}

// SetLatency records the most recently measured heartbeat round-trip time.
func (c *Connection) SetLatency(d time.Duration) {
	c.mu.Lock()
	c.latency = d
	c.mu.Unlock()
}

// Latency returns the most recently measured heartbeat round-trip time.
func (c *Connection) Latency() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.latency
}

// Send enqueues a frame without blocking. It fails if the connection is not
// OPEN (DRAINING refuses new sends, per the "complete in-flight, refuse new"
// policy) or if the outbound queue is full.
func (c *Connection) Send(frame wire.Frame) error {
	if c.State() != StateOpen {
		return wire.NewError(wire.CodeInternalError, "connection is not open for new sends")
	}
	select {
	case c.Outbound <- frame:
		return nil
	default:
		return wire.NewError(wire.CodePublishFailed, "connection outbound queue is full")
	}
}

// Snapshot is a serializable projection of a Connection plus its
// subscribed channel ids, for warm-restart hints at a pluggable store.
type Snapshot struct {
	ID            string    `json:"id"`
	TenantID      string    `json:"tenantId"`
	RemoteAddress string    `json:"remoteAddress"`
	EstablishedAt time.Time `json:"establishedAt"`
	LastSeenAt    time.Time `json:"lastSeenAt"`
	State         ConnState `json:"state"`
	SubscribedTo  []string  `json:"subscribedTo"`
}

// ToSnapshot captures conn's current observable state plus its channel
// memberships as reported by router.
func ToSnapshot(conn *Connection, router *ChannelRouter) Snapshot {
	return Snapshot{
		ID:            conn.ID,
		TenantID:      conn.TenantID,
		RemoteAddress: conn.RemoteAddress,
		EstablishedAt: conn.EstablishedAt,
		LastSeenAt:    conn.LastSeenAt(),
		State:         conn.State(),
		SubscribedTo:  router.ChannelsFor(conn.ID),
	}
}
