// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package realtime

import (
	"sync"

	"github.com/ManuGH/xg2g/internal/wire"
)

// tenantShard holds every connection belonging to one tenant, under its own
// lock so that high-traffic tenants don't contend with each other.
type tenantShard struct {
	mu    sync.RWMutex
	conns map[string]*Connection
}

// ConnectionRegistry tracks connections by id and by tenant. Lookup by id,
// by tenant, and via the channel router observe the same connection set at
// any linearization point because removal always clears both indexes
// before returning.
type ConnectionRegistry struct {
	mu      sync.RWMutex // guards byID and the tenants map's keys, not shard contents
	byID    map[string]*Connection
	tenants map[string]*tenantShard
}

// NewConnectionRegistry constructs an empty registry.
func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{
		byID:    make(map[string]*Connection),
		tenants: make(map[string]*tenantShard),
	}
}

// Insert adds conn to the registry. Returns an error if its id is already
// present.
func (r *ConnectionRegistry) Insert(conn *Connection) error {
	r.mu.Lock()
	if _, exists := r.byID[conn.ID]; exists {
		r.mu.Unlock()
		return wire.NewError(wire.CodeInternalError, "connection id already registered")
	}
	r.byID[conn.ID] = conn
	shard, ok := r.tenants[conn.TenantID]
	if !ok {
		shard = &tenantShard{conns: make(map[string]*Connection)}
		r.tenants[conn.TenantID] = shard
	}
	r.mu.Unlock()

	shard.mu.Lock()
	shard.conns[conn.ID] = conn
	shard.mu.Unlock()
	return nil
}

// Remove deletes id from both indexes. No-op if not present.
func (r *ConnectionRegistry) Remove(id string) {
	r.mu.Lock()
	conn, ok := r.byID[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.byID, id)
	shard := r.tenants[conn.TenantID]
	r.mu.Unlock()

	if shard != nil {
		shard.mu.Lock()
		delete(shard.conns, id)
		shard.mu.Unlock()
	}
}

// Get returns the connection for id, if present.
func (r *ConnectionRegistry) Get(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byID[id]
	return c, ok
}

// ForTenant returns a point-in-time slice of every connection owned by
// tenantID.
func (r *ConnectionRegistry) ForTenant(tenantID string) []*Connection {
	r.mu.RLock()
	shard, ok := r.tenants[tenantID]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	shard.mu.RLock()
	defer shard.mu.RUnlock()
	out := make([]*Connection, 0, len(shard.conns))
	for _, c := range shard.conns {
		out = append(out, c)
	}
	return out
}

// Transition moves a connection to newState, removing it from the registry
// entirely once it reaches CLOSED.
func (r *ConnectionRegistry) Transition(id string, newState ConnState) error {
	conn, ok := r.Get(id)
	if !ok {
		return wire.NewError(wire.CodeInternalError, "unknown connection")
	}
	if err := conn.Transition(newState); err != nil {
		return err
	}
	if newState == StateClosed {
		r.Remove(id)
	}
	return nil
}

// Resolve maps connection ids to live *Connection values, skipping any id
// that no longer exists (e.g. raced with a close).
func (r *ConnectionRegistry) Resolve(ids []string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Connection, 0, len(ids))
	for _, id := range ids {
		if c, ok := r.byID[id]; ok {
			out = append(out, c)
		}
	}
	return out
}

// Count returns the number of currently registered connections.
func (r *ConnectionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Shutdown transitions every tracked connection to CLOSED and empties the
// registry, mirroring what a process crash would leave a restart to find.
func (r *ConnectionRegistry) Shutdown() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		if conn, ok := r.Get(id); ok {
			_ = conn.Transition(StateClosed)
		}
		r.Remove(id)
	}
}
