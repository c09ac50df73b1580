// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package realtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionRegistryInsertAndGet(t *testing.T) {
	reg := NewConnectionRegistry()
	conn := NewConnection("c1", "tenant-a", "10.0.0.1:1234", 8)

	require.NoError(t, reg.Insert(conn))

	got, ok := reg.Get("c1")
	require.True(t, ok)
	assert.Equal(t, conn, got)

	assert.Error(t, reg.Insert(conn), "duplicate id must be rejected")
}

func TestConnectionRegistryForTenantIsolatesShards(t *testing.T) {
	reg := NewConnectionRegistry()
	a1 := NewConnection("a1", "tenant-a", "", 8)
	a2 := NewConnection("a2", "tenant-a", "", 8)
	b1 := NewConnection("b1", "tenant-b", "", 8)

	require.NoError(t, reg.Insert(a1))
	require.NoError(t, reg.Insert(a2))
	require.NoError(t, reg.Insert(b1))

	assert.Len(t, reg.ForTenant("tenant-a"), 2)
	assert.Len(t, reg.ForTenant("tenant-b"), 1)
	assert.Empty(t, reg.ForTenant("tenant-missing"))
}

func TestConnectionRegistryTransitionToClosedRemoves(t *testing.T) {
	reg := NewConnectionRegistry()
	conn := NewConnection("c1", "tenant-a", "", 8)
	require.NoError(t, reg.Insert(conn))
	require.NoError(t, conn.Transition(StateOpen))

	require.NoError(t, reg.Transition("c1", StateClosed))

	_, ok := reg.Get("c1")
	assert.False(t, ok)
	assert.Equal(t, 0, reg.Count())
}

func TestConnectionRegistryResolveSkipsMissing(t *testing.T) {
	reg := NewConnectionRegistry()
	conn := NewConnection("c1", "tenant-a", "", 8)
	require.NoError(t, reg.Insert(conn))

	resolved := reg.Resolve([]string{"c1", "ghost"})
	require.Len(t, resolved, 1)
	assert.Equal(t, "c1", resolved[0].ID)
}

func TestConnectionRegistryShutdownClosesEverything(t *testing.T) {
	reg := NewConnectionRegistry()
	for _, id := range []string{"c1", "c2", "c3"} {
		conn := NewConnection(id, "tenant-a", "", 8)
		require.NoError(t, conn.Transition(StateOpen))
		require.NoError(t, reg.Insert(conn))
	}

	reg.Shutdown()

	assert.Equal(t, 0, reg.Count())
	assert.Empty(t, reg.ForTenant("tenant-a"))
}

func TestConnectionStateMachineRejectsIllegalTransitions(t *testing.T) {
	conn := NewConnection("c1", "tenant-a", "", 8)
	require.Equal(t, StateHandshaking, conn.State())

	assert.Error(t, conn.Transition(StateDraining))

	require.NoError(t, conn.Transition(StateOpen))
	require.NoError(t, conn.Transition(StateDraining))
	assert.Error(t, conn.Transition(StateOpen), "draining connections may only close")
	require.NoError(t, conn.Transition(StateClosed))
	assert.Error(t, conn.Transition(StateOpen))
}

func TestConnectionSendRefusedUnlessOpen(t *testing.T) {
	conn := NewConnection("c1", "tenant-a", "", 1)
	assert.Error(t, conn.Send([]byte("frame")), "handshaking connections refuse sends")

	require.NoError(t, conn.Transition(StateOpen))
	assert.NoError(t, conn.Send([]byte("frame")))

	require.NoError(t, conn.Transition(StateDraining))
	assert.Error(t, conn.Send([]byte("frame")), "draining connections refuse new sends")
}
