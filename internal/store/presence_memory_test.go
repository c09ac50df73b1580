// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/xg2g/internal/realtime"
)

func TestMemoryPresenceStore_SaveAndLoadChannel(t *testing.T) {
	s := NewMemoryPresenceStore()
	ctx := context.Background()

	p := realtime.Presence{ChannelID: "c1", UserID: "u1", ConnectionID: "conn1", Status: realtime.PresenceOnline, JoinedAt: time.Now()}
	require.NoError(t, s.Save(ctx, p))

	loaded, err := s.LoadChannel(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "u1", loaded[0].UserID)
}

func TestMemoryPresenceStore_Delete(t *testing.T) {
	s := NewMemoryPresenceStore()
	ctx := context.Background()

	p := realtime.Presence{ChannelID: "c1", UserID: "u1", ConnectionID: "conn1"}
	require.NoError(t, s.Save(ctx, p))
	require.NoError(t, s.Delete(ctx, "c1", "u1", "conn1"))

	loaded, err := s.LoadChannel(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestMemoryPresenceStore_DeleteChannelRemovesAllTuples(t *testing.T) {
	s := NewMemoryPresenceStore()
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, realtime.Presence{ChannelID: "c1", UserID: "u1", ConnectionID: "conn1"}))
	require.NoError(t, s.Save(ctx, realtime.Presence{ChannelID: "c1", UserID: "u2", ConnectionID: "conn2"}))

	require.NoError(t, s.DeleteChannel(ctx, "c1"))

	loaded, err := s.LoadChannel(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestMemoryPresenceStore_LoadUnknownChannelReturnsEmpty(t *testing.T) {
	s := NewMemoryPresenceStore()
	loaded, err := s.LoadChannel(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Empty(t, loaded)
}
