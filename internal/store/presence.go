// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"

	"github.com/ManuGH/xg2g/internal/realtime"
)

// PresenceStore durably persists presence tuples so a PresenceTracker can
// rehydrate channel state across a process restart instead of every
// reconnect replaying from empty. It is a write-behind companion to the
// in-memory PresenceStateManager, not a replacement for it: reads on the
// hot path still go through realtime.PresenceTracker.
type PresenceStore interface {
	Save(ctx context.Context, p realtime.Presence) error
	Delete(ctx context.Context, channelID, userID, connectionID string) error
	LoadChannel(ctx context.Context, channelID string) ([]realtime.Presence, error)
	DeleteChannel(ctx context.Context, channelID string) error
}
