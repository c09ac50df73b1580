// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"sync"

	"github.com/ManuGH/xg2g/internal/realtime"
)

type presenceTupleKey struct {
	channelID    string
	userID       string
	connectionID string
}

// MemoryPresenceStore is a process-local PresenceStore. One store-wide
// RWMutex guards every channel, so writers to different channels contend
// on it.
type MemoryPresenceStore struct {
	mu       sync.RWMutex
	byKey    map[presenceTupleKey]realtime.Presence
	channels map[string]map[presenceTupleKey]bool
}

// NewMemoryPresenceStore builds an empty store.
func NewMemoryPresenceStore() *MemoryPresenceStore {
	return &MemoryPresenceStore{
		byKey:    make(map[presenceTupleKey]realtime.Presence),
		channels: make(map[string]map[presenceTupleKey]bool),
	}
}

func (s *MemoryPresenceStore) Save(_ context.Context, p realtime.Presence) error {
	key := presenceTupleKey{channelID: p.ChannelID, userID: p.UserID, connectionID: p.ConnectionID}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byKey[key] = p
	if s.channels[p.ChannelID] == nil {
		s.channels[p.ChannelID] = make(map[presenceTupleKey]bool)
	}
	s.channels[p.ChannelID][key] = true
	return nil
}

func (s *MemoryPresenceStore) Delete(_ context.Context, channelID, userID, connectionID string) error {
	key := presenceTupleKey{channelID: channelID, userID: userID, connectionID: connectionID}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byKey, key)
	if set, ok := s.channels[channelID]; ok {
		delete(set, key)
		if len(set) == 0 {
			delete(s.channels, channelID)
		}
	}
	return nil
}

func (s *MemoryPresenceStore) LoadChannel(_ context.Context, channelID string) ([]realtime.Presence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set, ok := s.channels[channelID]
	if !ok {
		return nil, nil
	}
	out := make([]realtime.Presence, 0, len(set))
	for key := range set {
		out = append(out, s.byKey[key])
	}
	return out, nil
}

func (s *MemoryPresenceStore) DeleteChannel(_ context.Context, channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.channels[channelID] {
		delete(s.byKey, key)
	}
	delete(s.channels, channelID)
	return nil
}

var _ PresenceStore = (*MemoryPresenceStore)(nil)
