// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/ManuGH/xg2g/internal/realtime"
)

// BadgerPresenceStore is a durable, embedded PresenceStore. Keys are
// "presence:<channelID>:<userID>:<connectionID>" so a single prefix scan
// rehydrates an entire channel on restart.
type BadgerPresenceStore struct {
	db *badger.DB
}

// OpenBadgerPresenceStore opens (creating if absent) a Badger database at
// path for presence persistence.
func OpenBadgerPresenceStore(path string) (*BadgerPresenceStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger presence store: %w", err)
	}
	return &BadgerPresenceStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *BadgerPresenceStore) Close() error {
	return s.db.Close()
}

func presenceBadgerKey(channelID, userID, connectionID string) []byte {
	return []byte("presence:" + channelID + ":" + userID + ":" + connectionID)
}

func presenceChannelPrefix(channelID string) []byte {
	return []byte("presence:" + channelID + ":")
}

func (s *BadgerPresenceStore) Save(_ context.Context, p realtime.Presence) error {
	key := presenceBadgerKey(p.ChannelID, p.UserID, p.ConnectionID)
	buf, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode presence: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, buf)
	})
}

func (s *BadgerPresenceStore) Delete(_ context.Context, channelID, userID, connectionID string) error {
	key := presenceBadgerKey(channelID, userID, connectionID)
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

func (s *BadgerPresenceStore) LoadChannel(ctx context.Context, channelID string) ([]realtime.Presence, error) {
	prefix := presenceChannelPrefix(channelID)
	var out []realtime.Presence
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			item := it.Item()
			var p realtime.Presence
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &p)
			}); err != nil {
				continue
			}
			out = append(out, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load channel presence: %w", err)
	}
	return out, nil
}

func (s *BadgerPresenceStore) DeleteChannel(_ context.Context, channelID string) error {
	prefix := presenceChannelPrefix(channelID)
	return s.db.DropPrefix(prefix)
}

var _ PresenceStore = (*BadgerPresenceStore)(nil)
