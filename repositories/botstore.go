// Package repositories holds the persistence layer of the bot, backed by
// BadgerDB with CBOR-encoded values.
package repositories

import (
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"
	"github.com/fxamacker/cbor/v2"

	"mucbot/contract"
)

var _ contract.Store = (*BotStore)(nil)

// BotStore is the durable key-value store of the bot. The core writes two
// keys (the room invited set and the last-seen map) on shutdown and before
// every reload, and loads them when the store is attached.
type BotStore struct {
	db  *badger.DB
	log *slog.Logger
}

func NewBotStore(db *badger.DB, log *slog.Logger) *BotStore {
	return &BotStore{db: db, log: log}
}

// Get decodes the value stored under key into out. A missing key is not
// an error: the caller keeps its default.
func (s *BotStore) Get(key string, out any) (bool, error) {
	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			raw = append(raw[:0], val...)
			return nil
		})
	})
	if err == badger.ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store get %q: %w", key, err)
	}
	if err := cbor.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("store decode %q: %w", key, err)
	}
	return true, nil
}

func (s *BotStore) Set(key string, value any) error {
	bytes, err := cbor.Marshal(value)
	if err != nil {
		return fmt.Errorf("store encode %q: %w", key, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), bytes)
	})
}

func (s *BotStore) Close() error {
	s.log.Info("Closing persistent bot store")
	return s.db.Close()
}
