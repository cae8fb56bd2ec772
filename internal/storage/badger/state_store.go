package badger

import (
	"bytes"
	"context"
	"fmt"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quorum/internal/interfaces"
	"github.com/timshannon/badgerhold/v4"
)

// StateEntry is the stored record for one state store key. Expiry is lazy:
// an expired entry reads as not-found and is removed on next access.
type StateEntry struct {
	Key       string    `badgerhold:"key"`
	Value     []byte    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"` // zero means no expiry
	UpdatedAt time.Time `json:"updated_at"`
}

func (e *StateEntry) expired() bool {
	return !e.ExpiresAt.IsZero() && time.Now().After(e.ExpiresAt)
}

// StateStore implements interfaces.StateStore on badgerhold
type StateStore struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewStateStore creates a new StateStore instance
func NewStateStore(db *BadgerDB, logger arbor.ILogger) interfaces.StateStore {
	return &StateStore{
		db:     db,
		logger: logger,
	}
}

// Get retrieves a value by key
func (s *StateStore) Get(ctx context.Context, key string) ([]byte, error) {
	var entry StateEntry
	err := s.db.Store().Get(key, &entry)
	if err == badgerhold.ErrNotFound {
		return nil, interfaces.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get key %s: %w", key, err)
	}
	if entry.expired() {
		_ = s.db.Store().Delete(key, &StateEntry{})
		return nil, interfaces.ErrKeyNotFound
	}
	return entry.Value, nil
}

// Set inserts or updates a value. A zero TTL means no expiry.
func (s *StateStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	entry := StateEntry{
		Key:       key,
		Value:     value,
		UpdatedAt: time.Now(),
	}
	if ttl > 0 {
		entry.ExpiresAt = time.Now().Add(ttl)
	}
	if err := s.db.Store().Upsert(key, &entry); err != nil {
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	return nil
}

// CAS replaces the value only if the stored value equals expected. A nil
// expected asserts the key does not exist. The read and write share one
// Badger transaction so concurrent writers serialize.
func (s *StateStore) CAS(ctx context.Context, key string, expected, value []byte) error {
	store := s.db.Store()
	err := store.Badger().Update(func(txn *badgerdb.Txn) error {
		var current StateEntry
		getErr := store.TxGet(txn, key, &current)

		exists := getErr == nil && !current.expired()
		if getErr != nil && getErr != badgerhold.ErrNotFound {
			return fmt.Errorf("failed to read key %s: %w", key, getErr)
		}

		if expected == nil {
			if exists {
				return interfaces.ErrConflict
			}
		} else {
			if !exists || !bytes.Equal(current.Value, expected) {
				return interfaces.ErrConflict
			}
		}

		entry := StateEntry{
			Key:       key,
			Value:     value,
			UpdatedAt: time.Now(),
		}
		return store.TxUpsert(txn, key, &entry)
	})
	if err != nil {
		return err
	}
	return nil
}

// Delete removes a key
func (s *StateStore) Delete(ctx context.Context, key string) error {
	err := s.db.Store().Delete(key, &StateEntry{})
	if err == badgerhold.ErrNotFound {
		return interfaces.ErrKeyNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return nil
}
