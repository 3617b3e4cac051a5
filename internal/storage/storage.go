// Package storage provides the persistent key-value substrate for durable
// client state: the offline queue, the dead-letter list, cached entity sets
// and their sync metadata.
package storage

import (
	"encoding/json"
	"errors"
	"sync"

	apperrors "github.com/kimhsiao/catalogsync/internal/errors"
	"github.com/kimhsiao/catalogsync/internal/logging"
)

// ErrNotFound is returned by Get when the key is absent.
var ErrNotFound = errors.New("storage: key not found")

// Store is a synchronous string-keyed byte store that survives process restarts.
type Store interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(key string) ([]byte, error)

	// Set stores value under key, replacing any previous value.
	Set(key string, value []byte) error

	// Remove deletes key. Removing an absent key is not an error.
	Remove(key string) error
}

// AtomicStore is implemented by stores that can run a read-modify-write as
// one unit, excluding every other writer sharing the store.
type AtomicStore interface {
	Store

	// Atomically runs fn against a view of the store in which reads of keys
	// and all writes are isolated from concurrent writers. fn may run more
	// than once and must not have side effects beyond the view.
	Atomically(keys []string, fn func(Store) error) error
}

// fallbackLocks serializes Atomically for stores without native support.
var fallbackLocks sync.Map // map[Store]*sync.Mutex

// Atomically runs fn as one unit over keys of s. Stores that do not
// implement AtomicStore are serialized in-process only.
func Atomically(s Store, keys []string, fn func(Store) error) error {
	if a, ok := s.(AtomicStore); ok {
		return a.Atomically(keys, fn)
	}

	mu, _ := fallbackLocks.LoadOrStore(s, &sync.Mutex{})
	mu.(*sync.Mutex).Lock()
	defer mu.(*sync.Mutex).Unlock()
	return fn(s)
}

// LoadJSON decodes the JSON value stored under key into v.
// It returns false when the key is absent or unreadable; read and decode
// failures are logged and otherwise treated as "empty".
func LoadJSON(s Store, key string, v interface{}) bool {
	data, err := s.Get(key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			logging.ErrorWithCode("Failed to read local storage", string(apperrors.ErrStorage), err,
				map[string]interface{}{"key": key})
		}
		return false
	}

	if err := json.Unmarshal(data, v); err != nil {
		logging.ErrorWithCode("Failed to decode local storage value", string(apperrors.ErrSerialization), err,
			map[string]interface{}{"key": key})
		return false
	}

	return true
}

// SaveJSON encodes v and stores it under key.
// Failures are logged and dropped; it returns whether the write succeeded.
func SaveJSON(s Store, key string, v interface{}) bool {
	data, err := json.Marshal(v)
	if err != nil {
		logging.ErrorWithCode("Failed to encode local storage value", string(apperrors.ErrSerialization), err,
			map[string]interface{}{"key": key})
		return false
	}

	if err := s.Set(key, data); err != nil {
		logging.ErrorWithCode("Failed to write local storage", string(apperrors.ErrStorage), err,
			map[string]interface{}{"key": key})
		return false
	}

	return true
}

// WriteJSON encodes v and stores it under key, returning any failure.
func WriteJSON(s Store, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrSerialization, "failed to encode "+key, err)
	}
	if err := s.Set(key, data); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to write "+key, err)
	}
	return nil
}

// RemoveKey deletes key, logging and dropping any failure.
func RemoveKey(s Store, key string) bool {
	if err := s.Remove(key); err != nil {
		logging.ErrorWithCode("Failed to remove local storage key", string(apperrors.ErrStorage), err,
			map[string]interface{}{"key": key})
		return false
	}
	return true
}
