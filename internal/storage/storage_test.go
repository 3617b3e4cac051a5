// Package storage tests for the key-value store implementations.
package storage

import (
	"bytes"
	"errors"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kimhsiao/catalogsync/internal/db"
)

// =====================================================
// Test Helpers
// =====================================================

func newSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	return openSQLiteStore(t, t.TempDir())
}

// stores returns every Store implementation available in this environment.
func stores(t *testing.T) map[string]Store {
	t.Helper()

	out := map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": newSQLiteStore(t),
	}

	// Redis is exercised only when a server is provided
	if addr := os.Getenv("CATALOG_TEST_REDIS_ADDR"); addr != "" {
		client := redis.NewClient(&redis.Options{Addr: addr})
		t.Cleanup(func() { client.Close() })
		prefix := "catalogsync-test:" + time.Now().Format("150405.000000") + ":"
		out["redis"] = NewRedisStore(client, prefix, time.Second)
	}

	return out
}

// failingStore fails every operation.
type failingStore struct{ err error }

func (f failingStore) Get(string) ([]byte, error) { return nil, f.err }
func (f failingStore) Set(string, []byte) error   { return f.err }
func (f failingStore) Remove(string) error        { return f.err }

// =====================================================
// Store Contract Tests
// =====================================================

// TestStore_GetMissing verifies absent keys return ErrNotFound.
func TestStore_GetMissing(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get("missing")
			if !errors.Is(err, ErrNotFound) {
				t.Errorf("Get() error = %v, want ErrNotFound", err)
			}
		})
	}
}

// TestStore_SetGetRemove verifies the basic round trip and overwrite.
func TestStore_SetGetRemove(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.Set("k", []byte("v1")); err != nil {
				t.Fatalf("Set() failed: %v", err)
			}
			if err := s.Set("k", []byte("v2")); err != nil {
				t.Fatalf("Set() overwrite failed: %v", err)
			}

			got, err := s.Get("k")
			if err != nil {
				t.Fatalf("Get() failed: %v", err)
			}
			if !bytes.Equal(got, []byte("v2")) {
				t.Errorf("Get() = %q, want %q", got, "v2")
			}

			if err := s.Remove("k"); err != nil {
				t.Fatalf("Remove() failed: %v", err)
			}
			if _, err := s.Get("k"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Get() after Remove error = %v, want ErrNotFound", err)
			}

			// Removing twice is fine
			if err := s.Remove("k"); err != nil {
				t.Errorf("Remove() of absent key failed: %v", err)
			}
		})
	}
}

// TestSQLiteStore_Persists verifies values survive reopening the database.
func TestSQLiteStore_Persists(t *testing.T) {
	dir := t.TempDir()

	database, err := db.Open(dir)
	if err != nil {
		t.Fatalf("db.Open() failed: %v", err)
	}
	if err := database.Migrate(); err != nil {
		t.Fatalf("Migrate() failed: %v", err)
	}
	s := NewSQLiteStore(database)
	if err := s.Set("offline_queue", []byte(`[]`)); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	s.Close()
	database.Close()

	database, err = db.Open(dir)
	if err != nil {
		t.Fatalf("db.Open() reopen failed: %v", err)
	}
	defer database.Close()
	s = NewSQLiteStore(database)
	defer s.Close()

	got, err := s.Get("offline_queue")
	if err != nil {
		t.Fatalf("Get() after reopen failed: %v", err)
	}
	if string(got) != `[]` {
		t.Errorf("Get() = %q, want %q", got, `[]`)
	}
}

// TestMemoryStore_CopiesValues verifies callers cannot mutate stored bytes.
func TestMemoryStore_CopiesValues(t *testing.T) {
	s := NewMemoryStore()

	in := []byte("abc")
	s.Set("k", in)
	in[0] = 'x'

	got, _ := s.Get("k")
	if string(got) != "abc" {
		t.Errorf("stored value mutated through input slice: %q", got)
	}

	got[1] = 'y'
	again, _ := s.Get("k")
	if string(again) != "abc" {
		t.Errorf("stored value mutated through returned slice: %q", again)
	}

	s.Set("other", nil)
	keys := s.Keys()
	sort.Strings(keys)
	if len(keys) != 2 || keys[0] != "k" || keys[1] != "other" {
		t.Errorf("Keys() = %v, want [k other]", keys)
	}
}

// =====================================================
// JSON Helper Tests
// =====================================================

type sample struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// TestSaveLoadJSON verifies the JSON helpers round-trip values.
func TestSaveLoadJSON(t *testing.T) {
	s := NewMemoryStore()

	if !SaveJSON(s, "sample", sample{Name: "a", Count: 2}) {
		t.Fatal("SaveJSON() = false, want true")
	}

	var got sample
	if !LoadJSON(s, "sample", &got) {
		t.Fatal("LoadJSON() = false, want true")
	}
	if got.Name != "a" || got.Count != 2 {
		t.Errorf("LoadJSON() = %+v", got)
	}

	if !RemoveKey(s, "sample") {
		t.Fatal("RemoveKey() = false, want true")
	}
	if LoadJSON(s, "sample", &got) {
		t.Error("LoadJSON() after RemoveKey = true, want false")
	}
}

// TestLoadJSON_Failures verifies unreadable values are treated as empty.
func TestLoadJSON_Failures(t *testing.T) {
	tests := []struct {
		name  string
		store Store
	}{
		{"missing key", NewMemoryStore()},
		{"read error", failingStore{err: errors.New("disk gone")}},
		{"corrupt value", func() Store {
			s := NewMemoryStore()
			s.Set("sample", []byte("{not json"))
			return s
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got sample
			if LoadJSON(tt.store, "sample", &got) {
				t.Error("LoadJSON() = true, want false")
			}
		})
	}
}

// TestSaveJSON_Failures verifies write failures are reported, not raised.
func TestSaveJSON_Failures(t *testing.T) {
	s := failingStore{err: errors.New("quota exceeded")}

	if SaveJSON(s, "sample", sample{}) {
		t.Error("SaveJSON() on failing store = true, want false")
	}
	if SaveJSON(NewMemoryStore(), "sample", make(chan int)) {
		t.Error("SaveJSON() of unencodable value = true, want false")
	}
	if RemoveKey(s, "sample") {
		t.Error("RemoveKey() on failing store = true, want false")
	}
}

// =====================================================
// Atomic Update Tests
// =====================================================

// plainStore hides any AtomicStore implementation of the wrapped store.
type plainStore struct{ Store }

func openSQLiteStore(t *testing.T, dir string) *SQLiteStore {
	t.Helper()

	database, err := db.Open(dir)
	if err != nil {
		t.Fatalf("db.Open() failed: %v", err)
	}
	if err := database.Migrate(); err != nil {
		database.Close()
		t.Fatalf("Migrate() failed: %v", err)
	}

	s := NewSQLiteStore(database)
	t.Cleanup(func() {
		s.Close()
		database.Close()
	})
	return s
}

// TestAtomically_NoLostUpdates verifies concurrent read-modify-writes through
// two handles on one store all land.
func TestAtomically_NoLostUpdates(t *testing.T) {
	type pair struct{ a, b Store }

	mem := NewMemoryStore()
	plain := &plainStore{Store: NewMemoryStore()}
	dir := t.TempDir()

	tests := map[string]pair{
		"memory":             {mem, mem},
		"without native tx":  {plain, plain},
		"sqlite two handles": {openSQLiteStore(t, dir), openSQLiteStore(t, dir)},
	}
	for name, s := range stores(t) {
		if name == "redis" {
			tests[name] = pair{s, s}
		}
	}

	const perHandle = 10
	increment := func(s Store) error {
		return Atomically(s, []string{"counter"}, func(v Store) error {
			var n int
			LoadJSON(v, "counter", &n)
			time.Sleep(time.Millisecond)
			return WriteJSON(v, "counter", n+1)
		})
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			errs := make(chan error, 2*perHandle)
			var wg sync.WaitGroup
			for _, s := range []Store{tt.a, tt.b} {
				wg.Add(1)
				go func(s Store) {
					defer wg.Done()
					for i := 0; i < perHandle; i++ {
						errs <- increment(s)
					}
				}(s)
			}
			wg.Wait()
			close(errs)

			for err := range errs {
				if err != nil {
					t.Fatalf("Atomically() failed: %v", err)
				}
			}
			var n int
			if !LoadJSON(tt.a, "counter", &n) || n != 2*perHandle {
				t.Errorf("counter = %d, want %d", n, 2*perHandle)
			}
		})
	}
}

// TestAtomically_RollsBackOnError verifies a failing update leaves no writes.
func TestAtomically_RollsBackOnError(t *testing.T) {
	boom := errors.New("boom")

	for name, s := range stores(t) {
		if name == "memory" {
			// Writes through the memory store are immediate.
			continue
		}
		t.Run(name, func(t *testing.T) {
			err := Atomically(s, []string{"k"}, func(v Store) error {
				if err := v.Set("k", []byte("partial")); err != nil {
					return err
				}
				return boom
			})
			if !errors.Is(err, boom) {
				t.Fatalf("Atomically() error = %v, want boom", err)
			}
			if _, err := s.Get("k"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Get() after failed update error = %v, want ErrNotFound", err)
			}
		})
	}
}

// TestWriteJSON_Failures verifies write failures are returned.
func TestWriteJSON_Failures(t *testing.T) {
	if err := WriteJSON(failingStore{err: errors.New("quota exceeded")}, "sample", sample{}); err == nil {
		t.Error("WriteJSON() on failing store succeeded")
	}
	if err := WriteJSON(NewMemoryStore(), "sample", make(chan int)); err == nil {
		t.Error("WriteJSON() of unencodable value succeeded")
	}
}
