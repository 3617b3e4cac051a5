// Package cache tests for id-keyed merging and cache persistence.
package cache

import (
	"bytes"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/kimhsiao/catalogsync/internal/models"
	"github.com/kimhsiao/catalogsync/internal/storage"
)

func names(products []models.Product) []string {
	out := make([]string, len(products))
	for i, p := range products {
		out[i] = p.ID + "=" + p.Name
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// =====================================================
// Merge Tests
// =====================================================

// TestMerge verifies upsert semantics: replace in place, append new ids.
func TestMerge(t *testing.T) {
	existing := []models.Product{
		{ID: "1", Name: "Soap"},
		{ID: "2", Name: "Brush"},
		{ID: "3", Name: "Towel"},
	}

	tests := []struct {
		name     string
		incoming []models.Product
		want     []string
	}{
		{
			name:     "empty incoming",
			incoming: nil,
			want:     []string{"1=Soap", "2=Brush", "3=Towel"},
		},
		{
			name:     "replace keeps position",
			incoming: []models.Product{{ID: "2", Name: "Toothbrush"}},
			want:     []string{"1=Soap", "2=Toothbrush", "3=Towel"},
		},
		{
			name:     "new id appended",
			incoming: []models.Product{{ID: "9", Name: "Sponge"}},
			want:     []string{"1=Soap", "2=Brush", "3=Towel", "9=Sponge"},
		},
		{
			name:     "mixed",
			incoming: []models.Product{{ID: "7", Name: "Mop"}, {ID: "1", Name: "Liquid soap"}, {ID: "8", Name: "Bucket"}},
			want:     []string{"1=Liquid soap", "2=Brush", "3=Towel", "7=Mop", "8=Bucket"},
		},
		{
			name:     "duplicate incoming ids, last wins",
			incoming: []models.Product{{ID: "5", Name: "a"}, {ID: "5", Name: "b"}, {ID: "3", Name: "x"}, {ID: "3", Name: "y"}},
			want:     []string{"1=Soap", "2=Brush", "3=y", "5=b"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := names(Merge(existing, tt.incoming))
			if !equal(got, tt.want) {
				t.Errorf("Merge() = %v, want %v", got, tt.want)
			}
		})
	}

	if existing[1].Name != "Brush" {
		t.Error("Merge() modified its input")
	}
}

// TestMerge_EmptyExisting verifies merging into nothing keeps incoming order.
func TestMerge_EmptyExisting(t *testing.T) {
	got := Merge(nil, []models.Brand{{ID: "b", Name: "B"}, {ID: "a", Name: "A"}})
	if len(got) != 2 || got[0].ID != "b" || got[1].ID != "a" {
		t.Errorf("Merge() = %+v", got)
	}
}

// =====================================================
// Cache Tests
// =====================================================

// TestUpsertAndLoad verifies persisted merging through the store.
func TestUpsertAndLoad(t *testing.T) {
	c := New(storage.NewMemoryStore())

	if got := Load[models.Product](c, models.EntityProduct); got != nil {
		t.Errorf("Load() on empty cache = %+v, want nil", got)
	}

	Upsert(c, models.EntityProduct, models.Product{ID: "1", Name: "Soap"}, models.Product{ID: "2", Name: "Brush"})
	n := Upsert(c, models.EntityProduct, models.Product{ID: "1", Name: "Soap XL"}, models.Product{ID: "3", Name: "Towel"})
	if n != 3 {
		t.Errorf("Upsert() = %d, want 3", n)
	}

	got := names(Load[models.Product](c, models.EntityProduct))
	want := []string{"1=Soap XL", "2=Brush", "3=Towel"}
	if !equal(got, want) {
		t.Errorf("Load() = %v, want %v", got, want)
	}

	// Entities are stored independently
	if Load[models.Brand](c, models.EntityBrand) != nil {
		t.Error("brand cache should be empty")
	}
}

// TestDelete verifies local removal by id.
func TestDelete(t *testing.T) {
	c := New(storage.NewMemoryStore())
	Upsert(c, models.EntityCategory, models.Category{ID: "a"}, models.Category{ID: "b"}, models.Category{ID: "c"})

	if !Delete[models.Category](c, models.EntityCategory, "b") {
		t.Error("Delete(b) = false")
	}
	if Delete[models.Category](c, models.EntityCategory, "b") {
		t.Error("second Delete(b) = true")
	}

	got := Load[models.Category](c, models.EntityCategory)
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "c" {
		t.Errorf("Load() = %+v", got)
	}
}

// TestMetadata verifies metadata persistence and reset.
func TestMetadata(t *testing.T) {
	store := storage.NewMemoryStore()
	c := New(store)

	md := c.Metadata(models.EntityBrand)
	if md.LastSync != nil || md.Version != 0 {
		t.Errorf("Metadata() on empty cache = %+v", md)
	}

	ts := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	c.SetMetadata(models.EntityBrand, models.SyncMetadata{LastSync: &ts, Version: 3})
	Upsert(c, models.EntityBrand, models.Brand{ID: "x"})

	md = c.Metadata(models.EntityBrand)
	if md.LastSync == nil || !md.LastSync.Equal(ts) || md.Version != 3 {
		t.Errorf("Metadata() = %+v", md)
	}

	c.ResetMetadata(models.EntityBrand)
	if c.Metadata(models.EntityBrand).LastSync != nil {
		t.Error("ResetMetadata() kept LastSync")
	}
	if len(Load[models.Brand](c, models.EntityBrand)) != 1 {
		t.Error("ResetMetadata() dropped cached data")
	}

	c.SetMetadata(models.EntityBrand, models.SyncMetadata{LastSync: &ts, Version: 4})
	c.Reset(models.EntityBrand)
	if Load[models.Brand](c, models.EntityBrand) != nil || c.Metadata(models.EntityBrand).Version != 0 {
		t.Error("Reset() left data or metadata behind")
	}
}

// TestUpsert_ConcurrentMerges verifies concurrent merges are not lost.
func TestUpsert_ConcurrentMerges(t *testing.T) {
	c := New(storage.NewMemoryStore())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			Upsert(c, models.EntityProduct, models.Product{ID: string(rune('a' + i))})
		}(i)
	}
	wg.Wait()

	if got := len(Load[models.Product](c, models.EntityProduct)); got != 20 {
		t.Errorf("cached %d products, want 20", got)
	}
}

// TestUpsert_Idempotent verifies re-merging the same rows leaves bytes unchanged.
func TestUpsert_Idempotent(t *testing.T) {
	store := storage.NewMemoryStore()
	c := New(store)
	rows := []models.Product{{ID: "1", Name: "Soap", Price: 2.5}, {ID: "2", Name: "Brush"}}

	Upsert(c, models.EntityProduct, rows...)
	before, _ := store.Get(DataKey(models.EntityProduct))
	Upsert(c, models.EntityProduct, rows...)
	after, _ := store.Get(DataKey(models.EntityProduct))

	if !bytes.Equal(before, after) {
		t.Errorf("re-merge changed stored bytes:\n%s\n%s", before, after)
	}

	var raw []json.RawMessage
	json.Unmarshal(after, &raw)
	if len(raw) != 2 {
		t.Errorf("stored %d rows, want 2", len(raw))
	}
}
