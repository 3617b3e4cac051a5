// Package sync provides the sync manager: incremental pulls of the catalog
// entities from the remote backend, merged into the local cache.
package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	apperrors "github.com/kimhsiao/catalogsync/internal/errors"
	"github.com/kimhsiao/catalogsync/internal/events"
	"github.com/kimhsiao/catalogsync/internal/logging"
	"github.com/kimhsiao/catalogsync/internal/metrics"
	"github.com/kimhsiao/catalogsync/internal/models"
	"github.com/kimhsiao/catalogsync/internal/notify"
	"github.com/kimhsiao/catalogsync/internal/sync/cache"
)

// Backend is the read side of the remote backend.
type Backend interface {
	// Select returns the rows of table ordered by name. When since is non-nil
	// only rows with updated_at >= since are returned.
	Select(ctx context.Context, table string, since *time.Time) ([]json.RawMessage, error)
}

// EntityResult is the outcome of one entity pull.
type EntityResult struct {
	Success bool `json:"success"`
	Updated int  `json:"updated"`
}

// AllResult aggregates a SyncAll pass. Success is true only when every
// entity pull succeeded; the per-entity results tell which ones failed.
type AllResult struct {
	Success    bool                           `json:"success"`
	Products   int                            `json:"products"`
	Categories int                            `json:"categories"`
	Brands     int                            `json:"brands"`
	Entities   map[models.Entity]EntityResult `json:"entities,omitempty"`
}

// Total returns the number of rows merged across all entities.
func (r AllResult) Total() int {
	return r.Products + r.Categories + r.Brands
}

// Manager pulls remote state into the cache.
type Manager struct {
	backend  Backend
	cache    *cache.Cache
	notifier notify.Notifier
	bus      *events.Bus
	metrics  *metrics.Metrics
	now      func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithBus publishes sync lifecycle events.
func WithBus(bus *events.Bus) Option {
	return func(m *Manager) { m.bus = bus }
}

// WithMetrics records pull outcomes.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithClock overrides the time source used for lastSync.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a Manager. A nil notifier discards notifications.
func NewManager(backend Backend, c *cache.Cache, notifier notify.Notifier, opts ...Option) *Manager {
	if notifier == nil {
		notifier = notify.Discard
	}
	m := &Manager{
		backend:  backend,
		cache:    c,
		notifier: notifier,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SyncProducts pulls products changed since the last product sync.
func (m *Manager) SyncProducts(ctx context.Context) EntityResult {
	return pull(ctx, m, models.EntityProduct, models.ProductRow.ToProduct)
}

// SyncCategories pulls utility categories changed since the last category sync.
func (m *Manager) SyncCategories(ctx context.Context) EntityResult {
	return pull(ctx, m, models.EntityCategory, models.CategoryRow.ToCategory)
}

// SyncBrands pulls brands changed since the last brand sync.
func (m *Manager) SyncBrands(ctx context.Context) EntityResult {
	return pull(ctx, m, models.EntityBrand, models.BrandRow.ToBrand)
}

// pull runs one incremental pull. An empty result leaves the cache and the
// metadata untouched. Errors are logged and reported as {false, 0}.
func pull[R any, T models.Identifiable](ctx context.Context, m *Manager, entity models.Entity, convert func(R) T) EntityResult {
	started := m.now().UTC()
	md := m.cache.Metadata(entity)

	rows, err := m.backend.Select(ctx, entity.Table(), md.LastSync)
	if err != nil {
		logging.ErrorWithCode("Entity pull failed", string(apperrors.ErrRemoteQuery), err,
			map[string]interface{}{"entity": string(entity), "full": md.LastSync == nil})
		m.metrics.ObservePull(string(entity), false, 0)
		return EntityResult{Success: false, Updated: 0}
	}

	if len(rows) == 0 {
		m.metrics.ObservePull(string(entity), true, 0)
		return EntityResult{Success: true, Updated: 0}
	}

	items := make([]T, 0, len(rows))
	for _, raw := range rows {
		var row R
		if err := json.Unmarshal(raw, &row); err != nil {
			logging.ErrorWithCode("Failed to decode remote row", string(apperrors.ErrSerialization), err,
				map[string]interface{}{"entity": string(entity)})
			m.metrics.ObservePull(string(entity), false, 0)
			return EntityResult{Success: false, Updated: 0}
		}
		items = append(items, convert(row))
	}

	cache.Upsert(m.cache, entity, items...)
	m.cache.SetMetadata(entity, models.SyncMetadata{
		LastSync: &started,
		Version:  md.Version + 1,
	})

	logging.Info("Entity pull merged",
		map[string]interface{}{
			"entity":  string(entity),
			"updated": len(items),
			"version": md.Version + 1,
		})
	m.metrics.ObservePull(string(entity), true, len(items))

	return EntityResult{Success: true, Updated: len(items)}
}

// SyncAll pulls the three entities concurrently. One entity's failure does
// not affect the others. A panic during the pass is recovered and reported
// with a single error notification.
func (m *Manager) SyncAll(ctx context.Context) (result AllResult) {
	start := time.Now()
	m.bus.Publish(events.SyncStarted, nil)

	defer func() {
		if r := recover(); r != nil {
			m.fail(fmt.Errorf("sync panicked: %v", r))
			result = AllResult{Success: false}
		}
		m.metrics.ObserveSyncDuration(time.Since(start).Seconds())
		m.bus.Publish(events.SyncCompleted, map[string]interface{}{
			"success": result.Success,
			"total":   result.Total(),
		})
	}()

	pulls := []struct {
		entity models.Entity
		run    func(context.Context) EntityResult
	}{
		{models.EntityProduct, m.SyncProducts},
		{models.EntityCategory, m.SyncCategories},
		{models.EntityBrand, m.SyncBrands},
	}
	results := make([]EntityResult, len(pulls))

	var g errgroup.Group
	for i, p := range pulls {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("%s pull panicked: %v", p.entity, r)
				}
			}()
			results[i] = p.run(ctx)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		m.fail(err)
		return AllResult{Success: false}
	}

	result = AllResult{
		Success:    true,
		Products:   results[0].Updated,
		Categories: results[1].Updated,
		Brands:     results[2].Updated,
		Entities:   make(map[models.Entity]EntityResult, len(pulls)),
	}
	for i, p := range pulls {
		result.Entities[p.entity] = results[i]
		if !results[i].Success {
			result.Success = false
		}
	}

	if total := result.Total(); total > 0 {
		m.notifier.Notify(fmt.Sprintf("%d items synchronized", total), notify.Success)
	}

	logging.Info("Sync completed",
		map[string]interface{}{
			"success":    result.Success,
			"products":   result.Products,
			"categories": result.Categories,
			"brands":     result.Brands,
			"duration":   time.Since(start).String(),
		})

	return result
}

func (m *Manager) fail(err error) {
	logging.ErrorWithCode("Sync failed", string(apperrors.ErrSyncFailed), err, nil)
	m.notifier.Notify("Synchronization failed", notify.Error)
}

// ForceFullSync forgets every entity's lastSync and runs SyncAll, so every
// collection is pulled in full. Cached data is kept and merged into.
func (m *Manager) ForceFullSync(ctx context.Context) AllResult {
	for _, entity := range models.Entities {
		m.cache.ResetMetadata(entity)
	}
	logging.Info("Sync metadata reset, forcing full sync", nil)
	return m.SyncAll(ctx)
}

// Metadata returns the current sync metadata of entity.
func (m *Manager) Metadata(entity models.Entity) models.SyncMetadata {
	return m.cache.Metadata(entity)
}
