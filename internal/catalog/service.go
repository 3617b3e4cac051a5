// Package catalog is the feature layer over the sync core. Mutations go
// straight to the backend while online and into the offline queue
// otherwise; either way the local cache reflects them immediately.
package catalog

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"

	apperrors "github.com/kimhsiao/catalogsync/internal/errors"
	"github.com/kimhsiao/catalogsync/internal/events"
	"github.com/kimhsiao/catalogsync/internal/logging"
	"github.com/kimhsiao/catalogsync/internal/models"
	"github.com/kimhsiao/catalogsync/internal/sync/cache"
	"github.com/kimhsiao/catalogsync/internal/sync/queue"
)

// Mutator is the write side of the remote backend.
type Mutator interface {
	Insert(ctx context.Context, table string, row interface{}) error
	Update(ctx context.Context, table, id string, row interface{}) error
	Delete(ctx context.Context, table, id string) error
}

// OnlineChecker reports the current connectivity status.
type OnlineChecker interface {
	IsOnline() bool
}

// OnlineFunc adapts a function to OnlineChecker.
type OnlineFunc func() bool

// IsOnline implements OnlineChecker.
func (f OnlineFunc) IsOnline() bool { return f() }

// Outcome tells the caller where a mutation went.
type Outcome struct {
	Queued   bool   `json:"queued"`
	ActionID string `json:"actionId,omitempty"`
}

// Service performs catalog mutations and replays the queue.
type Service struct {
	remote    Mutator
	queue     *queue.OfflineQueue
	cache     *cache.Cache
	online    OnlineChecker
	companyID string

	wg sync.WaitGroup
}

// NewService creates a Service. companyID is stamped on new entities that
// do not carry one.
func NewService(remote Mutator, q *queue.OfflineQueue, c *cache.Cache, online OnlineChecker, companyID string) *Service {
	return &Service{
		remote:    remote,
		queue:     q,
		cache:     c,
		online:    online,
		companyID: companyID,
	}
}

// =====================================================
// Products
// =====================================================

// CreateProduct creates p, assigning an id when it has none.
func (s *Service) CreateProduct(ctx context.Context, p models.Product) (models.Product, Outcome, error) {
	if strings.TrimSpace(p.Name) == "" {
		return p, Outcome{}, apperrors.New(apperrors.ErrInvalid, "product name is required")
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CompanyID == "" {
		p.CompanyID = s.companyID
	}
	out, err := apply(ctx, s, models.EntityProduct, models.ActionCreate, p, func(ctx context.Context) error {
		return s.remote.Insert(ctx, models.EntityProduct.Table(), models.ProductRowFrom(p))
	})
	return p, out, err
}

// UpdateProduct replaces the product with p's id.
func (s *Service) UpdateProduct(ctx context.Context, p models.Product) (Outcome, error) {
	if p.ID == "" {
		return Outcome{}, apperrors.New(apperrors.ErrInvalid, "product id is required")
	}
	return apply(ctx, s, models.EntityProduct, models.ActionUpdate, p, func(ctx context.Context) error {
		return s.remote.Update(ctx, models.EntityProduct.Table(), p.ID, models.ProductRowFrom(p))
	})
}

// DeleteProduct deletes the product id.
func (s *Service) DeleteProduct(ctx context.Context, id string) (Outcome, error) {
	return remove[models.Product](ctx, s, models.EntityProduct, id)
}

// Products returns the cached products, optionally restricted to one company.
func (s *Service) Products(companyID string) []models.Product {
	return filterCompany(cache.Load[models.Product](s.cache, models.EntityProduct), companyID,
		func(p models.Product) string { return p.CompanyID })
}

// =====================================================
// Categories
// =====================================================

// CreateCategory creates c, assigning an id when it has none.
func (s *Service) CreateCategory(ctx context.Context, c models.Category) (models.Category, Outcome, error) {
	if strings.TrimSpace(c.Name) == "" {
		return c, Outcome{}, apperrors.New(apperrors.ErrInvalid, "category name is required")
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CompanyID == "" {
		c.CompanyID = s.companyID
	}
	out, err := apply(ctx, s, models.EntityCategory, models.ActionCreate, c, func(ctx context.Context) error {
		return s.remote.Insert(ctx, models.EntityCategory.Table(), models.CategoryRowFrom(c))
	})
	return c, out, err
}

// UpdateCategory replaces the category with c's id.
func (s *Service) UpdateCategory(ctx context.Context, c models.Category) (Outcome, error) {
	if c.ID == "" {
		return Outcome{}, apperrors.New(apperrors.ErrInvalid, "category id is required")
	}
	return apply(ctx, s, models.EntityCategory, models.ActionUpdate, c, func(ctx context.Context) error {
		return s.remote.Update(ctx, models.EntityCategory.Table(), c.ID, models.CategoryRowFrom(c))
	})
}

// DeleteCategory deletes the category id.
func (s *Service) DeleteCategory(ctx context.Context, id string) (Outcome, error) {
	return remove[models.Category](ctx, s, models.EntityCategory, id)
}

// Categories returns the cached categories, optionally restricted to one company.
func (s *Service) Categories(companyID string) []models.Category {
	return filterCompany(cache.Load[models.Category](s.cache, models.EntityCategory), companyID,
		func(c models.Category) string { return c.CompanyID })
}

// =====================================================
// Brands
// =====================================================

// CreateBrand creates b, assigning an id when it has none.
func (s *Service) CreateBrand(ctx context.Context, b models.Brand) (models.Brand, Outcome, error) {
	if strings.TrimSpace(b.Name) == "" {
		return b, Outcome{}, apperrors.New(apperrors.ErrInvalid, "brand name is required")
	}
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.CompanyID == "" {
		b.CompanyID = s.companyID
	}
	out, err := apply(ctx, s, models.EntityBrand, models.ActionCreate, b, func(ctx context.Context) error {
		return s.remote.Insert(ctx, models.EntityBrand.Table(), models.BrandRowFrom(b))
	})
	return b, out, err
}

// UpdateBrand replaces the brand with b's id.
func (s *Service) UpdateBrand(ctx context.Context, b models.Brand) (Outcome, error) {
	if b.ID == "" {
		return Outcome{}, apperrors.New(apperrors.ErrInvalid, "brand id is required")
	}
	return apply(ctx, s, models.EntityBrand, models.ActionUpdate, b, func(ctx context.Context) error {
		return s.remote.Update(ctx, models.EntityBrand.Table(), b.ID, models.BrandRowFrom(b))
	})
}

// DeleteBrand deletes the brand id.
func (s *Service) DeleteBrand(ctx context.Context, id string) (Outcome, error) {
	return remove[models.Brand](ctx, s, models.EntityBrand, id)
}

// Brands returns the cached brands, optionally restricted to one company.
func (s *Service) Brands(companyID string) []models.Brand {
	return filterCompany(cache.Load[models.Brand](s.cache, models.EntityBrand), companyID,
		func(b models.Brand) string { return b.CompanyID })
}

// =====================================================
// Online-or-enqueue
// =====================================================

// shouldQueue reports whether a failed online mutation falls back to the
// queue. Only an unavailable backend does; rejections are returned.
func shouldQueue(err error) bool {
	return apperrors.Is(err, apperrors.ErrRemoteUnavailable)
}

func apply[T models.Identifiable](ctx context.Context, s *Service, entity models.Entity, actionType models.ActionType, item T, send func(context.Context) error) (Outcome, error) {
	if s.online.IsOnline() {
		err := send(ctx)
		if err == nil {
			cache.Upsert(s.cache, entity, item)
			return Outcome{}, nil
		}
		if !shouldQueue(err) {
			return Outcome{}, err
		}
		logging.Warn("Backend unavailable, queueing mutation",
			map[string]interface{}{"entity": string(entity), "type": string(actionType), "id": item.GetID()})
	}

	action, err := s.queue.Add(actionType, entity, item)
	if err != nil {
		return Outcome{}, err
	}
	cache.Upsert(s.cache, entity, item)
	return Outcome{Queued: true, ActionID: action.ID}, nil
}

func remove[T models.Identifiable](ctx context.Context, s *Service, entity models.Entity, id string) (Outcome, error) {
	if id == "" {
		return Outcome{}, apperrors.Newf(apperrors.ErrInvalid, "%s id is required", entity)
	}

	if s.online.IsOnline() {
		err := s.remote.Delete(ctx, entity.Table(), id)
		if err == nil {
			cache.Delete[T](s.cache, entity, id)
			return Outcome{}, nil
		}
		if !shouldQueue(err) {
			return Outcome{}, err
		}
		logging.Warn("Backend unavailable, queueing mutation",
			map[string]interface{}{"entity": string(entity), "type": string(models.ActionDelete), "id": id})
	}

	action, err := s.queue.Add(models.ActionDelete, entity, models.DeletePayload{ID: id})
	if err != nil {
		return Outcome{}, err
	}
	cache.Delete[T](s.cache, entity, id)
	return Outcome{Queued: true, ActionID: action.ID}, nil
}

func filterCompany[T any](items []T, companyID string, company func(T) string) []T {
	if companyID == "" {
		return items
	}
	out := make([]T, 0, len(items))
	for _, item := range items {
		if company(item) == companyID {
			out = append(out, item)
		}
	}
	return out
}

// =====================================================
// Replay
// =====================================================

// ReplayPending replays the offline queue against the backend.
func (s *Service) ReplayPending(ctx context.Context) (queue.ReplayResult, error) {
	return s.queue.ReplayAll(ctx, s.Handlers())
}

// AutoReplay replays the queue in the background after every sync pass
// that finds the service online with actions pending. The returned func
// unsubscribes.
func (s *Service) AutoReplay(ctx context.Context, bus *events.Bus) func() {
	return bus.Subscribe(events.CacheInvalidated, func(events.Event) {
		if !s.online.IsOnline() || s.queue.Count() == 0 {
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if _, err := s.ReplayPending(ctx); err != nil {
				logging.Debug("Automatic replay skipped", map[string]interface{}{"error": err.Error()})
			}
		}()
	})
}

// Wait blocks until background replays have finished.
func (s *Service) Wait() {
	s.wg.Wait()
}
