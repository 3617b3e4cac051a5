package catalog

import (
	"context"

	"github.com/kimhsiao/catalogsync/internal/models"
	"github.com/kimhsiao/catalogsync/internal/sync/queue"
)

// Handlers returns the replay handlers that push queued actions to the
// backend. The idempotency key on ctx is forwarded by the remote client.
func (s *Service) Handlers() queue.Handlers {
	return queue.Handlers{
		Product: handlersFor(s.remote, models.EntityProduct, models.ProductRowFrom,
			func(p models.Product) string { return p.ID }),
		Category: handlersFor(s.remote, models.EntityCategory, models.CategoryRowFrom,
			func(c models.Category) string { return c.ID }),
		Brand: handlersFor(s.remote, models.EntityBrand, models.BrandRowFrom,
			func(b models.Brand) string { return b.ID }),
	}
}

func handlersFor[T, R any](remote Mutator, entity models.Entity, toRow func(T) R, id func(T) string) *queue.EntityHandlers[T] {
	table := entity.Table()
	return &queue.EntityHandlers[T]{
		Create: func(ctx context.Context, item T) error {
			return remote.Insert(ctx, table, toRow(item))
		},
		Update: func(ctx context.Context, item T) error {
			return remote.Update(ctx, table, id(item), toRow(item))
		},
		Delete: func(ctx context.Context, itemID string) error {
			return remote.Delete(ctx, table, itemID)
		},
	}
}
