package queue

import (
	"context"
	"encoding/json"
	"fmt"

	apperrors "github.com/kimhsiao/catalogsync/internal/errors"
	"github.com/kimhsiao/catalogsync/internal/models"
)

// EntityHandlers performs the remote mutation for one entity type.
// A nil func means the action type is not supported.
type EntityHandlers[T any] struct {
	Create func(ctx context.Context, item T) error
	Update func(ctx context.Context, item T) error
	Delete func(ctx context.Context, id string) error
}

// Handlers is the full replay dispatch table. A nil entity set means no
// handler for any action on that entity.
type Handlers struct {
	Product  *EntityHandlers[models.Product]
	Category *EntityHandlers[models.Category]
	Brand    *EntityHandlers[models.Brand]
}

func (h Handlers) dispatch(ctx context.Context, action models.QueuedAction) error {
	switch action.Entity {
	case models.EntityProduct:
		return invoke(ctx, h.Product, action)
	case models.EntityCategory:
		return invoke(ctx, h.Category, action)
	case models.EntityBrand:
		return invoke(ctx, h.Brand, action)
	}
	return noHandler(action)
}

// invoke decodes the payload for the action type and calls the matching
// handler. A panicking handler counts as a failure.
func invoke[T any](ctx context.Context, set *EntityHandlers[T], action models.QueuedAction) (err error) {
	if set == nil {
		return noHandler(action)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()

	switch action.Type {
	case models.ActionCreate, models.ActionUpdate:
		fn := set.Create
		if action.Type == models.ActionUpdate {
			fn = set.Update
		}
		if fn == nil {
			return noHandler(action)
		}
		var item T
		if err := json.Unmarshal(action.Data, &item); err != nil {
			return apperrors.Wrap(apperrors.ErrSerialization, "failed to decode queued payload", err)
		}
		return fn(ctx, item)

	case models.ActionDelete:
		if set.Delete == nil {
			return noHandler(action)
		}
		var payload models.DeletePayload
		if err := json.Unmarshal(action.Data, &payload); err != nil {
			return apperrors.Wrap(apperrors.ErrSerialization, "failed to decode queued payload", err)
		}
		return set.Delete(ctx, payload.ID)
	}

	return noHandler(action)
}

func noHandler(action models.QueuedAction) error {
	return apperrors.Newf(apperrors.ErrNoHandler, "No handler for %s %s", action.Entity, action.Type)
}

type idempotencyKey struct{}

// WithIdempotencyKey returns a context carrying the action's idempotency key.
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	if key == "" {
		return ctx
	}
	return context.WithValue(ctx, idempotencyKey{}, key)
}

// IdempotencyKey returns the key attached by WithIdempotencyKey, or "".
// Remote clients forward it so the backend can dedupe replayed mutations.
func IdempotencyKey(ctx context.Context) string {
	key, _ := ctx.Value(idempotencyKey{}).(string)
	return key
}
