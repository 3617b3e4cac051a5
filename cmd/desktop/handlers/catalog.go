package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kimhsiao/catalogsync/internal/catalog"
	apperrors "github.com/kimhsiao/catalogsync/internal/errors"
	"github.com/kimhsiao/catalogsync/internal/models"
)

// CatalogHandler serves the cached catalog and routes mutations through the
// catalog service, which queues them while the backend is unreachable.
type CatalogHandler struct {
	svc *catalog.Service
}

// NewCatalogHandler creates a new CatalogHandler.
func NewCatalogHandler(svc *catalog.Service) *CatalogHandler {
	return &CatalogHandler{svc: svc}
}

// Routes returns the /catalog sub-router.
func (h *CatalogHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Route("/products", func(r chi.Router) {
		r.Get("/", list(h.svc.Products))
		r.Post("/", create(h.svc.CreateProduct))
		r.Put("/{id}", update(h.svc.UpdateProduct, func(p *models.Product, id string) { p.ID = id }))
		r.Delete("/{id}", remove(h.svc.DeleteProduct))
	})
	r.Route("/categories", func(r chi.Router) {
		r.Get("/", list(h.svc.Categories))
		r.Post("/", create(h.svc.CreateCategory))
		r.Put("/{id}", update(h.svc.UpdateCategory, func(c *models.Category, id string) { c.ID = id }))
		r.Delete("/{id}", remove(h.svc.DeleteCategory))
	})
	r.Route("/brands", func(r chi.Router) {
		r.Get("/", list(h.svc.Brands))
		r.Post("/", create(h.svc.CreateBrand))
		r.Put("/{id}", update(h.svc.UpdateBrand, func(b *models.Brand, id string) { b.ID = id }))
		r.Delete("/{id}", remove(h.svc.DeleteBrand))
	})
	return r
}

// list handles GET /catalog/{entity}?company=
func list[T any](load func(companyID string) []T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items := load(r.URL.Query().Get("company"))
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"items": items,
			"total": len(items),
		})
	}
}

// create handles POST /catalog/{entity}. A queued create answers 202.
func create[T any](fn func(context.Context, T) (T, catalog.Outcome, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var item T
		if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
			writeError(w, apperrors.Wrap(apperrors.ErrInvalid, "invalid request body", err))
			return
		}
		created, out, err := fn(r.Context(), item)
		if err != nil {
			writeError(w, err)
			return
		}
		code := http.StatusCreated
		if out.Queued {
			code = http.StatusAccepted
		}
		writeJSON(w, code, map[string]interface{}{
			"item":    created,
			"outcome": out,
		})
	}
}

// update handles PUT /catalog/{entity}/{id}. The path id wins over the body.
func update[T any](fn func(context.Context, T) (catalog.Outcome, error), setID func(*T, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var item T
		if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
			writeError(w, apperrors.Wrap(apperrors.ErrInvalid, "invalid request body", err))
			return
		}
		setID(&item, chi.URLParam(r, "id"))
		out, err := fn(r.Context(), item)
		if err != nil {
			writeError(w, err)
			return
		}
		writeOutcome(w, out)
	}
}

// remove handles DELETE /catalog/{entity}/{id}
func remove(fn func(context.Context, string) (catalog.Outcome, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out, err := fn(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeOutcome(w, out)
	}
}

func writeOutcome(w http.ResponseWriter, out catalog.Outcome) {
	code := http.StatusOK
	if out.Queued {
		code = http.StatusAccepted
	}
	writeJSON(w, code, map[string]interface{}{"outcome": out})
}
