// Package handlers tests for the desktop REST API.
// These tests verify HTTP request handling, status codes, and responses.
package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kimhsiao/catalogsync/internal/app"
	"github.com/kimhsiao/catalogsync/internal/config"
	apperrors "github.com/kimhsiao/catalogsync/internal/errors"
	"github.com/kimhsiao/catalogsync/internal/models"
	"github.com/kimhsiao/catalogsync/internal/storage"
)

// =====================================================
// Test Helpers
// =====================================================

// stubRemote serves one product and one brand. Mutations fail with the
// configured error and are otherwise recorded by table.
type stubRemote struct {
	mu      sync.Mutex
	failure error
	writes  []string
}

func (s *stubRemote) Select(ctx context.Context, table string, since *time.Time) ([]json.RawMessage, error) {
	switch table {
	case "products":
		return []json.RawMessage{json.RawMessage(`{"id":"p1","name":"Soap","company_id":"acme"}`)}, nil
	case "brands":
		return []json.RawMessage{json.RawMessage(`{"id":"b1","name":"Acme"}`)}, nil
	}
	return nil, nil
}

func (s *stubRemote) write(op, table string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure != nil {
		return s.failure
	}
	s.writes = append(s.writes, op+" "+table)
	return nil
}

func (s *stubRemote) Insert(ctx context.Context, table string, row interface{}) error {
	return s.write("insert", table)
}

func (s *stubRemote) Update(ctx context.Context, table, id string, row interface{}) error {
	return s.write("update", table)
}

func (s *stubRemote) Delete(ctx context.Context, table, id string) error {
	return s.write("delete", table)
}

func (s *stubRemote) Ping(ctx context.Context) error { return nil }

func (s *stubRemote) Close() {}

func (s *stubRemote) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failure = err
}

func (s *stubRemote) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.writes)
}

type testEnv struct {
	ctr    *app.Container
	remote *stubRemote
	router http.Handler
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := config.Default()
	cfg.Backend.URL = "http://backend.invalid"
	cfg.Storage.Kind = config.StorageMemory
	cfg.Sync.Interval = 0
	cfg.Sync.ProbeInterval = 0
	cfg.Company = "acme"

	remote := &stubRemote{}
	ctr, err := app.New(context.Background(), cfg, app.WithRemote(remote), app.WithStore(storage.NewMemoryStore()))
	if err != nil {
		t.Fatalf("Failed to build container: %v", err)
	}
	t.Cleanup(func() { ctr.Close() })

	h := NewSyncHandler(ctr)
	r := chi.NewRouter()
	r.Get("/sync/status", h.GetStatus)
	r.Post("/sync", h.TriggerSync)
	r.Post("/sync/force", h.ForceSync)
	r.Post("/sync/replay", h.Replay)
	r.Get("/queue", h.ListQueue)
	r.Delete("/queue", h.ClearQueue)
	r.Get("/queue/dead-letters", h.DeadLetters)
	r.Delete("/queue/dead-letters", h.PurgeDeadLetters)
	r.Post("/queue/dead-letters/{id}/requeue", h.RequeueDeadLetter)
	r.Get("/notifications", h.Notifications)
	r.Mount("/catalog", NewCatalogHandler(ctr.Catalog).Routes())

	return &testEnv{ctr: ctr, remote: remote, router: r}
}

// do sends a request and decodes a JSON object response.
func (e *testEnv) do(t *testing.T, method, path string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var out map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("%s %s: response is not JSON: %v\n%s", method, path, err, w.Body.String())
	}
	return w.Code, out
}

// =====================================================
// Sync Endpoint Tests
// =====================================================

func TestGetStatus(t *testing.T) {
	env := setupTestEnv(t)
	env.ctr.Queue.Add(models.ActionCreate, models.EntityBrand, models.Brand{ID: "b9", Name: "Zed"})

	code, body := env.do(t, http.MethodGet, "/sync/status", nil)
	if code != http.StatusOK {
		t.Fatalf("status code = %d", code)
	}
	status := body["status"].(map[string]interface{})
	if status["online"] != true || status["pendingCount"] != float64(1) {
		t.Errorf("status = %v", status)
	}
	if entities := body["entities"].([]interface{}); len(entities) != 3 {
		t.Errorf("entities = %v", entities)
	}
}

func TestTriggerSync(t *testing.T) {
	tests := []struct {
		name    string
		online  bool
		code    int
		started bool
	}{
		{"online", true, http.StatusAccepted, true},
		{"offline", false, http.StatusConflict, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTestEnv(t)
			env.ctr.Coordinator.SetOnlineStatus(tt.online)

			code, body := env.do(t, http.MethodPost, "/sync?wait=true", nil)
			if code != tt.code || body["started"] != tt.started {
				t.Errorf("POST /sync = %d %v", code, body)
			}
			if tt.started && len(env.ctr.Catalog.Brands("")) != 1 {
				t.Error("brand not pulled into the cache")
			}
		})
	}
}

func TestForceSync(t *testing.T) {
	env := setupTestEnv(t)

	code, body := env.do(t, http.MethodPost, "/sync/force", nil)
	if code != http.StatusOK {
		t.Fatalf("status code = %d", code)
	}
	if body["success"] != true || body["products"] != float64(1) || body["brands"] != float64(1) {
		t.Errorf("force sync = %v", body)
	}
}

// =====================================================
// Queue Endpoint Tests
// =====================================================

func TestQueueListAndReplay(t *testing.T) {
	env := setupTestEnv(t)
	env.ctr.Queue.Add(models.ActionCreate, models.EntityProduct, models.Product{ID: "p2", Name: "Brush"})
	env.ctr.Queue.Add(models.ActionDelete, models.EntityBrand, models.DeletePayload{ID: "b1"})

	tests := []struct {
		path  string
		code  int
		total float64
	}{
		{"/queue", http.StatusOK, 2},
		{"/queue?entity=brand", http.StatusOK, 1},
		{"/queue?entity=category", http.StatusOK, 0},
	}
	for _, tt := range tests {
		code, body := env.do(t, http.MethodGet, tt.path, nil)
		if code != tt.code || body["total"] != tt.total {
			t.Errorf("GET %s = %d %v", tt.path, code, body)
		}
	}

	code, body := env.do(t, http.MethodGet, "/queue?entity=widget", nil)
	if code != http.StatusBadRequest || body["code"] != string(apperrors.ErrInvalid) {
		t.Errorf("unknown entity = %d %v", code, body)
	}

	code, body = env.do(t, http.MethodPost, "/sync/replay", nil)
	if code != http.StatusOK || body["pending"] != float64(0) {
		t.Fatalf("replay = %d %v", code, body)
	}
	if result := body["result"].(map[string]interface{}); result["success"] != float64(2) {
		t.Errorf("replay result = %v", result)
	}
	if env.remote.writeCount() != 2 {
		t.Errorf("remote writes = %d, want 2", env.remote.writeCount())
	}
}

func TestClearQueue(t *testing.T) {
	env := setupTestEnv(t)
	env.ctr.Queue.Add(models.ActionCreate, models.EntityBrand, models.Brand{ID: "b2", Name: "Zeta"})

	code, body := env.do(t, http.MethodDelete, "/queue", nil)
	if code != http.StatusOK || body["discarded"] != float64(1) {
		t.Errorf("DELETE /queue = %d %v", code, body)
	}
	if env.ctr.Queue.Count() != 0 {
		t.Error("queue not cleared")
	}
}

func TestDeadLetters(t *testing.T) {
	env := setupTestEnv(t)
	env.remote.fail(apperrors.New(apperrors.ErrRemoteMutation, "rejected"))
	action, err := env.ctr.Queue.Add(models.ActionCreate, models.EntityBrand, models.Brand{ID: "b2", Name: "Zeta"})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		env.do(t, http.MethodPost, "/sync/replay", nil)
	}

	code, body := env.do(t, http.MethodGet, "/queue/dead-letters", nil)
	if code != http.StatusOK || body["total"] != float64(1) {
		t.Fatalf("dead letters = %d %v", code, body)
	}

	code, _ = env.do(t, http.MethodPost, "/queue/dead-letters/missing/requeue", nil)
	if code != http.StatusNotFound {
		t.Errorf("requeue unknown id = %d, want 404", code)
	}

	code, body = env.do(t, http.MethodPost, "/queue/dead-letters/"+action.ID+"/requeue", nil)
	if code != http.StatusOK || body["pending"] != float64(1) {
		t.Errorf("requeue = %d %v", code, body)
	}

	env.ctr.Queue.Add(models.ActionCreate, models.EntityBrand, models.Brand{ID: "b3", Name: "Eta"})
	for i := 0; i < 3; i++ {
		env.do(t, http.MethodPost, "/sync/replay", nil)
	}
	code, body = env.do(t, http.MethodDelete, "/queue/dead-letters", nil)
	if code != http.StatusOK || body["purged"] != float64(2) {
		t.Errorf("purge = %d %v", code, body)
	}
}

func TestNotifications(t *testing.T) {
	env := setupTestEnv(t)
	env.ctr.Queue.Add(models.ActionCreate, models.EntityBrand, models.Brand{ID: "b2", Name: "Zeta"})
	env.do(t, http.MethodPost, "/sync/replay", nil)

	code, body := env.do(t, http.MethodGet, "/notifications?severity=success", nil)
	if code != http.StatusOK {
		t.Fatalf("status code = %d", code)
	}
	items := body["items"].([]interface{})
	if len(items) != 1 {
		t.Fatalf("success notifications = %v", items)
	}
	if msg := items[0].(map[string]interface{})["message"]; msg != "1 queued actions synchronized" {
		t.Errorf("message = %v", msg)
	}

	_, body = env.do(t, http.MethodGet, "/notifications?severity=error", nil)
	if items := body["items"].([]interface{}); len(items) != 0 {
		t.Errorf("error notifications = %v", items)
	}
}

// =====================================================
// Catalog Endpoint Tests
// =====================================================

func TestCreateProduct(t *testing.T) {
	tests := []struct {
		name    string
		body    interface{}
		failure error
		code    int
		queued  bool
	}{
		{"online", map[string]interface{}{"name": "Brush"}, nil, http.StatusCreated, false},
		{"backend unavailable", map[string]interface{}{"name": "Brush"}, apperrors.New(apperrors.ErrRemoteUnavailable, "down"), http.StatusAccepted, true},
		{"rejected", map[string]interface{}{"name": "Brush"}, apperrors.New(apperrors.ErrRemoteMutation, "duplicate reference"), http.StatusUnprocessableEntity, false},
		{"missing name", map[string]interface{}{"price": 3}, nil, http.StatusBadRequest, false},
		{"invalid body", "{not json", nil, http.StatusBadRequest, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTestEnv(t)
			env.remote.fail(tt.failure)

			code, body := env.do(t, http.MethodPost, "/catalog/products/", tt.body)
			if code != tt.code {
				t.Fatalf("POST /catalog/products = %d %v, want %d", code, body, tt.code)
			}
			if code >= 300 {
				return
			}
			item := body["item"].(map[string]interface{})
			if item["id"] == "" || item["companyId"] != "acme" {
				t.Errorf("item = %v", item)
			}
			if got := env.ctr.Queue.Count() == 1; got != tt.queued {
				t.Errorf("queued = %v, want %v", got, tt.queued)
			}
			if len(env.ctr.Catalog.Products("")) != 1 {
				t.Error("created product missing from cache")
			}
		})
	}
}

func TestUpdateAndDeleteBrand(t *testing.T) {
	env := setupTestEnv(t)
	env.do(t, http.MethodPost, "/sync/force", nil)

	code, body := env.do(t, http.MethodPut, "/catalog/brands/b1", map[string]interface{}{"id": "ignored", "name": "Acme Corp"})
	if code != http.StatusOK {
		t.Fatalf("PUT = %d %v", code, body)
	}
	brands := env.ctr.Catalog.Brands("")
	if len(brands) != 1 || brands[0].ID != "b1" || brands[0].Name != "Acme Corp" {
		t.Errorf("brands after update = %+v", brands)
	}

	env.ctr.Coordinator.SetOnlineStatus(false)
	code, body = env.do(t, http.MethodDelete, "/catalog/brands/b1", nil)
	if code != http.StatusAccepted {
		t.Fatalf("DELETE while offline = %d %v", code, body)
	}
	if outcome := body["outcome"].(map[string]interface{}); outcome["queued"] != true || outcome["actionId"] == "" {
		t.Errorf("outcome = %v", outcome)
	}
	if len(env.ctr.Catalog.Brands("")) != 0 {
		t.Error("deleted brand still cached")
	}
}

func TestListProductsByCompany(t *testing.T) {
	env := setupTestEnv(t)
	env.do(t, http.MethodPost, "/sync/force", nil)

	tests := []struct {
		path  string
		total float64
	}{
		{"/catalog/products/", 1},
		{"/catalog/products/?company=acme", 1},
		{"/catalog/products/?company=other", 0},
		{"/catalog/categories/", 0},
	}
	for _, tt := range tests {
		code, body := env.do(t, http.MethodGet, tt.path, nil)
		if code != http.StatusOK || body["total"] != tt.total {
			t.Errorf("GET %s = %d %v", tt.path, code, body)
		}
	}
}
