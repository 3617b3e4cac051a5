package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kimhsiao/catalogsync/internal/app"
	apperrors "github.com/kimhsiao/catalogsync/internal/errors"
	"github.com/kimhsiao/catalogsync/internal/logging"
	"github.com/kimhsiao/catalogsync/internal/models"
	"github.com/kimhsiao/catalogsync/internal/notify"
	syncpkg "github.com/kimhsiao/catalogsync/internal/sync"
	"github.com/kimhsiao/catalogsync/internal/sync/coordinator"
	"github.com/kimhsiao/catalogsync/internal/sync/queue"
)

// SyncHandler exposes the coordinator, the pull manager and the offline
// queue.
type SyncHandler struct {
	coordinator *coordinator.Coordinator
	manager     *syncpkg.Manager
	queue       *queue.OfflineQueue
	replayer    interface {
		ReplayPending(ctx context.Context) (queue.ReplayResult, error)
	}
	notifications *notify.Recorder
}

// NewSyncHandler creates a SyncHandler over the container's services.
func NewSyncHandler(c *app.Container) *SyncHandler {
	return &SyncHandler{
		coordinator:   c.Coordinator,
		manager:       c.Manager,
		queue:         c.Queue,
		replayer:      c.Catalog,
		notifications: c.Notifications,
	}
}

// =====================================================
// Sync Status and Trigger Endpoints
// =====================================================

type entityStatus struct {
	models.SyncMetadata
	Entity models.Entity `json:"entity"`
}

// GetStatus handles GET /sync/status
func (h *SyncHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	status := h.coordinator.Status()
	status.PendingCount = h.queue.Count()

	entities := make([]entityStatus, 0, len(models.Entities))
	for _, e := range models.Entities {
		entities = append(entities, entityStatus{SyncMetadata: h.manager.Metadata(e), Entity: e})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      status,
		"deadLetters": len(h.queue.DeadLetters()),
		"entities":    entities,
	})
}

// TriggerSync handles POST /sync
// The pass runs in the background unless ?wait=true is given. Responds 409
// when offline or when a pass is already running.
func (h *SyncHandler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	var started bool
	if r.URL.Query().Get("wait") == "true" {
		started = h.coordinator.Sync(r.Context())
	} else {
		started = h.coordinator.TriggerSync(context.WithoutCancel(r.Context()))
	}

	code := http.StatusAccepted
	if !started {
		code = http.StatusConflict
	}
	writeJSON(w, code, map[string]interface{}{
		"started": started,
		"status":  h.coordinator.Status(),
	})
}

// ForceSync handles POST /sync/force
func (h *SyncHandler) ForceSync(w http.ResponseWriter, r *http.Request) {
	result := h.manager.ForceFullSync(r.Context())
	logging.Info("Forced full sync", map[string]interface{}{
		"success": result.Success,
		"updated": result.Total(),
	})
	writeJSON(w, http.StatusOK, result)
}

// Replay handles POST /sync/replay
func (h *SyncHandler) Replay(w http.ResponseWriter, r *http.Request) {
	result, err := h.replayer.ReplayPending(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"result":  result,
		"pending": h.queue.Count(),
	})
}

// =====================================================
// Offline Queue Endpoints
// =====================================================

// ListQueue handles GET /queue
func (h *SyncHandler) ListQueue(w http.ResponseWriter, r *http.Request) {
	actions := h.queue.Actions()
	if raw := r.URL.Query().Get("entity"); raw != "" {
		entity, err := models.ParseEntity(raw)
		if err != nil {
			writeError(w, apperrors.Wrap(apperrors.ErrInvalid, "invalid entity", err))
			return
		}
		actions = h.queue.ActionsForEntity(entity)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items": actions,
		"total": len(actions),
	})
}

// ClearQueue handles DELETE /queue
func (h *SyncHandler) ClearQueue(w http.ResponseWriter, r *http.Request) {
	discarded := h.queue.Count()
	h.queue.Clear()
	writeJSON(w, http.StatusOK, map[string]interface{}{"discarded": discarded})
}

// DeadLetters handles GET /queue/dead-letters
func (h *SyncHandler) DeadLetters(w http.ResponseWriter, r *http.Request) {
	letters := h.queue.DeadLetters()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items": letters,
		"total": len(letters),
	})
}

// RequeueDeadLetter handles POST /queue/dead-letters/{id}/requeue
func (h *SyncHandler) RequeueDeadLetter(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.queue.RequeueDeadLetter(id) {
		writeError(w, apperrors.Newf(apperrors.ErrNotFound, "no dead letter with id %s", id))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"requeued": id,
		"pending":  h.queue.Count(),
	})
}

// PurgeDeadLetters handles DELETE /queue/dead-letters
func (h *SyncHandler) PurgeDeadLetters(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"purged": h.queue.ClearDeadLetters()})
}

// Notifications handles GET /notifications
func (h *SyncHandler) Notifications(w http.ResponseWriter, r *http.Request) {
	items := h.notifications.All()
	if raw := r.URL.Query().Get("severity"); raw != "" {
		filtered := items[:0]
		for _, n := range items {
			if string(n.Severity) == raw {
				filtered = append(filtered, n)
			}
		}
		items = filtered
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}
