// Package queue provides the durable offline queue of catalog mutations made
// while disconnected, and its replay against the remote backend.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/kimhsiao/catalogsync/internal/errors"
	"github.com/kimhsiao/catalogsync/internal/events"
	"github.com/kimhsiao/catalogsync/internal/logging"
	"github.com/kimhsiao/catalogsync/internal/metrics"
	"github.com/kimhsiao/catalogsync/internal/models"
	"github.com/kimhsiao/catalogsync/internal/notify"
	"github.com/kimhsiao/catalogsync/internal/storage"
	"github.com/kimhsiao/catalogsync/internal/sync/lock"
)

// MaxRetries is the number of failed replays after which an action leaves
// the queue for the dead-letter list.
const MaxRetries = 3

// Storage keys.
const (
	StorageKey    = "offline_queue"
	DeadLetterKey = "offline_queue_dead_letters"
)

// ReplayResult reports the outcome of one ReplayAll pass. Failed counts every
// failed action, including the Dropped ones that reached MaxRetries.
type ReplayResult struct {
	Success int `json:"success"`
	Failed  int `json:"failed"`
	Dropped int `json:"dropped"`
}

// OfflineQueue is a FIFO of QueuedActions persisted in a storage.Store.
// Every read goes to the store and every change is an atomic update of it, so
// several OfflineQueue values over the same store observe each other's writes.
type OfflineQueue struct {
	store    storage.Store
	notifier notify.Notifier
	bus      *events.Bus
	locker   lock.Locker
	metrics  *metrics.Metrics
	now      func() time.Time
}

// Option configures an OfflineQueue.
type Option func(*OfflineQueue)

// WithBus publishes events.QueueChanged on every mutation.
func WithBus(bus *events.Bus) Option {
	return func(q *OfflineQueue) { q.bus = bus }
}

// WithLocker replaces the default in-process replay lock.
func WithLocker(l lock.Locker) Option {
	return func(q *OfflineQueue) { q.locker = l }
}

// WithMetrics records queue depth and replay outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(q *OfflineQueue) { q.metrics = m }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(q *OfflineQueue) { q.now = now }
}

// NewOfflineQueue creates a queue over store. A nil notifier discards notifications.
func NewOfflineQueue(store storage.Store, notifier notify.Notifier, opts ...Option) *OfflineQueue {
	if notifier == nil {
		notifier = notify.Discard
	}
	q := &OfflineQueue{
		store:    store,
		notifier: notifier,
		locker:   lock.NewLocal(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func loadActions(s storage.Store) []models.QueuedAction {
	var actions []models.QueuedAction
	storage.LoadJSON(s, StorageKey, &actions)
	return actions
}

func saveActions(s storage.Store, actions []models.QueuedAction) error {
	if actions == nil {
		actions = []models.QueuedAction{}
	}
	return storage.WriteJSON(s, StorageKey, actions)
}

func loadDeadLetters(s storage.Store) []models.DeadLetter {
	var letters []models.DeadLetter
	storage.LoadJSON(s, DeadLetterKey, &letters)
	return letters
}

// update runs fn as one atomic read-modify-write of keys, so queues sharing
// the store in other goroutines or processes never lose each other's changes.
func (q *OfflineQueue) update(fn func(s storage.Store) error, keys ...string) error {
	err := storage.Atomically(q.store, keys, fn)
	if err != nil {
		logging.ErrorWithCode("Failed to update offline queue", string(apperrors.CodeOf(err)), err,
			map[string]interface{}{"keys": keys})
	}
	return err
}

func (q *OfflineQueue) changed(count int) {
	q.metrics.SetQueueDepth(count)
	q.bus.Publish(events.QueueChanged, map[string]interface{}{"count": count})
}

// Add records a mutation for later replay. data is stored as JSON and is not
// otherwise validated; it fails only when the payload cannot be encoded or the
// store cannot be written.
func (q *OfflineQueue) Add(actionType models.ActionType, entity models.Entity, data interface{}) (*models.QueuedAction, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrSerialization, "failed to encode action payload", err)
	}

	action := models.QueuedAction{
		ID:             uuid.New().String(),
		Type:           actionType,
		Entity:         entity,
		Data:           payload,
		Timestamp:      q.now().UTC().Format(time.RFC3339Nano),
		RetryCount:     0,
		IdempotencyKey: uuid.New().String(),
	}

	var count int
	err = q.update(func(s storage.Store) error {
		actions := append(loadActions(s), action)
		count = len(actions)
		return saveActions(s, actions)
	}, StorageKey)
	if err != nil {
		return nil, err
	}

	logging.Info("Queued offline action",
		map[string]interface{}{
			"action_id": action.ID,
			"entity":    string(entity),
			"type":      string(actionType),
			"pending":   count,
		})

	q.metrics.ObserveEnqueue(string(entity), string(actionType))
	q.changed(count)

	return &action, nil
}

// Remove deletes the action with the given id. Absent ids are ignored.
func (q *OfflineQueue) Remove(id string) {
	var kept []models.QueuedAction
	var removed bool
	err := q.update(func(s storage.Store) error {
		kept, removed = removeByID(loadActions(s), id)
		if !removed {
			return nil
		}
		return saveActions(s, kept)
	}, StorageKey)

	if err == nil && removed {
		q.changed(len(kept))
	}
}

// Count returns the number of queued actions.
func (q *OfflineQueue) Count() int {
	return len(loadActions(q.store))
}

// Clear drops every queued action. Dead letters are kept.
func (q *OfflineQueue) Clear() {
	err := q.update(func(s storage.Store) error {
		return s.Remove(StorageKey)
	}, StorageKey)
	if err != nil {
		return
	}

	logging.Warn("Offline queue cleared", nil)
	q.changed(0)
}

// Actions returns a snapshot of the queue in FIFO order.
func (q *OfflineQueue) Actions() []models.QueuedAction {
	return loadActions(q.store)
}

// ActionsForEntity returns the queued actions targeting entity, in FIFO order.
func (q *OfflineQueue) ActionsForEntity(entity models.Entity) []models.QueuedAction {
	var out []models.QueuedAction
	for _, a := range q.Actions() {
		if a.Entity == entity {
			out = append(out, a)
		}
	}
	return out
}

// ReplayAll runs every queued action through handlers in FIFO order.
//
// Successful actions are removed. A failed action has its retry count and
// last error updated in place; when it reaches MaxRetries it is moved to the
// dead-letter list. Handler failures never make ReplayAll return an error.
// It returns ErrReplayInProgress when another replay holds the lock, and the
// context error when ctx is canceled between two actions.
func (q *OfflineQueue) ReplayAll(ctx context.Context, handlers Handlers) (ReplayResult, error) {
	var result ReplayResult

	unlock, err := q.locker.TryLock(ctx)
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			return result, apperrors.New(apperrors.ErrReplayInProgress, "replay already in progress")
		}
		return result, apperrors.Wrap(apperrors.ErrReplayInProgress, "failed to acquire replay lock", err)
	}
	defer unlock()

	pending := q.Actions()
	if len(pending) == 0 {
		return result, nil
	}

	q.notifier.Notify(fmt.Sprintf("Synchronizing %d queued actions", len(pending)), notify.Info)
	logging.Info("Replaying offline queue", map[string]interface{}{"count": len(pending)})

	for _, action := range pending {
		if err := ctx.Err(); err != nil {
			q.summarize(result)
			return result, err
		}

		handlerCtx := WithIdempotencyKey(ctx, action.IdempotencyKey)
		if err := handlers.dispatch(handlerCtx, action); err != nil {
			result.Failed++
			if q.recordFailure(action.ID, err) {
				result.Dropped++
				q.metrics.ObserveReplay(string(action.Entity), string(action.Type), metrics.OutcomeDropped)
			} else {
				q.metrics.ObserveReplay(string(action.Entity), string(action.Type), metrics.OutcomeFailed)
			}
			continue
		}

		result.Success++
		q.metrics.ObserveReplay(string(action.Entity), string(action.Type), metrics.OutcomeSuccess)
		q.Remove(action.ID)
	}

	q.summarize(result)
	return result, nil
}

func (q *OfflineQueue) summarize(result ReplayResult) {
	if result.Success > 0 {
		q.notifier.Notify(fmt.Sprintf("%d queued actions synchronized", result.Success), notify.Success)
	}
	if result.Failed > 0 && result.Success > 0 {
		q.notifier.Notify(fmt.Sprintf("%d queued actions failed to synchronize", result.Failed), notify.Warning)
	}

	logging.Info("Offline queue replay finished",
		map[string]interface{}{
			"success": result.Success,
			"failed":  result.Failed,
			"dropped": result.Dropped,
		})
}

// recordFailure bumps the retry count of the stored action and moves it to
// the dead-letter list once it reaches MaxRetries. It reports whether the
// action was dropped. An action removed concurrently stays removed.
func (q *OfflineQueue) recordFailure(id string, cause error) bool {
	var (
		action    models.QueuedAction
		found     bool
		dropped   bool
		count     int
		deadCount int
	)
	err := q.update(func(s storage.Store) error {
		actions := loadActions(s)
		idx := indexByID(actions, id)
		found = idx >= 0
		if !found {
			return nil
		}

		action = actions[idx]
		action.RetryCount++
		action.LastError = cause.Error()

		dropped = action.RetryCount >= MaxRetries
		if dropped {
			actions = append(actions[:idx], actions[idx+1:]...)
			letters := append(loadDeadLetters(s), models.DeadLetter{
				Action:   action,
				FailedAt: q.now().UTC().Format(time.RFC3339Nano),
			})
			if err := storage.WriteJSON(s, DeadLetterKey, letters); err != nil {
				return err
			}
			deadCount = len(letters)
		} else {
			actions[idx] = action
		}
		count = len(actions)
		return saveActions(s, actions)
	}, StorageKey, DeadLetterKey)
	if err != nil || !found {
		return false
	}

	if dropped {
		logging.ErrorWithCode("Queued action dropped after max retries", string(apperrors.ErrRemoteMutation), cause,
			map[string]interface{}{
				"action_id":   action.ID,
				"entity":      string(action.Entity),
				"type":        string(action.Type),
				"retry_count": action.RetryCount,
			})
		q.notifier.Notify(fmt.Sprintf("%s %s gave up after %d retries: %s",
			action.Entity, action.Type, MaxRetries, action.LastError), notify.Error)
		q.metrics.SetDeadLetterDepth(deadCount)
	} else {
		logging.Warn("Queued action failed, will retry",
			map[string]interface{}{
				"action_id":   action.ID,
				"entity":      string(action.Entity),
				"type":        string(action.Type),
				"retry_count": action.RetryCount,
				"error":       action.LastError,
			})
	}

	q.changed(count)
	return dropped
}

// DeadLetters returns the actions abandoned after MaxRetries, oldest first.
func (q *OfflineQueue) DeadLetters() []models.DeadLetter {
	return loadDeadLetters(q.store)
}

// RequeueDeadLetter moves a dead letter back to the tail of the queue with its
// retry count reset. The idempotency key is kept. It reports whether id was found.
func (q *OfflineQueue) RequeueDeadLetter(id string) bool {
	var (
		action           models.QueuedAction
		found            bool
		count, deadCount int
	)
	err := q.update(func(s storage.Store) error {
		letters := loadDeadLetters(s)
		idx := -1
		for i, l := range letters {
			if l.Action.ID == id {
				idx = i
				break
			}
		}
		found = idx >= 0
		if !found {
			return nil
		}

		action = letters[idx].Action
		action.RetryCount = 0
		action.LastError = ""

		letters = append(letters[:idx], letters[idx+1:]...)
		if err := storage.WriteJSON(s, DeadLetterKey, letters); err != nil {
			return err
		}
		actions := append(loadActions(s), action)
		count, deadCount = len(actions), len(letters)
		return saveActions(s, actions)
	}, StorageKey, DeadLetterKey)
	if err != nil || !found {
		return false
	}

	logging.Info("Dead letter requeued",
		map[string]interface{}{"action_id": id, "entity": string(action.Entity), "type": string(action.Type)})

	q.metrics.SetDeadLetterDepth(deadCount)
	q.changed(count)
	return true
}

// ClearDeadLetters discards every dead letter and returns how many there were.
func (q *OfflineQueue) ClearDeadLetters() int {
	var n int
	err := q.update(func(s storage.Store) error {
		n = len(loadDeadLetters(s))
		return s.Remove(DeadLetterKey)
	}, DeadLetterKey)
	if err != nil {
		return 0
	}

	q.metrics.SetDeadLetterDepth(0)
	return n
}

func indexByID(actions []models.QueuedAction, id string) int {
	for i, a := range actions {
		if a.ID == id {
			return i
		}
	}
	return -1
}

func removeByID(actions []models.QueuedAction, id string) ([]models.QueuedAction, bool) {
	idx := indexByID(actions, id)
	if idx < 0 {
		return actions, false
	}
	return append(actions[:idx], actions[idx+1:]...), true
}
