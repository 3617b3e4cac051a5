// Package coordinator tracks connectivity and drives the sync manager:
// it pulls fresh state on reconnect, runs a periodic auto-sync while online,
// and exposes the pending-action count to the rest of the application.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kimhsiao/catalogsync/internal/errors"
	"github.com/kimhsiao/catalogsync/internal/events"
	"github.com/kimhsiao/catalogsync/internal/logging"
	"github.com/kimhsiao/catalogsync/internal/metrics"
	"github.com/kimhsiao/catalogsync/internal/notify"
	syncpkg "github.com/kimhsiao/catalogsync/internal/sync"
)

// State is the coordinator's externally visible state.
type State string

const (
	StateOnlineIdle    State = "online-idle"
	StateOnlineSyncing State = "online-syncing"
	StateOffline       State = "offline"
)

// PendingCounter reports the offline queue depth.
type PendingCounter interface {
	Count() int
}

// Config holds coordinator configuration.
type Config struct {
	SyncInterval  time.Duration // Periodic auto-sync while online; 0 disables it (default: 15 minutes)
	SyncTimeout   time.Duration // Upper bound for one sync pass (default: 5 minutes)
	InitialOnline bool          // Connectivity assumed at construction (default: true)
}

// DefaultConfig returns default coordinator configuration.
func DefaultConfig() *Config {
	return &Config{
		SyncInterval:  15 * time.Minute,
		SyncTimeout:   5 * time.Minute,
		InitialOnline: true,
	}
}

// Status is a point-in-time snapshot of the coordinator.
type Status struct {
	State        State      `json:"state"`
	Online       bool       `json:"online"`
	Syncing      bool       `json:"syncing"`
	Running      bool       `json:"running"`
	PendingCount int        `json:"pendingCount"`
	LastSyncTime *time.Time `json:"lastSyncTime,omitempty"`
}

// Coordinator reacts to connectivity and queue events published on the bus.
// It never replays the offline queue itself: replay needs the feature
// layer's handlers, so it only announces how many actions are pending.
type Coordinator struct {
	syncer   syncpkg.Syncer
	queue    PendingCounter
	bus      *events.Bus
	notifier notify.Notifier
	metrics  *metrics.Metrics

	syncInterval time.Duration
	syncTimeout  time.Duration

	stopCh      chan struct{}
	wg          sync.WaitGroup
	unsubscribe []func()

	mu             sync.RWMutex
	ctx            context.Context
	draining       int // Stop calls waiting on wg; no new work is added meanwhile
	isRunning      bool
	isOnline       bool
	syncInProgress bool
	pendingCount   int
	lastSyncTime   time.Time
}

// New creates a Coordinator and subscribes it to bus. A nil config uses
// DefaultConfig; a nil notifier discards notifications.
func New(syncer syncpkg.Syncer, queue PendingCounter, bus *events.Bus, notifier notify.Notifier, config *Config, m *metrics.Metrics) *Coordinator {
	if config == nil {
		config = DefaultConfig()
	}
	if notifier == nil {
		notifier = notify.Discard
	}
	timeout := config.SyncTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().SyncTimeout
	}

	c := &Coordinator{
		syncer:       syncer,
		queue:        queue,
		bus:          bus,
		notifier:     notifier,
		metrics:      m,
		syncInterval: config.SyncInterval,
		syncTimeout:  timeout,
		ctx:          context.Background(),
		isOnline:     config.InitialOnline,
		pendingCount: queue.Count(),
	}
	m.SetOnline(c.isOnline)

	c.unsubscribe = []func(){
		bus.Subscribe(events.Online, func(events.Event) { c.SetOnlineStatus(true) }),
		bus.Subscribe(events.Offline, func(events.Event) { c.SetOnlineStatus(false) }),
		bus.Subscribe(events.QueueChanged, func(events.Event) { c.refreshPending() }),
	}

	return c
}

// Start starts the periodic auto-sync loop. ctx also bounds syncs
// triggered by connectivity events until Stop.
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	if c.isRunning || c.draining > 0 {
		c.mu.Unlock()
		return
	}
	c.isRunning = true
	c.ctx = ctx
	c.stopCh = make(chan struct{})
	if c.syncInterval > 0 {
		c.wg.Add(1)
		go c.periodicSyncLoop(ctx, c.stopCh)
	}
	c.mu.Unlock()

	logging.Info("Sync coordinator started",
		map[string]interface{}{"interval": c.syncInterval.String()})
}

// Stop stops the loop and waits for background syncs to finish. Syncs
// triggered while it waits are refused; later ones run under a background
// context since the one given to Start may be gone.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	wasRunning := c.isRunning
	if wasRunning {
		c.isRunning = false
		close(c.stopCh)
	}
	c.ctx = context.Background()
	c.draining++
	c.mu.Unlock()

	c.wg.Wait()

	c.mu.Lock()
	c.draining--
	c.mu.Unlock()

	if wasRunning {
		logging.Info("Sync coordinator stopped", nil)
	}
}

// Close stops the coordinator and detaches it from the bus.
func (c *Coordinator) Close() {
	c.Stop()
	for _, unsub := range c.unsubscribe {
		unsub()
	}
}

func (c *Coordinator) periodicSyncLoop(ctx context.Context, stopCh <-chan struct{}) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			if !c.Sync(ctx) {
				logging.Debug("Periodic sync skipped", map[string]interface{}{"state": string(c.State())})
			}
		}
	}
}

// SetOnlineStatus applies a connectivity transition. Repeated signals for
// the current status are ignored. Going online announces the reconnection
// and starts a background sync; going offline announces the queue depth and
// leaves any in-flight sync running.
func (c *Coordinator) SetOnlineStatus(online bool) {
	c.mu.Lock()
	wasOnline := c.isOnline
	c.isOnline = online
	ctx := c.ctx
	c.mu.Unlock()

	c.metrics.SetOnline(online)
	if wasOnline == online {
		return
	}

	logging.Info("Online status changed",
		map[string]interface{}{
			"was_online": wasOnline,
			"is_online":  online,
		})

	if online {
		c.notifier.Notify("Connection restored", notify.Info)
		c.TriggerSync(ctx)
		return
	}

	pending := c.refreshPending()
	msg := "You are offline. Changes will be saved locally"
	if pending > 0 {
		msg = fmt.Sprintf("You are offline. %d actions pending synchronization", pending)
	}
	c.notifier.Notify(msg, notify.Warning)
}

func (c *Coordinator) refreshPending() int {
	n := c.queue.Count()
	c.mu.Lock()
	c.pendingCount = n
	c.mu.Unlock()
	return n
}

// acquire takes the sync guard. It fails when offline or already syncing.
// Caller must hold c.mu.
func (c *Coordinator) acquire() bool {
	if !c.isOnline || c.syncInProgress {
		return false
	}
	c.syncInProgress = true
	return true
}

// Sync runs one sync pass and waits for it. It is a no-op returning false
// when offline or when a sync is already running.
func (c *Coordinator) Sync(ctx context.Context) bool {
	c.mu.Lock()
	ok := c.acquire()
	c.mu.Unlock()
	if !ok {
		return false
	}
	c.run(ctx)
	return true
}

// TriggerSync starts a sync pass in the background.
// Returns true if sync was started, false if offline, already in progress,
// or while Stop is waiting for background work.
func (c *Coordinator) TriggerSync(ctx context.Context) bool {
	c.mu.Lock()
	if c.draining > 0 || !c.acquire() {
		c.mu.Unlock()
		return false
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		c.run(ctx)
	}()
	return true
}

// run executes a sync pass. The guard taken by acquire is released on every
// path, including a panic in the syncer.
func (c *Coordinator) run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			logging.ErrorWithCode("Sync pass failed", string(errors.ErrSyncFailed), fmt.Errorf("%v", r), nil)
			c.notifier.Notify("Synchronization failed", notify.Error)
		}

		c.mu.Lock()
		c.syncInProgress = false
		c.mu.Unlock()
	}()

	syncCtx, cancel := context.WithTimeout(ctx, c.syncTimeout)
	defer cancel()

	result := c.syncer.SyncAll(syncCtx)

	pending := c.refreshPending()
	if pending > 0 {
		c.notifier.Notify(fmt.Sprintf("%d actions pending synchronization", pending), notify.Info)
	}

	c.mu.Lock()
	c.lastSyncTime = time.Now()
	c.mu.Unlock()

	c.bus.Publish(events.CacheInvalidated, map[string]interface{}{
		"success": result.Success,
		"updated": result.Total(),
	})
}

// State returns the current state. Offline wins over an in-flight sync.
func (c *Coordinator) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stateLocked()
}

func (c *Coordinator) stateLocked() State {
	switch {
	case !c.isOnline:
		return StateOffline
	case c.syncInProgress:
		return StateOnlineSyncing
	default:
		return StateOnlineIdle
	}
}

// Status returns a snapshot of the coordinator.
func (c *Coordinator) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := Status{
		State:        c.stateLocked(),
		Online:       c.isOnline,
		Syncing:      c.syncInProgress,
		Running:      c.isRunning,
		PendingCount: c.pendingCount,
	}
	if !c.lastSyncTime.IsZero() {
		t := c.lastSyncTime
		status.LastSyncTime = &t
	}
	return status
}

// IsOnline returns whether the coordinator considers the backend reachable.
func (c *Coordinator) IsOnline() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isOnline
}

// IsRunning returns whether the periodic loop is running.
func (c *Coordinator) IsRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isRunning
}
