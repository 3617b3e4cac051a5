// Package app wires the sync core together. Every service is constructed
// here and handed to its dependents; nothing is a global singleton.
package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/kimhsiao/catalogsync/internal/catalog"
	"github.com/kimhsiao/catalogsync/internal/config"
	"github.com/kimhsiao/catalogsync/internal/connectivity"
	"github.com/kimhsiao/catalogsync/internal/db"
	"github.com/kimhsiao/catalogsync/internal/events"
	"github.com/kimhsiao/catalogsync/internal/logging"
	"github.com/kimhsiao/catalogsync/internal/metrics"
	"github.com/kimhsiao/catalogsync/internal/notify"
	"github.com/kimhsiao/catalogsync/internal/remote"
	"github.com/kimhsiao/catalogsync/internal/storage"
	syncpkg "github.com/kimhsiao/catalogsync/internal/sync"
	"github.com/kimhsiao/catalogsync/internal/sync/cache"
	"github.com/kimhsiao/catalogsync/internal/sync/coordinator"
	"github.com/kimhsiao/catalogsync/internal/sync/lock"
	"github.com/kimhsiao/catalogsync/internal/sync/queue"
)

// recentNotifications bounds the in-memory notification history.
const recentNotifications = 100

// Container holds all initialized components.
type Container struct {
	Config *config.Config

	Bus           *events.Bus
	Metrics       *metrics.Metrics
	Notifications *notify.Recorder
	Notifier      notify.Notifier

	Store       storage.Store
	Remote      remote.Client
	Queue       *queue.OfflineQueue
	Cache       *cache.Cache
	Manager     *syncpkg.Manager
	Coordinator *coordinator.Coordinator
	Monitor     *connectivity.Monitor
	Catalog     *catalog.Service

	closers []func() error
}

// Option customizes New.
type Option func(*options)

type options struct {
	remote remote.Client
	store  storage.Store
}

// WithRemote uses client instead of building one from configuration.
func WithRemote(client remote.Client) Option {
	return func(o *options) { o.remote = client }
}

// WithStore uses store instead of building one from configuration.
func WithStore(store storage.Store) Option {
	return func(o *options) { o.store = store }
}

// New creates a container with all dependencies initialized.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Container, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	c := &Container{
		Config:        cfg,
		Bus:           events.NewBus(),
		Metrics:       metrics.New(),
		Notifications: notify.NewRecorder(recentNotifications),
	}
	c.Notifier = notify.Multi{
		notify.LogNotifier{},
		notify.BusNotifier{Bus: c.Bus},
		c.Notifications,
	}

	var locker lock.Locker = lock.NewLocal()
	switch {
	case o.store != nil:
		c.Store = o.store
	default:
		store, redisLocker, err := c.openStore(ctx)
		if err != nil {
			c.Close()
			return nil, err
		}
		c.Store = store
		if redisLocker != nil {
			locker = redisLocker
		}
	}

	if o.remote != nil {
		c.Remote = o.remote
	} else {
		client, err := newRemote(ctx, cfg.Backend)
		if err != nil {
			c.Close()
			return nil, err
		}
		c.Remote = client
		c.closers = append(c.closers, func() error { client.Close(); return nil })
	}

	c.Queue = queue.NewOfflineQueue(c.Store, c.Notifier,
		queue.WithBus(c.Bus),
		queue.WithLocker(locker),
		queue.WithMetrics(c.Metrics),
	)
	c.Cache = cache.New(c.Store)
	c.Manager = syncpkg.NewManager(c.Remote, c.Cache, c.Notifier,
		syncpkg.WithBus(c.Bus),
		syncpkg.WithMetrics(c.Metrics),
	)
	c.Coordinator = coordinator.New(c.Manager, c.Queue, c.Bus, c.Notifier, &coordinator.Config{
		SyncInterval:  cfg.Sync.Interval,
		SyncTimeout:   cfg.Sync.Timeout,
		InitialOnline: cfg.Sync.InitialOnline,
	}, c.Metrics)
	c.Monitor = connectivity.NewMonitor(c.Remote, c.Bus, connectivity.Config{
		Interval:      cfg.Sync.ProbeInterval,
		InitialOnline: cfg.Sync.InitialOnline,
	})
	c.Catalog = catalog.NewService(c.Remote, c.Queue, c.Cache, c.Coordinator, cfg.Company)

	logging.Info("Container initialized",
		map[string]interface{}{
			"backend": cfg.Backend.Kind,
			"storage": cfg.Storage.Kind,
			"pending": c.Queue.Count(),
		})
	return c, nil
}

// openStore builds the configured storage substrate. With Redis storage the
// replay lock moves to Redis too, since the queue is shared.
func (c *Container) openStore(ctx context.Context) (storage.Store, lock.Locker, error) {
	cfg := c.Config.Storage
	switch cfg.Kind {
	case config.StorageMemory:
		return storage.NewMemoryStore(), nil, nil

	case config.StorageRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if _, err := rdb.Ping(ctx).Result(); err != nil {
			rdb.Close()
			return nil, nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		c.closers = append(c.closers, rdb.Close)
		logging.Info("Connected to Redis", map[string]interface{}{"addr": cfg.Redis.Addr})
		return storage.NewRedisStore(rdb, cfg.Redis.KeyPrefix, 0),
			lock.NewRedisLocker(rdb, cfg.Redis.KeyPrefix+"replay_lock", lock.DefaultTTL), nil

	default:
		database, err := db.Open(cfg.DataDir)
		if err != nil {
			return nil, nil, err
		}
		if err := database.Migrate(); err != nil {
			database.Close()
			return nil, nil, err
		}
		store := storage.NewSQLiteStore(database)
		c.closers = append(c.closers, database.Close, store.Close)
		logging.Info("Opened local database", map[string]interface{}{"path": database.Path()})
		return store, nil, nil
	}
}

func newRemote(ctx context.Context, cfg config.BackendConfig) (remote.Client, error) {
	breaker := remote.BreakerConfig{
		MaxFailures: cfg.Breaker.MaxFailures,
		OpenTimeout: cfg.Breaker.OpenTimeout,
	}
	switch cfg.Kind {
	case config.BackendPostgres:
		return remote.NewPostgresClient(ctx, cfg.DatabaseURL, breaker)
	default:
		return remote.NewRESTClient(remote.RESTConfig{
			BaseURL:           cfg.URL,
			APIKey:            cfg.APIKey,
			Token:             cfg.Token,
			Timeout:           cfg.Timeout,
			MaxRetries:        cfg.MaxRetries,
			RequestsPerSecond: cfg.RequestsPerSecond,
			Breaker:           breaker,
		}), nil
	}
}

// Run starts the background services and blocks until ctx is done.
func (c *Container) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if c.Config.Sync.AutoReplay {
		unsubscribe := c.Catalog.AutoReplay(ctx, c.Bus)
		defer unsubscribe()
	}

	c.Coordinator.Start(ctx)

	if c.Config.Sync.ProbeInterval > 0 {
		g.Go(func() error {
			return c.Monitor.Run(ctx)
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		c.Coordinator.Stop()
		c.Catalog.Wait()
		return nil
	})

	return g.Wait()
}

// Close releases every resource opened by New, in reverse order.
func (c *Container) Close() error {
	if c.Coordinator != nil {
		c.Coordinator.Close()
	}
	if c.Catalog != nil {
		c.Catalog.Wait()
	}

	var firstErr error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.closers = nil
	return firstErr
}
