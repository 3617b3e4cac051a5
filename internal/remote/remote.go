// Package remote talks to the hosted catalog backend. Two transports are
// provided: a PostgREST-style HTTP client and a direct Postgres client. Both
// sit behind a circuit breaker so a failing backend is reported as
// unavailable instead of being hammered by every replay and pull.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/sony/gobreaker"

	apperrors "github.com/kimhsiao/catalogsync/internal/errors"
)

// Client is the remote backend as seen by the sync manager (reads) and the
// replay handlers (writes).
type Client interface {
	// Select returns the rows of table ordered by name. When since is non-nil
	// only rows with updated_at >= since are returned.
	Select(ctx context.Context, table string, since *time.Time) ([]json.RawMessage, error)
	Insert(ctx context.Context, table string, row interface{}) error
	Update(ctx context.Context, table, id string, row interface{}) error
	Delete(ctx context.Context, table, id string) error
	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
	Close()
}

// BreakerConfig configures the circuit breaker wrapping a client.
type BreakerConfig struct {
	MaxFailures uint32        // Consecutive failures that open the breaker (default: 3)
	OpenTimeout time.Duration // Time spent open before probing again (default: 10s)
	Interval    time.Duration // Window after which closed-state counts reset (default: 60s)
	HalfOpenMax uint32        // Requests let through while half-open (default: 5)
}

// DefaultBreakerConfig returns default breaker configuration.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxFailures: 3,
		OpenTimeout: 10 * time.Second,
		Interval:    60 * time.Second,
		HalfOpenMax: 5,
	}
}

func newBreaker(name string, cfg BreakerConfig) *gobreaker.CircuitBreaker {
	def := DefaultBreakerConfig()
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = def.MaxFailures
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = def.OpenTimeout
	}
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.HalfOpenMax == 0 {
		cfg.HalfOpenMax = def.HalfOpenMax
	}

	maxFailures := cfg.MaxFailures
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.HalfOpenMax,
		Interval:    cfg.Interval,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
	})
}

// guarded runs fn through cb. fn returns two errors: a transient one that
// counts against the breaker, and a rejection (such as a 4xx response) that
// fails the call without tripping it. Transient failures and an open breaker
// both come back as ErrRemoteUnavailable so callers can queue the work.
func guarded(cb *gobreaker.CircuitBreaker, fn func() (rejected error, err error)) error {
	var rejected error
	_, err := cb.Execute(func() (interface{}, error) {
		var err error
		rejected, err = fn()
		return nil, err
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return apperrors.Wrap(apperrors.ErrRemoteUnavailable, "remote backend unavailable", err)
	}
	if err != nil {
		return apperrors.Wrap(apperrors.ErrRemoteUnavailable, "remote backend unavailable", err)
	}
	return rejected
}

// columns flattens row into its JSON object form and returns the keys in
// sorted order along with the encoded document.
func columns(row interface{}) ([]string, []byte, error) {
	data, err := json.Marshal(row)
	if err != nil {
		return nil, nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, nil, err
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, data, nil
}
