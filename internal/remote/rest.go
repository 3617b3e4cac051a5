package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/ratelimit"
	"resty.dev/v3"

	apperrors "github.com/kimhsiao/catalogsync/internal/errors"
	"github.com/kimhsiao/catalogsync/internal/logging"
	"github.com/kimhsiao/catalogsync/internal/sync/queue"
)

// RESTConfig configures a RESTClient.
type RESTConfig struct {
	BaseURL           string        // Project URL, without the /rest/v1 suffix
	APIKey            string        // Sent as the apikey header
	Token             string        // Bearer token; defaults to APIKey
	Timeout           time.Duration // Per-request timeout (default: 30s)
	MaxRetries        int           // Transport retries per request (default: 0)
	RequestsPerSecond int           // Client-side rate limit; 0 disables it
	Breaker           BreakerConfig
}

// RESTClient is a Client for a PostgREST endpoint.
type RESTClient struct {
	httpClient *resty.Client
	rl         ratelimit.Limiter
	cb         *gobreaker.CircuitBreaker
	baseURL    string
}

// NewRESTClient creates a RESTClient.
func NewRESTClient(cfg RESTConfig) *RESTClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	token := cfg.Token
	if token == "" {
		token = cfg.APIKey
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.MaxRetries).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(5*time.Second).
		SetHeader("Accept", "application/json").
		SetHeader("Content-Type", "application/json")
	if cfg.APIKey != "" {
		client.SetHeader("apikey", cfg.APIKey)
	}
	if token != "" {
		client.SetAuthToken(token)
	}

	rl := ratelimit.NewUnlimited()
	if cfg.RequestsPerSecond > 0 {
		rl = ratelimit.New(cfg.RequestsPerSecond)
	}

	return &RESTClient{
		httpClient: client,
		rl:         rl,
		cb:         newBreaker("rest", cfg.Breaker),
		baseURL:    cfg.BaseURL,
	}
}

func tablePath(table string) string {
	return "/rest/v1/" + table
}

// Select implements Client.
func (c *RESTClient) Select(ctx context.Context, table string, since *time.Time) ([]json.RawMessage, error) {
	c.rl.Take()

	var rows []json.RawMessage
	err := guarded(c.cb, func() (error, error) {
		req := c.httpClient.R().
			SetContext(ctx).
			SetQueryParam("select", "*").
			SetQueryParam("order", "name.asc")
		if since != nil {
			req.SetQueryParam("updated_at", "gte."+since.UTC().Format(time.RFC3339Nano))
		}

		resp, err := req.Get(tablePath(table))
		if err != nil {
			return nil, fmt.Errorf("failed to query %s: %w", table, err)
		}
		if resp.IsError() {
			return classify(resp.StatusCode(), fmt.Errorf("HTTP error: %d %s", resp.StatusCode(), resp.String()))
		}
		if err := json.Unmarshal([]byte(resp.String()), &rows); err != nil {
			return fmt.Errorf("failed to decode %s rows: %w", table, err), nil
		}
		return nil, nil
	})
	if err != nil {
		return nil, wrapRemote(apperrors.ErrRemoteQuery, "select "+table, err)
	}
	return rows, nil
}

// Insert implements Client. Duplicate primary keys are ignored, so replaying
// the same create twice leaves a single row.
func (c *RESTClient) Insert(ctx context.Context, table string, row interface{}) error {
	return c.mutate(ctx, "insert", table, func(req *resty.Request) (*resty.Response, error) {
		return req.
			SetHeader("Prefer", "return=minimal,resolution=ignore-duplicates").
			SetBody(row).
			Post(tablePath(table))
	})
}

// Update implements Client.
func (c *RESTClient) Update(ctx context.Context, table, id string, row interface{}) error {
	return c.mutate(ctx, "update", table, func(req *resty.Request) (*resty.Response, error) {
		return req.
			SetHeader("Prefer", "return=minimal").
			SetQueryParam("id", "eq."+id).
			SetBody(row).
			Patch(tablePath(table))
	})
}

// Delete implements Client.
func (c *RESTClient) Delete(ctx context.Context, table, id string) error {
	return c.mutate(ctx, "delete", table, func(req *resty.Request) (*resty.Response, error) {
		return req.
			SetQueryParam("id", "eq."+id).
			Delete(tablePath(table))
	})
}

func (c *RESTClient) mutate(ctx context.Context, op, table string, send func(*resty.Request) (*resty.Response, error)) error {
	c.rl.Take()

	err := guarded(c.cb, func() (error, error) {
		req := c.httpClient.R().SetContext(ctx)
		if key := queue.IdempotencyKey(ctx); key != "" {
			req.SetHeader("Idempotency-Key", key)
		}

		resp, err := send(req)
		if err != nil {
			return nil, fmt.Errorf("failed to %s %s: %w", op, table, err)
		}
		if resp.IsError() {
			return classify(resp.StatusCode(), fmt.Errorf("HTTP error: %d %s", resp.StatusCode(), resp.String()))
		}
		return nil, nil
	})
	if err != nil {
		logging.Warn("Remote mutation failed",
			map[string]interface{}{"op": op, "table": table, "error": err.Error()})
		return wrapRemote(apperrors.ErrRemoteMutation, op+" "+table, err)
	}
	return nil
}

// Ping implements Client. Any HTTP response below 500 counts as reachable;
// the breaker is bypassed so a probe can observe recovery while it is open.
func (c *RESTClient) Ping(ctx context.Context) error {
	resp, err := c.httpClient.R().
		SetContext(ctx).
		Get("/rest/v1/")
	if err != nil {
		return apperrors.Wrap(apperrors.ErrRemoteUnavailable, "remote backend unreachable", err)
	}
	if resp.StatusCode() >= http.StatusInternalServerError {
		return apperrors.Newf(apperrors.ErrRemoteUnavailable, "remote backend returned %s", resp.Status())
	}
	return nil
}

// Close releases idle connections.
func (c *RESTClient) Close() {
	if err := c.httpClient.Close(); err != nil {
		logging.Debug("Closing REST client failed", map[string]interface{}{"error": err.Error()})
	}
}

// State reports the breaker state, for status endpoints.
func (c *RESTClient) State() string {
	return c.cb.State().String()
}

// classify splits HTTP failures: server errors and throttling count against
// the breaker, other client errors are plain rejections.
func classify(status int, err error) (rejected error, transient error) {
	if status >= http.StatusInternalServerError || status == http.StatusTooManyRequests {
		return nil, err
	}
	return err, nil
}

func wrapRemote(code apperrors.ErrorCode, message string, err error) error {
	if apperrors.Is(err, apperrors.ErrRemoteUnavailable) {
		return err
	}
	return apperrors.Wrap(code, message, err)
}

var _ Client = (*RESTClient)(nil)
