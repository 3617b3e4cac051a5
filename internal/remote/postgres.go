package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sony/gobreaker"

	apperrors "github.com/kimhsiao/catalogsync/internal/errors"
	"github.com/kimhsiao/catalogsync/internal/logging"
)

// PostgresClient is a Client that talks to the backend database directly.
// Rows travel as JSON documents so the column mapping stays identical to the
// REST transport.
type PostgresClient struct {
	db *pgxpool.Pool
	cb *gobreaker.CircuitBreaker
}

// NewPostgresClient connects to databaseURL.
func NewPostgresClient(ctx context.Context, databaseURL string, breaker BreakerConfig) (*PostgresClient, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	return &PostgresClient{
		db: pool,
		cb: newBreaker("postgres", breaker),
	}, nil
}

func selectQuery(table string, incremental bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT row_to_json(t) FROM %s t", pgx.Identifier{table}.Sanitize())
	if incremental {
		b.WriteString(" WHERE t.updated_at >= $1")
	}
	b.WriteString(" ORDER BY t.name ASC")
	return b.String()
}

func quoteColumns(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}

// insertQuery builds an insert of cols taken from the JSON document in $1.
// A row whose id already exists is left alone.
func insertQuery(table string, cols []string) string {
	t := pgx.Identifier{table}.Sanitize()
	list := quoteColumns(cols)
	return fmt.Sprintf(
		"INSERT INTO %s (%s) SELECT %s FROM json_populate_record(NULL::%s, $1::json) ON CONFLICT (id) DO NOTHING",
		t, list, list, t)
}

// updateQuery builds an update of cols from the JSON document in $1 for the
// row whose id is $2. The id column itself is never rewritten.
func updateQuery(table string, cols []string) (string, bool) {
	set := make([]string, 0, len(cols))
	for _, c := range cols {
		if c != "id" {
			set = append(set, c)
		}
	}
	if len(set) == 0 {
		return "", false
	}
	t := pgx.Identifier{table}.Sanitize()
	list := quoteColumns(set)
	return fmt.Sprintf(
		"UPDATE %s SET (%s) = (SELECT %s FROM json_populate_record(NULL::%s, $1::json)) WHERE id = $2",
		t, list, list, t), true
}

func deleteQuery(table string) string {
	return fmt.Sprintf("DELETE FROM %s WHERE id = $1", pgx.Identifier{table}.Sanitize())
}

// Select implements Client.
func (c *PostgresClient) Select(ctx context.Context, table string, since *time.Time) ([]json.RawMessage, error) {
	var out []json.RawMessage
	err := guarded(c.cb, func() (error, error) {
		var args []interface{}
		if since != nil {
			args = append(args, since.UTC())
		}

		rows, err := c.db.Query(ctx, selectQuery(table, since != nil), args...)
		if err != nil {
			return nil, fmt.Errorf("failed to query %s: %w", table, err)
		}
		defer rows.Close()

		for rows.Next() {
			var raw []byte
			if err := rows.Scan(&raw); err != nil {
				return nil, fmt.Errorf("failed to scan %s row: %w", table, err)
			}
			out = append(out, json.RawMessage(raw))
		}
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to read %s rows: %w", table, err)
		}
		return nil, nil
	})
	if err != nil {
		return nil, wrapRemote(apperrors.ErrRemoteQuery, "select "+table, err)
	}
	return out, nil
}

// Insert implements Client.
func (c *PostgresClient) Insert(ctx context.Context, table string, row interface{}) error {
	cols, doc, err := columns(row)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrSerialization, "encode "+table+" row", err)
	}
	return c.exec(ctx, "insert", table, insertQuery(table, cols), string(doc))
}

// Update implements Client.
func (c *PostgresClient) Update(ctx context.Context, table, id string, row interface{}) error {
	cols, doc, err := columns(row)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrSerialization, "encode "+table+" row", err)
	}
	query, ok := updateQuery(table, cols)
	if !ok {
		return nil
	}
	return c.exec(ctx, "update", table, query, string(doc), id)
}

// Delete implements Client.
func (c *PostgresClient) Delete(ctx context.Context, table, id string) error {
	return c.exec(ctx, "delete", table, deleteQuery(table), id)
}

func (c *PostgresClient) exec(ctx context.Context, op, table, query string, args ...interface{}) error {
	err := guarded(c.cb, func() (error, error) {
		if _, err := c.db.Exec(ctx, query, args...); err != nil {
			err = fmt.Errorf("failed to %s %s: %w", op, table, err)
			if rejectedByServer(err) {
				return err, nil
			}
			return nil, err
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

// rejectedByServer reports whether err is the database refusing the statement
// itself. Data, integrity and syntax errors will fail the same way on retry.
func rejectedByServer(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || len(pgErr.Code) < 2 {
		return false
	}
	switch pgErr.Code[:2] {
	case "22", "23", "42":
		return true
	}
	return false
}

// Ping implements Client.
func (c *PostgresClient) Ping(ctx context.Context) error {
	if err := c.db.Ping(ctx); err != nil {
		return apperrors.Wrap(apperrors.ErrRemoteUnavailable, "remote database unreachable", err)
	}
	return nil
}

// Close closes the pool.
func (c *PostgresClient) Close() {
	c.db.Close()
}

// State reports the breaker state.
func (c *PostgresClient) State() string {
	return c.cb.State().String()
}

var _ Client = (*PostgresClient)(nil)
