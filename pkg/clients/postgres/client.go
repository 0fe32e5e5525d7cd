// Package postgres wraps a pgx connection pool with OpenTelemetry spans and
// coded errors. It backs the user directory and the audit trail.
//
// Production code connects with [NewClient]; tests inject pgxmock through
// [NewFromPool]:
//
//	mock, _ := pgxmock.NewPool()
//	client := postgres.NewFromPool(mock, &postgres.Config{Database: "authz"})
//
// Every operation opens a client span named "postgres.<Op>" carrying
// db.system, db.name and a truncated db.statement. Driver errors come back as
// *errors.Error: a deadline or cancellation is TIMEOUT_002, anything else is
// INT_002. Callers reclassify these into their own domain codes.
package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/stricklysoft-authz/pkg/errors"
)

const tracerName = "github.com/StricklySoft/stricklysoft-authz/pkg/clients/postgres"

// Pool is the subset of *pgxpool.Pool the client uses. pgxmock pools
// satisfy it.
type Pool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

var _ Pool = (*pgxpool.Pool)(nil)

// Option customizes a Client.
type Option func(*Client)

// WithTracerProvider sets the tracer provider used for spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) { c.tracer = tp.Tracer(tracerName) }
}

// Client is safe for concurrent use. Create one per database.
type Client struct {
	pool   Pool
	dbName string
	tracer trace.Tracer
}

// NewClient validates cfg, opens a pool and pings the server.
//
// Errors: VAL_* for bad configuration, INT_003 for TLS setup, UNAVAIL_002
// when the server cannot be reached.
func NewClient(ctx context.Context, cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeValidationFormat,
			"postgres: failed to parse connection string")
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	poolCfg.HealthCheckPeriod = cfg.HealthCheckPeriod

	tlsCfg, err := cfg.tlsConfig()
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeInternalConfiguration,
			"postgres: failed to configure TLS")
	}
	if tlsCfg != nil {
		poolCfg.ConnConfig.TLSConfig = tlsCfg
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeUnavailableDependency,
			"postgres: failed to create connection pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, sserr.Wrap(err, sserr.CodeUnavailableDependency,
			"postgres: failed to connect to database")
	}
	return newClient(pool, cfg.databaseName(), opts), nil
}

// NewFromPool wraps an existing pool. cfg is only consulted for the
// database name and may be nil.
func NewFromPool(pool Pool, cfg *Config, opts ...Option) *Client {
	name := ""
	if cfg != nil {
		name = cfg.databaseName()
	}
	return newClient(pool, name, opts)
}

func newClient(pool Pool, dbName string, opts []Option) *Client {
	c := &Client{
		pool:   pool,
		dbName: dbName,
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Query runs a statement returning rows. The caller closes the rows.
func (c *Client) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	ctx, span := c.startSpan(ctx, "Query", sql)
	rows, err := c.pool.Query(ctx, sql, args...)
	finishSpan(span, err)
	if err != nil {
		return nil, wrapError(err, "postgres: query failed")
	}
	return rows, nil
}

// QueryRow runs a statement returning at most one row. Errors, including
// pgx.ErrNoRows, surface from Scan and are not recorded on the span.
func (c *Client) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	ctx, span := c.startSpan(ctx, "QueryRow", sql)
	defer span.End()
	return c.pool.QueryRow(ctx, sql, args...)
}

// Exec runs a statement that returns no rows.
func (c *Client) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	ctx, span := c.startSpan(ctx, "Exec", sql)
	tag, err := c.pool.Exec(ctx, sql, args...)
	finishSpan(span, err)
	if err != nil {
		return tag, wrapError(err, "postgres: exec failed")
	}
	return tag, nil
}

// Begin starts a transaction. Prefer WithTx unless the transaction must
// outlive a single function.
func (c *Client) Begin(ctx context.Context) (pgx.Tx, error) {
	ctx, span := c.startSpan(ctx, "Begin", "BEGIN")
	tx, err := c.pool.Begin(ctx)
	finishSpan(span, err)
	if err != nil {
		return nil, wrapError(err, "postgres: begin transaction failed")
	}
	return tx, nil
}

// WithTx runs fn inside a transaction. It commits when fn returns nil and
// rolls back otherwise. An error returned by fn is passed through unchanged
// if it is already coded.
func (c *Client) WithTx(ctx context.Context, fn func(pgx.Tx) error) (err error) {
	ctx, span := c.startSpan(ctx, "WithTx", "BEGIN")
	defer func() { finishSpan(span, err) }()

	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return wrapError(err, "postgres: begin transaction failed")
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		if _, coded := sserr.AsError(err); coded {
			return err
		}
		return wrapError(err, "postgres: transaction failed")
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapError(err, "postgres: commit failed")
	}
	return nil
}

// Health pings the server, bounded by DefaultHealthTimeout when ctx has no
// deadline. Failure is UNAVAIL_002.
func (c *Client) Health(ctx context.Context) error {
	ctx, span := c.startSpan(ctx, "Health", "SELECT 1")
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultHealthTimeout)
		defer cancel()
	}
	err := c.pool.Ping(ctx)
	finishSpan(span, err)
	if err != nil {
		return sserr.Wrap(err, sserr.CodeUnavailableDependency, "postgres: health check failed")
	}
	return nil
}

// Close releases the pool.
func (c *Client) Close() {
	c.pool.Close()
}

// Pool exposes the underlying pool for operations the client does not wrap.
func (c *Client) Pool() Pool {
	return c.pool
}

func (c *Client) startSpan(ctx context.Context, op, sql string) (context.Context, trace.Span) {
	ctx, span := c.tracer.Start(ctx, "postgres."+op, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.name", c.dbName),
		attribute.String("db.statement", truncateStatement(sql)),
	)
	return ctx, span
}

func finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// wrapError maps a driver error to TIMEOUT_002 or INT_002.
func wrapError(err error, message string) *sserr.Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return sserr.Wrap(err, sserr.CodeTimeoutDatabase, message)
	}
	return sserr.Wrap(err, sserr.CodeInternalDatabase, message)
}
