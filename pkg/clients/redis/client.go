// Package redis is a traced go-redis wrapper. The authorization service uses
// it to share the signing key refresh cool-down across replicas: Client
// satisfies auth.LockStore through SetNX.
package redis

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/stricklysoft-authz/pkg/errors"
)

const tracerName = "github.com/StricklySoft/stricklysoft-authz/pkg/clients/redis"

// Cmdable is the part of *redis.Client the wrapper calls.
type Cmdable interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

var _ Cmdable = (*redis.Client)(nil)

// Option customizes a Client.
type Option func(*Client)

// WithTracerProvider sets the tracer provider used for spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) { c.tracer = tp.Tracer(tracerName) }
}

// Client is safe for concurrent use.
type Client struct {
	cmdable Cmdable
	prefix  string
	dbIndex int
	tracer  trace.Tracer
}

// NewClient validates cfg, connects and pings the server. Errors: VAL_* for
// bad configuration, UNAVAIL_002 when Redis cannot be reached.
func NewClient(ctx context.Context, cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var ro *redis.Options
	if cfg.URI != "" {
		var err error
		if ro, err = redis.ParseURL(cfg.URI); err != nil {
			return nil, sserr.Wrap(err, sserr.CodeValidationFormat, "redis: failed to parse uri")
		}
	} else {
		ro = &redis.Options{
			Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Password: cfg.Password.Value(),
			DB:       cfg.DB,
		}
		if cfg.TLSEnabled {
			ro.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
	}
	ro.PoolSize = cfg.PoolSize
	ro.MinIdleConns = cfg.MinIdleConns
	ro.MaxRetries = cfg.MaxRetries
	ro.DialTimeout = cfg.DialTimeout
	ro.ReadTimeout = cfg.ReadTimeout
	ro.WriteTimeout = cfg.WriteTimeout

	rdb := redis.NewClient(ro)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, sserr.Wrap(err, sserr.CodeUnavailableDependency, "redis: failed to connect")
	}
	c := NewFromClient(rdb, &cfg, opts...)
	c.dbIndex = ro.DB
	return c, nil
}

// NewFromClient wraps an existing Cmdable. cfg supplies the key prefix and
// may be nil.
func NewFromClient(cmdable Cmdable, cfg *Config, opts ...Option) *Client {
	c := &Client{cmdable: cmdable, tracer: otel.Tracer(tracerName)}
	if cfg != nil {
		c.prefix = cfg.KeyPrefix
		c.dbIndex = cfg.DB
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetNX stores value under key for ttl only if key is absent and reports
// whether it did. It implements auth.LockStore.
func (c *Client) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	key = c.prefix + key
	ctx, span := c.startSpan(ctx, "SetNX", "SETNX "+key)
	ok, err := c.cmdable.SetNX(ctx, key, value, ttl).Result()
	span.SetAttributes(attribute.Bool("redis.acquired", ok))
	finishSpan(span, err)
	if err != nil {
		return false, wrapError(err, "redis: setnx failed")
	}
	return ok, nil
}

// Health pings Redis, bounded by DefaultHealthTimeout when ctx has no
// deadline. Failure is UNAVAIL_002.
func (c *Client) Health(ctx context.Context) error {
	ctx, span := c.startSpan(ctx, "Health", "PING")
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultHealthTimeout)
		defer cancel()
	}
	err := c.cmdable.Ping(ctx).Err()
	finishSpan(span, err)
	if err != nil {
		return sserr.Wrap(err, sserr.CodeUnavailableDependency, "redis: health check failed")
	}
	return nil
}

// Close releases the connection pool.
func (c *Client) Close() error {
	return c.cmdable.Close()
}

func (c *Client) startSpan(ctx context.Context, op, statement string) (context.Context, trace.Span) {
	ctx, span := c.tracer.Start(ctx, "redis."+op, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("db.system", "redis"),
		attribute.Int("db.redis.database_index", c.dbIndex),
		attribute.String("db.statement", truncateStatement(statement)),
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

// wrapError maps a deadline to TIMEOUT_003 and everything else, cancellation
// included, to INT_005.
func wrapError(err error, message string) *sserr.Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return sserr.Wrap(err, sserr.CodeTimeoutDependency, message)
	}
	return sserr.Wrap(err, sserr.CodeInternalCache, message)
}
