// Package minio is a traced minio-go wrapper for the S3-compatible store that
// holds the audit archive. Tests inject a fake through [NewFromStore].
package minio

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/stricklysoft-authz/pkg/errors"
)

const tracerName = "github.com/StricklySoft/stricklysoft-authz/pkg/clients/minio"

// ObjectStore is the part of *minio.Client the wrapper calls.
type ObjectStore interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (*minio.Object, error)
	ListObjects(ctx context.Context, bucketName string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
}

var _ ObjectStore = (*minio.Client)(nil)

// Option customizes a Client.
type Option func(*Client)

// WithTracerProvider sets the tracer provider used for spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) { c.tracer = tp.Tracer(tracerName) }
}

// Client is safe for concurrent use.
type Client struct {
	store  ObjectStore
	config Config
	tracer trace.Tracer
}

// NewClient validates cfg and probes the server. Errors: VAL_* for bad
// configuration, UNAVAIL_002 when the server cannot be reached.
func NewClient(ctx context.Context, cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey.Value(), ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeInternalConfiguration, "minio: failed to create client")
	}
	if _, err := mc.BucketExists(ctx, cfg.healthBucket()); err != nil {
		return nil, sserr.Wrap(err, sserr.CodeUnavailableDependency, "minio: failed to reach server")
	}
	return NewFromStore(mc, &cfg, opts...), nil
}

// NewFromStore wraps an existing ObjectStore. cfg may be nil.
func NewFromStore(store ObjectStore, cfg *Config, opts ...Option) *Client {
	c := &Client{store: store, tracer: otel.Tracer(tracerName)}
	if cfg != nil {
		c.config = *cfg
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PutObject uploads size bytes from reader.
func (c *Client) PutObject(ctx context.Context, bucket, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	ctx, span := c.startSpan(ctx, "PutObject", bucket, fmt.Sprintf("PUT %s/%s", bucket, object))
	info, err := c.store.PutObject(ctx, bucket, object, reader, size, opts)
	finishSpan(span, err)
	if err != nil {
		return info, wrapError(err, "minio: put object failed")
	}
	return info, nil
}

// ReadObject returns the whole content of a small object. A missing object
// is NF_001.
func (c *Client) ReadObject(ctx context.Context, bucket, object string) (data []byte, err error) {
	ctx, span := c.startSpan(ctx, "GetObject", bucket, fmt.Sprintf("GET %s/%s", bucket, object))
	defer func() { finishSpan(span, err) }()

	obj, err := c.store.GetObject(ctx, bucket, object, minio.GetObjectOptions{})
	if err != nil {
		return nil, wrapError(err, "minio: get object failed")
	}
	defer obj.Close()
	if data, err = io.ReadAll(obj); err != nil {
		return nil, wrapError(err, "minio: read object failed")
	}
	return data, nil
}

// ListKeys returns the names of every object under prefix, recursively.
func (c *Client) ListKeys(ctx context.Context, bucket, prefix string) (keys []string, err error) {
	ctx, span := c.startSpan(ctx, "ListObjects", bucket, fmt.Sprintf("LIST %s/%s", bucket, prefix))
	defer func() { finishSpan(span, err) }()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	for info := range c.store.ListObjects(ctx, bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if info.Err != nil {
			return nil, wrapError(info.Err, "minio: list objects failed")
		}
		keys = append(keys, info.Key)
	}
	return keys, nil
}

// EnsureBucket creates bucket when it does not exist yet.
func (c *Client) EnsureBucket(ctx context.Context, bucket string) (err error) {
	ctx, span := c.startSpan(ctx, "EnsureBucket", bucket, "MAKE BUCKET "+bucket)
	defer func() { finishSpan(span, err) }()

	exists, err := c.store.BucketExists(ctx, bucket)
	if err != nil {
		return wrapError(err, "minio: bucket lookup failed")
	}
	if exists {
		return nil
	}
	if err := c.store.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: c.config.Region}); err != nil {
		var resp minio.ErrorResponse
		if errors.As(err, &resp) && (resp.Code == "BucketAlreadyOwnedByYou" || resp.Code == "BucketAlreadyExists") {
			return nil
		}
		return wrapError(err, "minio: make bucket failed")
	}
	return nil
}

// Health probes the server with BucketExists, bounded by
// DefaultHealthTimeout when ctx has no deadline. Failure is UNAVAIL_002.
func (c *Client) Health(ctx context.Context) error {
	bucket := c.config.healthBucket()
	ctx, span := c.startSpan(ctx, "Health", bucket, "BucketExists "+bucket)
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultHealthTimeout)
		defer cancel()
	}
	_, err := c.store.BucketExists(ctx, bucket)
	finishSpan(span, err)
	if err != nil {
		return sserr.Wrap(err, sserr.CodeUnavailableDependency, "minio: health check failed")
	}
	return nil
}

func (c *Client) startSpan(ctx context.Context, op, bucket, statement string) (context.Context, trace.Span) {
	ctx, span := c.tracer.Start(ctx, "minio."+op, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("db.system", "minio"),
		attribute.String("db.name", bucket),
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

// wrapError maps a deadline to TIMEOUT_003, a missing key or bucket to
// NF_001, and anything else to INT_006.
func wrapError(err error, message string) *sserr.Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return sserr.Wrap(err, sserr.CodeTimeoutDependency, message)
	}
	var resp minio.ErrorResponse
	if errors.As(err, &resp) && (resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket") {
		return sserr.Wrap(err, sserr.CodeNotFound, message)
	}
	return sserr.Wrap(err, sserr.CodeInternalStorage, message)
}
