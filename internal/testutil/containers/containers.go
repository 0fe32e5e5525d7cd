//go:build integration

// Package containers starts the backing services of the authorization
// service in Docker for integration tests. It is only compiled with the
// "integration" build tag.
//
//	result, err := containers.StartPostgres(ctx)
//	if err != nil { ... }
//	defer result.Container.Terminate(ctx)
//
//	cfg := postgres.Config{URI: result.ConnString}
package containers

import (
	"context"
	"fmt"
	"strings"

	tcminio "github.com/testcontainers/testcontainers-go/modules/minio"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/StricklySoft/stricklysoft-authz/internal/testutil/fixtures"
)

// Images. Credentials for every container are throwaway values from the
// fixtures package.
const (
	PostgresImage = "docker.io/postgres:16-alpine"
	RedisImage    = "docker.io/redis:7-alpine"
	MinIOImage    = "docker.io/minio/minio:latest"
)

// PostgresResult is a running PostgreSQL container holding the directory
// and audit database.
type PostgresResult struct {
	Container *tcpostgres.PostgresContainer

	// ConnString is a postgres:// URI with sslmode=disable.
	ConnString string
}

// StartPostgres starts PostgreSQL with the fixtures database and user.
func StartPostgres(ctx context.Context) (*PostgresResult, error) {
	container, err := tcpostgres.Run(ctx,
		PostgresImage,
		tcpostgres.WithDatabase(fixtures.DBName),
		tcpostgres.WithUsername(fixtures.DBUser),
		tcpostgres.WithPassword(fixtures.DBPassword),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		return nil, fmt.Errorf("containers: failed to start postgres: %w", err)
	}
	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("containers: failed to get postgres connection string: %w", err)
	}
	return &PostgresResult{Container: container, ConnString: connStr}, nil
}

// RedisResult is a running Redis container used for the shared refresh
// cool-down.
type RedisResult struct {
	Container *tcredis.RedisContainer

	// ConnString is a redis:// URI.
	ConnString string
}

// StartRedis starts Redis without authentication.
func StartRedis(ctx context.Context) (*RedisResult, error) {
	container, err := tcredis.Run(ctx, RedisImage)
	if err != nil {
		return nil, fmt.Errorf("containers: failed to start redis: %w", err)
	}
	connStr, err := container.ConnectionString(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("containers: failed to get redis connection string: %w", err)
	}
	return &RedisResult{Container: container, ConnString: connStr}, nil
}

// MinIOResult is a running MinIO container used for the audit archive.
type MinIOResult struct {
	Container *tcminio.MinioContainer

	// Endpoint is host:port of the S3 API, without a scheme.
	Endpoint  string
	AccessKey string
	SecretKey string
}

// StartMinIO starts MinIO with the fixtures root credentials.
func StartMinIO(ctx context.Context) (*MinIOResult, error) {
	container, err := tcminio.Run(ctx,
		MinIOImage,
		tcminio.WithUsername(fixtures.MinIOAccessKey),
		tcminio.WithPassword(fixtures.MinIOSecretKey),
	)
	if err != nil {
		return nil, fmt.Errorf("containers: failed to start minio: %w", err)
	}
	endpoint, err := container.ConnectionString(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("containers: failed to get minio endpoint: %w", err)
	}
	endpoint = strings.TrimSuffix(strings.TrimPrefix(strings.TrimPrefix(endpoint, "http://"), "https://"), "/")
	return &MinIOResult{
		Container: container,
		Endpoint:  endpoint,
		AccessKey: fixtures.MinIOAccessKey,
		SecretKey: fixtures.MinIOSecretKey,
	}, nil
}
