// Command authzd serves a small API behind the authorization pipeline: bearer
// tokens are verified against the identity provider's key set, the subject
// is resolved against the PostgreSQL directory, and every route's access
// requirement is enforced before its handler runs. Administrative actions are
// recorded in the audit log, optionally archived to object storage.
//
// Configuration comes from AUTHZ_* environment variables, optionally layered
// over a YAML or JSON file named by -config:
//
//	AUTHZ_AUTH_ISSUER=https://tenant.example.com/ \
//	AUTHZ_AUTH_AUDIENCE=https://api.example.com \
//	AUTHZ_POSTGRES_URI=postgres://authz@db/authz \
//	authzd -config /etc/authzd/config.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/StricklySoft/stricklysoft-authz/pkg/audit"
	"github.com/StricklySoft/stricklysoft-authz/pkg/auth"
	"github.com/StricklySoft/stricklysoft-authz/pkg/clients/minio"
	"github.com/StricklySoft/stricklysoft-authz/pkg/clients/postgres"
	"github.com/StricklySoft/stricklysoft-authz/pkg/clients/redis"
	"github.com/StricklySoft/stricklysoft-authz/pkg/config"
	"github.com/StricklySoft/stricklysoft-authz/pkg/directory"
	"github.com/StricklySoft/stricklysoft-authz/pkg/lifecycle"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	configPath := flag.String("config", os.Getenv("AUTHZ_CONFIG_FILE"), "YAML or JSON configuration file")
	flag.Parse()

	var cfg Config
	if err := config.New().WithEnvPrefix(envPrefix).WithFile(*configPath).Load(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "authzd: %v\n", err)
		os.Exit(2)
	}
	level, _ := parseLevel(cfg.LogLevel)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("authzd: exiting", "error", err)
		os.Exit(1)
	}
}

// run connects the backing stores, assembles the pipeline and serves until
// ctx is done.
func run(ctx context.Context, cfg Config, logger *slog.Logger) error {
	db, err := postgres.NewClient(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	// closers release what has been opened when run fails before the
	// service is up. Afterwards the stop hooks own them.
	closers := []func(){db.Close}
	abort := func(err error) error {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
		return err
	}

	builder := lifecycle.NewServiceBuilder("authzd", version).
		WithLogger(logger).
		WithDependency(lifecycle.Dependency{Name: "postgres", Checker: db}).
		WithOnStop(func(context.Context) error { db.Close(); return nil })

	users := directory.NewPostgresStore(db, directory.WithLogger(logger))
	auditLog := audit.NewPostgresStore(db)
	builder.WithOnStart(users.EnsureSchema).WithOnStart(auditLog.EnsureSchema)

	var store audit.Store = auditLog
	var archived archiveReader
	if cfg.Archive.Enabled {
		objects, err := minio.NewClient(ctx, cfg.Archive.MinIO)
		if err != nil {
			return abort(err)
		}
		archive := audit.NewObjectStore(objects, cfg.Archive.Bucket)
		builder.WithDependency(lifecycle.Dependency{Name: "minio", Checker: objects, Optional: true}).
			WithOnStart(archive.EnsureBucket)
		store = audit.Tee(auditLog, archive).WithLogger(logger)
		archived = archive
	}

	keyOpts := []auth.KeySourceOption{auth.WithKeySourceLogger(logger)}
	if cfg.Redis.Enabled {
		cache, err := redis.NewClient(ctx, cfg.Redis.Client)
		if err != nil {
			return abort(err)
		}
		closers = append(closers, func() { _ = cache.Close() })
		owner, _ := os.Hostname()
		keyOpts = append(keyOpts, auth.WithSharedRefreshLimiter(
			auth.NewSharedRefreshLimiter(cache, "jwks-refresh", owner, cfg.Auth.KeyRefreshCooldown)))
		builder.WithDependency(lifecycle.Dependency{Name: "redis", Checker: cache, Optional: true}).
			WithOnStop(func(context.Context) error { return cache.Close() })
	}

	keys, err := auth.NewKeySource(cfg.Auth.KeySourceConfig(), keyOpts...)
	if err != nil {
		return abort(err)
	}
	verifier, err := auth.NewVerifier(keys, cfg.Auth.VerifierConfig(), auth.WithVerifierLogger(logger))
	if err != nil {
		return abort(err)
	}
	roles := auth.DefaultRoleTable()
	resolver := auth.NewResolver(users, roles,
		auth.WithLookupTimeout(cfg.Auth.IdentityLookupTimeout), auth.WithResolverLogger(logger))
	gate := auth.NewGatekeeper(verifier, resolver, auth.NewEngine(roles), auth.WithGatekeeperLogger(logger))

	// A failed warm-up is not fatal: the first request retries the fetch.
	builder.WithOnStart(func(ctx context.Context) error {
		if err := keys.Refresh(ctx); err != nil {
			logger.WarnContext(ctx, "authzd: initial key set fetch failed", "error", err)
		}
		return nil
	})

	srv := &server{
		users:    users,
		recorder: audit.NewRecorder(store, audit.WithLogger(logger)),
		entries:  auditLog,
		archive:  archived,
		gate:     gate,
		logger:   logger,
	}
	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		ReadHeaderTimeout: 10 * time.Second,
	}
	builder.WithOnStop(httpServer.Shutdown)

	service, err := builder.Build()
	if err != nil {
		return abort(err)
	}
	srv.service = service
	httpServer.Handler = srv.routes()

	if err := service.Start(ctx); err != nil {
		return abort(err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("authzd: listening", "addr", cfg.ListenAddr, "version", version)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		keys.Run(gctx, cfg.KeyRefreshInterval)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("authzd: shutting down")
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.ShutdownTimeout)
		defer cancel()
		return service.Stop(stopCtx)
	})
	return g.Wait()
}
