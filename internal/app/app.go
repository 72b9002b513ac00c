// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"

	gcsstorage "cloud.google.com/go/storage"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/sbir-solicitations/internal/api"
	"github.com/JakeFAU/sbir-solicitations/internal/clock/system"
	"github.com/JakeFAU/sbir-solicitations/internal/config"
	"github.com/JakeFAU/sbir-solicitations/internal/dispatcher"
	"github.com/JakeFAU/sbir-solicitations/internal/grants"
	"github.com/JakeFAU/sbir-solicitations/internal/hash/sha256"
	"github.com/JakeFAU/sbir-solicitations/internal/id/uuid"
	"github.com/JakeFAU/sbir-solicitations/internal/loader"
	"github.com/JakeFAU/sbir-solicitations/internal/logging"
	"github.com/JakeFAU/sbir-solicitations/internal/pipeline"
	"github.com/JakeFAU/sbir-solicitations/internal/policy/ratelimit"
	pubsubpublisher "github.com/JakeFAU/sbir-solicitations/internal/publisher/pubsub"
	"github.com/JakeFAU/sbir-solicitations/internal/storage/gcs"
	"github.com/JakeFAU/sbir-solicitations/internal/storage/local"
	"github.com/JakeFAU/sbir-solicitations/internal/storage/memory"
	"github.com/JakeFAU/sbir-solicitations/internal/storage/postgres"
	"github.com/JakeFAU/sbir-solicitations/internal/telemetry"
	"github.com/JakeFAU/sbir-solicitations/internal/upstream"
	"github.com/JakeFAU/sbir-solicitations/internal/validate"
)

// Version is reported as the traced service version.
var Version = "dev"

// Repository is a store that serves both the loader and the query API.
type Repository interface {
	grants.Store
	grants.Catalog
}

type migrator interface {
	Migrate(ctx context.Context) error
}

type closer struct {
	name string
	fn   func(context.Context) error
}

// App holds the shared services built from one Config. It is created once at
// startup and closed on exit.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	repo      Repository
	archive   grants.BlobStore
	publisher grants.Publisher
	closers   []closer
}

// New builds every service the configuration asks for. Services opened before
// a failure are closed again.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}
	logger.Info("initializing application services",
		zap.String("db_driver", cfg.DB.Driver),
		zap.String("archive_driver", cfg.Archive.Driver),
		zap.Bool("notifications", cfg.PubSub.Topic != ""),
		zap.Bool("tracing", cfg.Telemetry.Enabled),
	)

	steps := []func(context.Context) error{a.initTracing, a.initRepository, a.initArchive, a.initPublisher}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			if cerr := a.Close(ctx); cerr != nil {
				logger.Warn("cleanup after failed init", zap.Error(cerr))
			}
			return nil, err
		}
	}
	return a, nil
}

func (a *App) initTracing(ctx context.Context) error {
	if !a.cfg.Telemetry.Enabled {
		return nil
	}
	tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
		ServiceName: a.cfg.Telemetry.ServiceName,
		Version:     Version,
	}, logging.Component(a.logger, "trace"))
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	a.onClose("tracer", func(ctx context.Context) error { return shutdownTracer(ctx, tp) })
	return nil
}

func shutdownTracer(ctx context.Context, tp *sdktrace.TracerProvider) error {
	if err := tp.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown tracer provider: %w", err)
	}
	return nil
}

func (a *App) initRepository(ctx context.Context) error {
	switch a.cfg.DB.Driver {
	case config.DriverMemory:
		a.logger.Warn("using in-memory store; data is lost on exit")
		a.repo = memory.NewStore()
	case config.DriverPostgres:
		store, err := postgres.NewStore(ctx, postgres.Config{
			DSN:             a.cfg.DB.DSN,
			MaxConns:        a.cfg.DB.MaxConns,
			MinConns:        a.cfg.DB.MinConns,
			MaxConnLifetime: a.cfg.MaxConnLifetime(),
		})
		if err != nil {
			return fmt.Errorf("init postgres store: %w", err)
		}
		a.repo = store
		a.onClose("postgres", func(context.Context) error {
			store.Close()
			return nil
		})
	default:
		return fmt.Errorf("unknown db driver: %s", a.cfg.DB.Driver)
	}
	return nil
}

func (a *App) initArchive(ctx context.Context) error {
	switch a.cfg.Archive.Driver {
	case "", config.ArchiveNone:
		a.logger.Info("raw batch archive disabled")
	case config.ArchiveMemory:
		a.archive = memory.NewBlobStore()
	case config.ArchiveLocal:
		store, err := local.New(local.Config{BaseDir: a.cfg.Archive.LocalDir})
		if err != nil {
			return fmt.Errorf("init local archive: %w", err)
		}
		a.archive = store
	case config.ArchiveGCS:
		client, err := gcsstorage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("create gcs client: %w", err)
		}
		a.onClose("gcs", func(context.Context) error { return client.Close() })
		store, err := gcs.New(client, gcs.Config{Bucket: a.cfg.Archive.GCSBucket})
		if err != nil {
			return fmt.Errorf("init gcs archive: %w", err)
		}
		a.archive = store
	default:
		return fmt.Errorf("unknown archive driver: %s", a.cfg.Archive.Driver)
	}
	return nil
}

func (a *App) initPublisher(ctx context.Context) error {
	if a.cfg.PubSub.Topic == "" {
		return nil
	}
	client, err := pubsubpublisher.Connect(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("init pubsub: %w", err)
	}
	pub, err := pubsubpublisher.New(client)
	if err != nil {
		return fmt.Errorf("init pubsub: %w", err)
	}
	a.publisher = pub
	a.onClose("pubsub", func(context.Context) error { return pub.Close() })
	return nil
}

func (a *App) onClose(name string, fn func(context.Context) error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config {
	return a.cfg
}

// Logger returns the root logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Store returns the write side used by the loader.
func (a *App) Store() grants.Store {
	return a.repo
}

// Catalog returns the read side served by the query API.
func (a *App) Catalog() grants.Catalog {
	return a.repo
}

// Archive returns the raw batch archive, or nil when archiving is disabled.
func (a *App) Archive() grants.BlobStore {
	return a.archive
}

// Migrate applies the relational schema. The in-memory store needs none.
func (a *App) Migrate(ctx context.Context) error {
	m, ok := a.repo.(migrator)
	if !ok {
		a.logger.Info("store has no schema to migrate", zap.String("db_driver", a.cfg.DB.Driver))
		return nil
	}
	if err := m.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	a.logger.Info("schema applied")
	return nil
}

// Pipeline assembles the fetch, validate, and load chain for one ETL run.
func (a *App) Pipeline() (*pipeline.Pipeline, error) {
	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   a.cfg.Upstream.RequestsPerSecond,
		DefaultBurst: a.cfg.Upstream.Burst,
	})
	client, err := upstream.New(upstream.Config{
		BaseURL:   a.cfg.Upstream.BaseURL,
		UserAgent: a.cfg.Upstream.UserAgent,
		Timeout:   a.cfg.UpstreamTimeout(),
	}, limiter, logging.Component(a.logger, "upstream"))
	if err != nil {
		return nil, fmt.Errorf("init upstream client: %w", err)
	}
	fetcher := dispatcher.New(client, dispatcher.Config{
		PageSize:    a.cfg.ETL.PageSize,
		MaxOffset:   a.cfg.ETL.MaxOffset,
		Concurrency: a.cfg.ETL.Concurrency,
	}, logging.Component(a.logger, "dispatcher"))
	ldr := loader.New(a.repo, validate.New(), logging.Component(a.logger, "loader"))

	p, err := pipeline.New(pipeline.Deps{
		Fetcher:   fetcher,
		Loader:    ldr,
		Archive:   a.archive,
		Publisher: a.publisher,
		Hasher:    sha256.New(),
		Clock:     system.New(),
		IDs:       uuid.New(),
	}, pipeline.Config{
		ArchivePrefix: a.cfg.Archive.Prefix,
		Topic:         a.cfg.PubSub.Topic,
	}, logging.Component(a.logger, "pipeline"))
	if err != nil {
		return nil, fmt.Errorf("init pipeline: %w", err)
	}
	return p, nil
}

// APIServer builds the query API over the catalog.
func (a *App) APIServer() *api.Server {
	return api.NewServer(a.repo, a.cfg, logging.Component(a.logger, "api"))
}

// Close releases services in reverse order of creation.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(ctx); err != nil {
			a.logger.Warn("close failed", zap.String("service", c.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
