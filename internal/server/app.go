// Package server builds the indexer's dependency graph and runs the HTTP service.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-indexer/internal/api"
	"github.com/JakeFAU/site-indexer/internal/archive"
	"github.com/JakeFAU/site-indexer/internal/clock/system"
	"github.com/JakeFAU/site-indexer/internal/config"
	"github.com/JakeFAU/site-indexer/internal/crawler"
	collyfetcher "github.com/JakeFAU/site-indexer/internal/fetcher/colly"
	"github.com/JakeFAU/site-indexer/internal/hash/sha256"
	"github.com/JakeFAU/site-indexer/internal/id/uuid"
	"github.com/JakeFAU/site-indexer/internal/indexer"
	memorypublisher "github.com/JakeFAU/site-indexer/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/site-indexer/internal/publisher/pubsub"
	gcsstorage "github.com/JakeFAU/site-indexer/internal/storage/gcs"
	localstorage "github.com/JakeFAU/site-indexer/internal/storage/local"
	memorystorage "github.com/JakeFAU/site-indexer/internal/storage/memory"
	pgstore "github.com/JakeFAU/site-indexer/internal/storage/postgres"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// App contains the application's dependencies.
type App struct {
	cfg         config.Config
	logger      *zap.Logger
	coordinator *indexer.Coordinator
	apiServer   *api.Server

	sites crawler.SiteStore
	pages crawler.PageStore
	ready api.ReadinessCheck

	pgStore      *pgstore.Store
	gcsStore     *gcsstorage.BlobStore
	pubsub       *gcppublisher.Publisher
	closeTimeout time.Duration
}

// Build creates the application's dependencies from cfg. Partially built
// resources are released when a later step fails.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{
		cfg:          cfg,
		logger:       logger,
		closeTimeout: shutdownTimeout,
	}
	logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.Int("sites", len(cfg.Sites)),
		zap.String("archive_backend", cfg.Archive.Backend),
		zap.Bool("database", cfg.Database.DSN != ""),
	)

	if err := app.build(ctx); err != nil {
		app.closeInfrastructure()
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	if err := setupStore(ctx, a); err != nil {
		return err
	}

	sink, err := setupArchive(ctx, a)
	if err != nil {
		return err
	}

	publisher, err := setupPublisher(ctx, a)
	if err != nil {
		return err
	}

	driver := setupDriver(a, sink)
	a.coordinator = indexer.New(
		a.cfg,
		a.sites,
		a.pages,
		driver,
		publisher,
		system.New(),
		uuid.New(),
		indexer.Config{NotifyTopic: a.cfg.PubSub.TopicName},
		a.logger.Named("indexer"),
	)
	a.apiServer = api.NewServer(a.coordinator, a.sites, a.ready, a.cfg, a.logger.Named("api"))
	return nil
}

// Coordinator exposes the indexing coordinator, e.g. for one-shot runs.
func (a *App) Coordinator() *indexer.Coordinator {
	return a.coordinator
}

// Handler returns the HTTP handler for the REST surface.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run serves HTTP until ctx is canceled or SIGINT/SIGTERM arrives, then shuts
// the server down and closes the application.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	if a.cfg.Indexing.RunOnStart {
		if run, err := a.coordinator.Start(); err != nil {
			a.logger.Warn("startup run not started", zap.Error(err))
		} else {
			a.logger.Info("startup run started", zap.String("run_id", run.ID))
		}
	}

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.closeTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	closeErr := a.Close(shutdownCtx)

	select {
	case err := <-serveErr:
		return fmt.Errorf("serve http: %w", err)
	default:
	}
	return closeErr
}

// Close interrupts any in-flight run, waits for it to finalize, and releases
// external clients.
func (a *App) Close(ctx context.Context) error {
	var err error
	if a.coordinator != nil {
		if cerr := a.coordinator.Close(ctx); cerr != nil {
			a.logger.Warn("indexer close failed", zap.Error(cerr))
			err = fmt.Errorf("close indexer: %w", cerr)
		}
	}
	a.closeInfrastructure()
	a.logger.Info("shutdown complete")
	return err
}

func (a *App) closeInfrastructure() {
	if a.pubsub != nil {
		if err := a.pubsub.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
		a.pubsub = nil
	}
	if a.gcsStore != nil {
		if err := a.gcsStore.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
		a.gcsStore = nil
	}
	if a.pgStore != nil {
		a.pgStore.Close()
		a.pgStore = nil
	}
}

func setupStore(ctx context.Context, app *App) error {
	if app.cfg.Database.DSN == "" {
		app.logger.Warn("no database DSN configured, using in-memory site store")
		store := memorystorage.NewSiteStore()
		app.sites = store
		app.pages = store
		return nil
	}
	store, err := pgstore.New(ctx, pgstore.Config{
		DSN:             app.cfg.Database.DSN,
		MaxConns:        app.cfg.Database.MaxConns,
		MinConns:        app.cfg.Database.MinConns,
		MaxConnLifetime: app.cfg.Database.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("postgres store init failed: %w", err)
	}
	app.pgStore = store
	if app.cfg.Database.Migrate {
		if err := store.Migrate(ctx); err != nil {
			return fmt.Errorf("postgres migrate failed: %w", err)
		}
		app.logger.Info("postgres schema ensured")
	}
	app.sites = store
	app.pages = store
	app.ready = store.Ping
	app.logger.Info("postgres site store initialized")
	return nil
}

func setupArchive(ctx context.Context, app *App) (crawler.PageSink, error) {
	var blobs crawler.BlobStore
	switch app.cfg.Archive.Backend {
	case config.ArchiveGCS:
		store, err := gcsstorage.Open(ctx, gcsstorage.Config{Bucket: app.cfg.Archive.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.gcsStore = store
		blobs = store
		app.logger.Info("using GCS page archive", zap.String("bucket", app.cfg.Archive.Bucket))
	case config.ArchiveLocal:
		store, err := localstorage.New(localstorage.Config{BaseDir: app.cfg.Archive.Local.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		blobs = store
		app.logger.Info("using local page archive", zap.String("path", app.cfg.Archive.Local.BaseDir))
	case config.ArchiveMemory:
		blobs = memorystorage.NewBlobStore()
		app.logger.Info("using in-memory page archive")
	default:
		app.logger.Info("page archive disabled")
		return app.pages, nil
	}
	return archive.NewSink(app.pages, blobs, sha256.New(), archive.Config{
		Prefix:      app.cfg.Archive.Prefix,
		ContentType: app.cfg.Archive.ContentType,
	}, app.logger.Named("archive")), nil
}

func setupPublisher(ctx context.Context, app *App) (crawler.Publisher, error) {
	if app.cfg.PubSub.TopicName == "" {
		app.logger.Info("no Pub/Sub topic configured, site notifications disabled")
		return nil, nil
	}
	if app.cfg.PubSub.ProjectID == "" {
		app.logger.Warn("no Pub/Sub project configured, using in-memory publisher",
			zap.String("topic", app.cfg.PubSub.TopicName))
		return memorypublisher.New(), nil
	}
	publisher, err := gcppublisher.Open(ctx, app.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.pubsub = publisher
	app.logger.Info(
		"Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return publisher, nil
}

func setupDriver(app *App, sink crawler.PageSink) *crawler.Driver {
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:      app.cfg.HTTP.UserAgent,
		ConnectTimeout: app.cfg.HTTP.ConnectTimeout,
		ReadTimeout:    app.cfg.HTTP.ReadTimeout,
	})
	retrying := crawler.NewRetryingFetcher(
		fetcher,
		crawler.NewFixedRetryPolicy(app.cfg.HTTP.MaxAttempts, app.cfg.HTTP.RetryDelay),
		app.logger.Named("fetcher"),
	)
	app.logger.Info("fetcher config",
		zap.String("user_agent", app.cfg.HTTP.UserAgent),
		zap.Duration("connect_timeout", app.cfg.HTTP.ConnectTimeout),
		zap.Duration("read_timeout", app.cfg.HTTP.ReadTimeout),
		zap.Int("max_attempts", app.cfg.HTTP.MaxAttempts),
	)
	app.logger.Info("crawl config",
		zap.Duration("delay", app.cfg.Indexing.Delay),
		zap.Duration("site_deadline", app.cfg.Indexing.SiteDeadline),
	)
	return crawler.NewDriver(
		retrying,
		crawler.NewHrefExtractor(),
		sink,
		crawler.DriverConfig{
			Delay:    app.cfg.Indexing.Delay,
			Deadline: app.cfg.Indexing.SiteDeadline,
		},
		app.logger.Named("crawler"),
	)
}
