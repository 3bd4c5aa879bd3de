// Package app wires configuration, storage, the CRM client and the sync
// services together, and runs the scheduler daemon.
package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/crmsync/internal/archive"
	"github.com/dmitrijs2005/crmsync/internal/catalog"
	"github.com/dmitrijs2005/crmsync/internal/config"
	"github.com/dmitrijs2005/crmsync/internal/credentials"
	"github.com/dmitrijs2005/crmsync/internal/dbx"
	"github.com/dmitrijs2005/crmsync/internal/locks"
	"github.com/dmitrijs2005/crmsync/internal/logging"
	"github.com/dmitrijs2005/crmsync/internal/normalize"
	"github.com/dmitrijs2005/crmsync/internal/reconcile"
	"github.com/dmitrijs2005/crmsync/internal/remote"
	"github.com/dmitrijs2005/crmsync/internal/repositories/repomanager"
	"github.com/dmitrijs2005/crmsync/internal/schema"
	"github.com/dmitrijs2005/crmsync/internal/syncengine"
)

type App struct {
	config     *config.Config
	logger     logging.Logger
	db         *sql.DB
	repos      repomanager.RepositoryManager
	evolver    *schema.Evolver
	engine     *syncengine.Engine
	locks      *locks.Manager
	reconciler *reconcile.Reconciler
	health     *healthServer
}

// New opens the local store, applies migrations and builds the CRM client
// and every service on top of them.
func New(ctx context.Context, cfg *config.Config, logger logging.Logger) (*App, error) {
	db, d, err := dbx.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	repos := repomanager.NewRepositoryManager(d)
	if err := repos.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	source, err := tokenSource(ctx, cfg)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	var store credentials.Store = repos.Metadata(db)
	if cfg.CredentialKey != "" {
		store = credentials.NewSealedStore(store, cfg.CredentialKey, cfg.RemoteTenant)
	}
	tokens := credentials.NewCache(source, store, cfg.RemoteTenant, cfg.TokenTTL, logger)

	rc := remote.NewREST(remote.RESTOptions{
		BaseURL:         cfg.RemoteBaseURL,
		Tenant:          cfg.RemoteTenant,
		UserID:          cfg.RemoteUserID,
		RequestInterval: cfg.RemoteRequestInterval,
		MaxRetries:      cfg.RemoteMaxRetries,
		Timeout:         cfg.RemoteTimeout,
	}, tokens, logger)

	app := newApp(cfg, logger, db, repos, rc)

	if cfg.ReportBucket != "" {
		reporter, err := archive.NewS3ReporterFromOptions(ctx, archive.Options{
			Bucket:    cfg.ReportBucket,
			Prefix:    cfg.ReportPrefix,
			Region:    cfg.ReportRegion,
			Endpoint:  cfg.ReportEndpoint,
			AccessKey: cfg.ReportAccessKey,
			SecretKey: cfg.ReportSecretKey,
		})
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		app.engine.SetReporter(reporter)
	}

	return app, nil
}

func newApp(cfg *config.Config, logger logging.Logger, db *sql.DB, repos repomanager.RepositoryManager, rc remote.Client) *App {
	cat := catalog.Default()
	n := normalize.New(cat.Mappings())

	evolver := schema.NewEvolver(db, repos, rc, cat, n, logger)
	validator := schema.NewValidator(db, repos, evolver, cat, cfg.SchemaCacheTTL, logger)

	engine := syncengine.NewEngine(db, repos, rc, cat, n, validator, evolver, logger, syncengine.Options{
		PageSize:   cfg.PageSize,
		TimeBudget: cfg.TimeBudget,
		MaxBatches: cfg.MaxBatches,
	})

	lm := locks.NewManager(db, repos, cfg.LockTTL, logger)

	reconciler := reconcile.NewReconciler(db, repos, rc, cat, n, reconcile.DefaultPolicies(), lm, logger)
	reconciler.SetDriftResolver(evolver)
	reconciler.SetPageSize(cfg.PageSize)

	return &App{
		config:     cfg,
		logger:     logger.With("module", "app"),
		db:         db,
		repos:      repos,
		evolver:    evolver,
		engine:     engine,
		locks:      lm,
		reconciler: reconciler,
		health:     newHealthServer(cfg.HealthAddr, logger),
	}
}

func tokenSource(ctx context.Context, cfg *config.Config) (credentials.Source, error) {
	if cfg.RemoteSecretID == "" {
		return credentials.Static{AccessToken: cfg.RemoteToken}, nil
	}
	sm, err := credentials.NewSecretsManagerFromEnv(ctx, cfg.RemoteRegion, cfg.RemoteSecretID)
	if err != nil {
		return nil, fmt.Errorf("failed to init token source: %w", err)
	}
	return sm, nil
}

func (app *App) Engine() *syncengine.Engine { return app.engine }

func (app *App) Evolver() *schema.Evolver { return app.evolver }

func (app *App) Locks() *locks.Manager { return app.locks }

func (app *App) Reconciler() *reconcile.Reconciler { return app.reconciler }

func (app *App) Close() error {
	return app.db.Close()
}
