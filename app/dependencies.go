package app

import (
	"context"
	"fmt"
	"time"

	"github.com/drdecide/clinic-gateway/cognito"
	"github.com/drdecide/clinic-gateway/config"
	"github.com/drdecide/clinic-gateway/internal/observability"
	"github.com/drdecide/clinic-gateway/middleware"
	"github.com/drdecide/clinic-gateway/repositories"
	"github.com/drdecide/clinic-gateway/repositories/postgres"
	"github.com/drdecide/clinic-gateway/services/audit"
	"go.uber.org/zap"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config  *config.Config
	DB      *postgres.DB // nil when no audit database is configured
	Logger  *zap.Logger
	Metrics *observability.Metrics

	// Token verification
	KeySet        *cognito.KeySetCache
	Authenticator *cognito.Authenticator

	// Audit trail
	AuditLogs repositories.AuditRepository // nil when no audit database is configured
	Audit     *audit.AuditService          // nil when auditing is disabled

	AuthMiddleware *middleware.AuthMiddleware

	cancelRefresh context.CancelFunc
}

// NewDependencies creates and wires up all application dependencies.
// It fails when the verification key set cannot be fetched at least once.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config:  cfg,
		Logger:  logger,
		Metrics: observability.NewMetrics(),
	}

	if err := deps.initKeySet(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize key set: %w", err)
	}

	if cfg.Database != nil {
		if err := deps.initDatabase(ctx, cfg); err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
	}

	if err := deps.initAudit(cfg); err != nil {
		deps.closeDatabase()
		return nil, fmt.Errorf("failed to initialize audit: %w", err)
	}

	var auditor middleware.DecisionAuditor
	if deps.Audit != nil {
		auditor = deps.Audit
	}
	deps.AuthMiddleware = middleware.NewAuthMiddleware(deps.Authenticator, auditor, logger)

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initKeySet performs the startup key set fetch and builds the authenticator
func (d *Dependencies) initKeySet(ctx context.Context, cfg *config.Config) error {
	verifier := cfg.Cognito.Verifier()

	fetcher := cognito.NewHTTPKeySetFetcher(verifier.KeySetURL(), verifier.HTTPTimeout, d.Logger)
	d.KeySet = cognito.NewKeySetCache(fetcher, cognito.KeySetCacheConfig{
		UnknownKeyRefreshInterval: verifier.UnknownKeyRefreshInterval,
		MaxUnknownKeyRefreshes:    verifier.MaxUnknownKeyRefreshes,
		BackgroundRefresh:         verifier.BackgroundRefresh,
		FetchTimeout:              verifier.HTTPTimeout,
	}, d.Logger, d.Metrics)

	if err := d.KeySet.Init(ctx); err != nil {
		return err
	}

	validator := cognito.NewClaimsValidator(cognito.ClaimsConfig{
		ClientID:  verifier.ClientID,
		RoleClaim: verifier.RoleClaim,
		ClockSkew: verifier.ClockSkew,
	})
	d.Authenticator = cognito.NewAuthenticator(d.KeySet, validator, d.Logger, d.Metrics)

	d.Logger.Info("token verification initialized",
		zap.String("jwks_url", fetcher.URL()),
		zap.Int("key_count", d.KeySet.Stats().KeyCount))
	return nil
}

// initDatabase opens the audit database and creates its schema
func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.Config) error {
	db, err := postgres.NewDB(ctx, *cfg.Database, d.Logger)
	if err != nil {
		return err
	}

	if err := db.InitSchema(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to initialize audit schema: %w", err)
	}

	d.DB = db
	d.AuditLogs = postgres.NewAuditRepository(db, d.Logger)
	return nil
}

// initAudit starts the audit workers, writing to the database when one is
// configured and to the log otherwise
func (d *Dependencies) initAudit(cfg *config.Config) error {
	if !cfg.Audit.Enabled {
		d.Logger.Info("audit trail disabled")
		return nil
	}

	var writer audit.Writer = audit.NewLogWriter(d.Logger)
	if d.AuditLogs != nil {
		writer = d.AuditLogs
	}

	service := audit.NewAuditService(writer, d.Logger, audit.Config{
		BufferSize:  cfg.Audit.BufferSize,
		WorkerCount: cfg.Audit.Workers,
	}, d.Metrics)
	if err := service.Start(); err != nil {
		return err
	}

	d.Audit = service
	return nil
}

// Start launches background work that lives until Close
func (d *Dependencies) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	d.cancelRefresh = cancel
	go d.KeySet.Run(ctx)
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.cancelRefresh != nil {
		d.cancelRefresh()
	}

	// Drain audit events before the database goes away
	if d.Audit != nil {
		timeout := 5 * time.Second
		if deadline, ok := ctx.Deadline(); ok {
			timeout = time.Until(deadline)
		}
		if err := d.Audit.Stop(timeout); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop audit service: %w", err))
		}
	}

	if err := d.closeDatabase(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close database: %w", err))
	}

	// Sync logger
	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}

	return nil
}

func (d *Dependencies) closeDatabase() error {
	if d.DB == nil {
		return nil
	}
	err := d.DB.Close()
	d.DB = nil
	return err
}
