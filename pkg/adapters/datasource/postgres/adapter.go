package postgres

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-tables/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-tables/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-tables/pkg/config"
	"github.com/ekaya-inc/ekaya-tables/pkg/database"
	"github.com/ekaya-inc/ekaya-tables/pkg/logging"
	"github.com/ekaya-inc/ekaya-tables/pkg/retry"
)

// Adapter stores user tables and the catalog in a PostgreSQL database.
type Adapter struct {
	datasource.GuardedSession
	typeMapper

	config *Config
	logger *zap.Logger

	mu      sync.RWMutex
	pool    *pgxpool.Pool
	slot    datasource.TxSlot
	current pgx.Tx
}

// buildConnectionString builds a PostgreSQL URL with proper escaping.
// User-provided fields must be URL-escaped so special characters in passwords
// (e.g., @, /, #, ?) do not break URL parsing. Inside Docker, localhost is
// resolved to the host machine.
func buildConnectionString(cfg *Config) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = DefaultSSLMode()
	}

	return fmt.Sprintf(
		"postgresql://%s:%s@%s:%d/%s?sslmode=%s&pool_max_conns=%d",
		url.QueryEscape(cfg.User),
		url.QueryEscape(cfg.Password),
		config.ResolveHostForDocker(cfg.Host),
		cfg.Port,
		url.QueryEscape(cfg.Database),
		sslMode,
		cfg.MaxConns,
	)
}

// NewAdapter creates an unconnected PostgreSQL adapter.
func NewAdapter(cfg *Config, logger *zap.Logger) *Adapter {
	a := &Adapter{
		config: cfg,
		logger: logger.Named("postgres"),
	}
	a.GuardedSession = datasource.GuardedSession{Resolve: a.autocommit}
	return a
}

var _ datasource.StorageAdapter = (*Adapter)(nil)

func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.pool != nil {
		return nil
	}

	connStr := buildConnectionString(a.config)
	retryCfg := retry.ForConnect(a.config.ConnectRetries, a.logger, "postgres")

	pool, err := retry.DoWithResult(ctx, retryCfg, func() (*pgxpool.Pool, error) {
		pool, err := pgxpool.New(ctx, connStr)
		if err != nil {
			return nil, err
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return pool, nil
	})
	if err != nil {
		return fmt.Errorf("%w: failed to connect to postgres at %s: %s",
			apperrors.ErrNotConnected,
			logging.SanitizeConnectionString(connStr),
			logging.SanitizeError(err))
	}

	if err := a.migrate(pool); err != nil {
		pool.Close()
		return err
	}

	a.pool = pool
	a.logger.Info("Connected to PostgreSQL",
		zap.String("host", a.config.Host),
		zap.Int("port", a.config.Port),
		zap.String("database", a.config.Database))
	return nil
}

// migrate runs the catalog migrations on a database/sql view of the pool.
// golang-migrate closes that handle; the pool itself stays open.
func (a *Adapter) migrate(pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	driver, err := migratepgx.WithInstance(db, &migratepgx.Config{MigrationsTable: migrationsTable})
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to create migration driver: %w", err)
	}
	return database.RunMigrations(driver, "postgres", migrationFiles, "migrations", a.logger)
}

func (a *Adapter) Disconnect() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.pool == nil {
		return nil
	}
	if a.current != nil {
		id := a.slot.Reset()
		a.logger.Warn("Rolling back open transaction on disconnect", zap.String("tx", id))
		if err := a.current.Rollback(context.Background()); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			a.logger.Error("Failed to roll back transaction", zap.Error(err))
		}
		a.current = nil
	}

	a.pool.Close()
	a.pool = nil
	a.logger.Info("Disconnected from PostgreSQL")
	return nil
}

func (a *Adapter) Ping(ctx context.Context) error {
	a.mu.RLock()
	pool := a.pool
	a.mu.RUnlock()

	if pool == nil {
		return datasource.NotConnected("ping")
	}
	if err := pool.Ping(ctx); err != nil {
		return apperrors.Storage("ping", err)
	}
	return nil
}

func (a *Adapter) Info() datasource.EngineInfo {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return datasource.EngineInfo{
		Type:            "postgres",
		DisplayName:     "PostgreSQL",
		Driver:          "pgx",
		Connected:       a.pool != nil,
		TransactionOpen: a.slot.Busy(),
	}
}

func (a *Adapter) BeginTransaction(ctx context.Context) (datasource.Transaction, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.pool == nil {
		return nil, datasource.NotConnected("begin transaction")
	}
	id, err := a.slot.Acquire()
	if err != nil {
		return nil, err
	}

	tx, err := a.pool.Begin(ctx)
	if err != nil {
		a.slot.Reset()
		return nil, apperrors.Storage("begin transaction", err)
	}
	a.current = tx

	a.logger.Debug("Transaction started", zap.String("tx", id))
	return datasource.NewBoundTransaction(id, &a.slot, &session{tx: tx, mapper: a.typeMapper, logger: a.logger}), nil
}

func (a *Adapter) Commit(ctx context.Context, tx datasource.Transaction) error {
	return a.finish(ctx, tx, "commit", pgx.Tx.Commit)
}

func (a *Adapter) Rollback(ctx context.Context, tx datasource.Transaction) error {
	return a.finish(context.WithoutCancel(ctx), tx, "rollback", pgx.Tx.Rollback)
}

// finish releases the slot before calling the driver so a failed commit
// never leaves the adapter wedged.
func (a *Adapter) finish(ctx context.Context, tx datasource.Transaction, op string, fn func(pgx.Tx, context.Context) error) error {
	if tx == nil {
		return fmt.Errorf("%w: %s called without a transaction", apperrors.ErrTransactionState, op)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.slot.Release(tx.ID()); err != nil {
		return err
	}
	native := a.current
	a.current = nil

	if err := fn(native, ctx); err != nil {
		if op == "rollback" && errors.Is(err, pgx.ErrTxClosed) {
			return nil
		}
		return apperrors.Storage(op, err)
	}

	a.logger.Debug("Transaction finished", zap.String("tx", tx.ID()), zap.String("op", op))
	return nil
}

// autocommit resolves the session used by adapter-level calls.
func (a *Adapter) autocommit(op string) (datasource.Session, error) {
	a.mu.RLock()
	pool := a.pool
	a.mu.RUnlock()

	if pool == nil {
		return nil, datasource.NotConnected(op)
	}
	if a.slot.Busy() {
		return nil, datasource.ErrBusy(op)
	}
	return &session{pool: pool, mapper: a.typeMapper, logger: a.logger}, nil
}
