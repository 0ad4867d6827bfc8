package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"

	migratesqlserver "github.com/golang-migrate/migrate/v4/database/sqlserver"
	_ "github.com/microsoft/go-mssqldb" // SQL Server driver
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-tables/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-tables/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-tables/pkg/config"
	"github.com/ekaya-inc/ekaya-tables/pkg/database"
	"github.com/ekaya-inc/ekaya-tables/pkg/logging"
	"github.com/ekaya-inc/ekaya-tables/pkg/retry"
)

const driverName = "sqlserver"

// Adapter stores user tables and the catalog in a SQL Server database.
type Adapter struct {
	datasource.GuardedSession
	typeMapper

	config *Config
	logger *zap.Logger

	mu      sync.RWMutex
	db      *sql.DB
	slot    datasource.TxSlot
	current *sql.Tx
}

// NewAdapter creates an unconnected SQL Server adapter.
func NewAdapter(cfg *Config, logger *zap.Logger) *Adapter {
	a := &Adapter{
		config: cfg,
		logger: logger.Named("mssql"),
	}
	a.GuardedSession = datasource.GuardedSession{Resolve: a.autocommit}
	return a
}

var _ datasource.StorageAdapter = (*Adapter)(nil)

// buildConnectionString builds a sqlserver:// URL for SQL authentication.
func buildConnectionString(cfg *Config) string {
	query := url.Values{}
	query.Add("database", cfg.Database)
	query.Add("encrypt", cfg.Encrypt)
	if cfg.TrustServerCertificate {
		query.Add("TrustServerCertificate", "true")
	}
	if cfg.ConnectionTimeout > 0 {
		query.Add("connection timeout", strconv.Itoa(cfg.ConnectionTimeout))
	}

	u := &url.URL{
		Scheme:   "sqlserver",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     fmt.Sprintf("%s:%d", config.ResolveHostForDocker(cfg.Host), cfg.Port),
		RawQuery: query.Encode(),
	}
	return u.String()
}

func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.db != nil {
		return nil
	}

	connStr := buildConnectionString(a.config)
	retryCfg := retry.ForConnect(a.config.ConnectRetries, a.logger, "mssql")

	db, err := retry.DoWithResult(ctx, retryCfg, func() (*sql.DB, error) {
		db, err := sql.Open(driverName, connStr)
		if err != nil {
			return nil, err
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		return db, nil
	})
	if err != nil {
		return fmt.Errorf("%w: failed to connect to sql server at %s: %s",
			apperrors.ErrNotConnected,
			logging.SanitizeConnectionString(connStr),
			logging.SanitizeError(err))
	}

	if err := a.migrate(connStr); err != nil {
		_ = db.Close()
		return err
	}

	a.db = db
	a.logger.Info("Connected to SQL Server",
		zap.String("host", a.config.Host),
		zap.Int("port", a.config.Port),
		zap.String("database", a.config.Database))
	return nil
}

// migrate applies the catalog migrations through a dedicated handle;
// golang-migrate closes the handle it is given.
func (a *Adapter) migrate(connStr string) error {
	mdb, err := sql.Open(driverName, connStr)
	if err != nil {
		return fmt.Errorf("failed to open migration handle: %w", err)
	}
	driver, err := migratesqlserver.WithInstance(mdb, &migratesqlserver.Config{MigrationsTable: migrationsTable})
	if err != nil {
		_ = mdb.Close()
		return fmt.Errorf("failed to create migration driver: %w", err)
	}
	return database.RunMigrations(driver, "sqlserver", migrationFiles, "migrations", a.logger)
}

func (a *Adapter) Disconnect() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.db == nil {
		return nil
	}
	if a.current != nil {
		id := a.slot.Reset()
		a.logger.Warn("Rolling back open transaction on disconnect", zap.String("tx", id))
		if err := a.current.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			a.logger.Error("Failed to roll back transaction", zap.Error(err))
		}
		a.current = nil
	}

	err := a.db.Close()
	a.db = nil
	if err != nil {
		return apperrors.Storage("disconnect", err)
	}
	a.logger.Info("Disconnected from SQL Server")
	return nil
}

func (a *Adapter) Ping(ctx context.Context) error {
	a.mu.RLock()
	db := a.db
	a.mu.RUnlock()

	if db == nil {
		return datasource.NotConnected("ping")
	}
	if err := db.PingContext(ctx); err != nil {
		return apperrors.Storage("ping", err)
	}
	return nil
}

func (a *Adapter) Info() datasource.EngineInfo {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return datasource.EngineInfo{
		Type:            "mssql",
		DisplayName:     "SQL Server",
		Driver:          "go-mssqldb",
		Connected:       a.db != nil,
		TransactionOpen: a.slot.Busy(),
	}
}

func (a *Adapter) BeginTransaction(ctx context.Context) (datasource.Transaction, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.db == nil {
		return nil, datasource.NotConnected("begin transaction")
	}
	id, err := a.slot.Acquire()
	if err != nil {
		return nil, err
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		a.slot.Reset()
		return nil, apperrors.Storage("begin transaction", err)
	}
	a.current = tx

	a.logger.Debug("Transaction started", zap.String("tx", id))
	return datasource.NewBoundTransaction(id, &a.slot, &session{tx: tx, mapper: a.typeMapper, logger: a.logger}), nil
}

func (a *Adapter) Commit(ctx context.Context, tx datasource.Transaction) error {
	return a.finish(tx, "commit", (*sql.Tx).Commit)
}

func (a *Adapter) Rollback(ctx context.Context, tx datasource.Transaction) error {
	return a.finish(tx, "rollback", (*sql.Tx).Rollback)
}

// finish releases the slot before calling the driver so a failed commit
// never leaves the adapter wedged.
func (a *Adapter) finish(tx datasource.Transaction, op string, fn func(*sql.Tx) error) error {
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

	if err := fn(native); err != nil {
		if op == "rollback" && errors.Is(err, sql.ErrTxDone) {
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
	db := a.db
	a.mu.RUnlock()

	if db == nil {
		return nil, datasource.NotConnected(op)
	}
	if a.slot.Busy() {
		return nil, datasource.ErrBusy(op)
	}
	return &session{db: db, mapper: a.typeMapper, logger: a.logger}, nil
}
