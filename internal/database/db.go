package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/vaidashi/storefront-sync/internal/config"
	"github.com/vaidashi/storefront-sync/pkg/logger"
)

// Database represents a database connection
type Database struct {
	DB     *sqlx.DB
	logger logger.Logger
}

// New creates a new database connection
func New(cfg *config.Config, logger logger.Logger) (*Database, error) {
	db, err := sqlx.Connect("postgres", cfg.GetDBConnString())

	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	logger.Info("Connected to database", "host", cfg.DB.Host, "database", cfg.DB.Name)

	return Wrap(db, logger), nil
}

// Wrap adopts an existing connection, used with sqlmock in tests
func Wrap(db *sqlx.DB, logger logger.Logger) *Database {
	return &Database{
		DB:     db,
		logger: logger,
	}
}

// Ping checks the database connection
func (d *Database) Ping(ctx context.Context) error {
	return d.DB.PingContext(ctx)
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.DB.Close()
}

// BeginTx starts a transaction
func (d *Database) BeginTx(ctx context.Context) (*sqlx.Tx, error) {
	return d.DB.BeginTxx(ctx, nil)
}

// WithTx runs fn inside a transaction, committing on success and rolling back on error
func (d *Database) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := d.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			d.logger.Error("Failed to roll back transaction", "error", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Schema is the DDL applied by RunMigrations
const Schema = `
	CREATE TABLE IF NOT EXISTS orders (
		id VARCHAR(64) PRIMARY KEY,
		user_email VARCHAR(255) NOT NULL,
		customer VARCHAR(255) NOT NULL,
		items JSONB NOT NULL DEFAULT '[]',
		subtotal NUMERIC(12, 2) NOT NULL,
		tax NUMERIC(12, 2) NOT NULL,
		total NUMERIC(12, 2) NOT NULL,
		shipping JSONB,
		address JSONB NOT NULL DEFAULT '{}',
		payment JSONB NOT NULL DEFAULT '{}',
		status VARCHAR(20) NOT NULL,
		date VARCHAR(20) NOT NULL,
		version BIGINT NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_orders_user_email ON orders(user_email);
	CREATE INDEX IF NOT EXISTS idx_orders_created_at ON orders(created_at);

	CREATE TABLE IF NOT EXISTS notifications (
		id VARCHAR(64) PRIMARY KEY,
		user_email VARCHAR(255) NOT NULL,
		type VARCHAR(32) NOT NULL,
		message TEXT NOT NULL,
		order_id VARCHAR(64) NOT NULL DEFAULT '',
		product_id VARCHAR(64) NOT NULL DEFAULT '',
		read BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_notifications_user_email ON notifications(user_email);

	-- One counter per shared collection, bumped in the writing transaction
	CREATE TABLE IF NOT EXISTS collection_revisions (
		name VARCHAR(64) PRIMARY KEY,
		revision BIGINT NOT NULL DEFAULT 0
	);

	INSERT INTO collection_revisions (name, revision) VALUES ('order_updates', 0), ('notifications_updated', 0)
	ON CONFLICT (name) DO NOTHING;
	`

// RunMigrations runs database migrations
func (d *Database) RunMigrations() error {
	_, err := d.DB.Exec(Schema)

	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	d.logger.Info("Database migrations completed successfully")
	return nil
}
