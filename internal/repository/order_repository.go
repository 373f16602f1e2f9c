package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/vaidashi/storefront-sync/internal/database"
	"github.com/vaidashi/storefront-sync/internal/models"
	"github.com/vaidashi/storefront-sync/pkg/logger"
)

const orderColumns = `id, user_email, customer, items, subtotal, tax, total, shipping, address, payment,
		status, date, version, created_at, updated_at`

// PostgresOrderRepository handles database operations for orders
type PostgresOrderRepository struct {
	db     *database.Database
	logger logger.Logger
}

// NewPostgresOrderRepository creates a new PostgresOrderRepository
func NewPostgresOrderRepository(db *database.Database, logger logger.Logger) *PostgresOrderRepository {
	return &PostgresOrderRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new order and bumps the collection revision in one transaction
func (r *PostgresOrderRepository) Create(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	err := r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(
			ctx,
			query,
			order.ID,
			order.UserEmail,
			order.Customer,
			order.Items,
			order.Subtotal,
			order.Tax,
			order.Total,
			order.Shipping,
			order.Address,
			order.Payment,
			order.Status,
			order.Date,
			order.Version,
			order.CreatedAt,
			order.UpdatedAt,
		)
		if err != nil {
			return err
		}
		return bumpRevision(ctx, tx, models.TopicOrders)
	})

	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		r.logger.Error("Failed to create order", "error", err, "orderID", order.ID)
		return dbError(err)
	}

	return nil
}

// GetByID retrieves an order by its ID
func (r *PostgresOrderRepository) GetByID(ctx context.Context, id string) (*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	var order models.Order
	err := r.db.DB.GetContext(ctx, &order, query, id)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		r.logger.Error("Failed to get order by ID", "error", err, "orderID", id)
		return nil, dbError(err)
	}

	return &order, nil
}

// GetAll retrieves all orders in creation order
func (r *PostgresOrderRepository) GetAll(ctx context.Context) ([]*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders ORDER BY created_at ASC, id ASC`

	orders := make([]*models.Order, 0)
	err := r.db.DB.SelectContext(ctx, &orders, query)

	if err != nil {
		r.logger.Error("Failed to get all orders", "error", err)
		return nil, dbError(err)
	}

	return orders, nil
}

// GetByUserEmail retrieves the orders placed by one user
func (r *PostgresOrderRepository) GetByUserEmail(ctx context.Context, email string) ([]*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE user_email = $1 ORDER BY created_at ASC, id ASC`

	orders := make([]*models.Order, 0)
	err := r.db.DB.SelectContext(ctx, &orders, query, email)

	if err != nil {
		r.logger.Error("Failed to get orders by user", "error", err, "userEmail", email)
		return nil, dbError(err)
	}

	return orders, nil
}

// Update overwrites an order if its stored version matches expectedVersion
func (r *PostgresOrderRepository) Update(ctx context.Context, order *models.Order, expectedVersion int64) error {
	query := `
		UPDATE orders
		SET user_email = $1, customer = $2, items = $3, subtotal = $4, tax = $5, total = $6,
			shipping = $7, address = $8, payment = $9, status = $10, date = $11,
			updated_at = $12, version = version + 1
		WHERE id = $13 AND version = $14
	`

	err := r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		result, err := tx.ExecContext(
			ctx,
			query,
			order.UserEmail,
			order.Customer,
			order.Items,
			order.Subtotal,
			order.Tax,
			order.Total,
			order.Shipping,
			order.Address,
			order.Payment,
			order.Status,
			order.Date,
			order.UpdatedAt,
			order.ID,
			expectedVersion,
		)
		if err != nil {
			return err
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return err
		}

		if rowsAffected == 0 {
			var exists bool
			if err := tx.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM orders WHERE id = $1)`, order.ID); err != nil {
				return err
			}
			if !exists {
				return ErrNotFound
			}
			return ErrVersionConflict
		}

		return bumpRevision(ctx, tx, models.TopicOrders)
	})

	if err != nil {
		err = classifyTxError(err)
		if errors.Is(err, ErrDatabase) {
			r.logger.Error("Failed to update order", "error", err, "orderID", order.ID)
		}
		return err
	}

	order.Version = expectedVersion + 1
	return nil
}

// Delete deletes an order by its ID
func (r *PostgresOrderRepository) Delete(ctx context.Context, id string) error {
	err := r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		result, err := tx.ExecContext(ctx, `DELETE FROM orders WHERE id = $1`, id)
		if err != nil {
			return err
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if rowsAffected == 0 {
			return ErrNotFound
		}

		return bumpRevision(ctx, tx, models.TopicOrders)
	})

	if err != nil {
		err = classifyTxError(err)
		if errors.Is(err, ErrDatabase) {
			r.logger.Error("Failed to delete order", "error", err, "orderID", id)
		}
		return err
	}
	return nil
}

// Revision returns the orders collection revision
func (r *PostgresOrderRepository) Revision(ctx context.Context) (int64, error) {
	return readRevision(ctx, r.db, models.TopicOrders)
}

func bumpRevision(ctx context.Context, tx *sqlx.Tx, name string) error {
	_, err := tx.ExecContext(ctx, `UPDATE collection_revisions SET revision = revision + 1 WHERE name = $1`, name)
	return err
}

func readRevision(ctx context.Context, db *database.Database, name string) (int64, error) {
	var rev int64
	err := db.DB.GetContext(ctx, &rev, `SELECT revision FROM collection_revisions WHERE name = $1`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, dbError(err)
	}
	return rev, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
