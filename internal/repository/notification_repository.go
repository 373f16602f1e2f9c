package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/vaidashi/storefront-sync/internal/database"
	"github.com/vaidashi/storefront-sync/internal/models"
	"github.com/vaidashi/storefront-sync/pkg/logger"
)

const notificationColumns = `id, user_email, type, message, order_id, product_id, read, created_at`

// PostgresNotificationRepository handles database operations for notifications
type PostgresNotificationRepository struct {
	db     *database.Database
	logger logger.Logger
}

// NewPostgresNotificationRepository creates a new PostgresNotificationRepository
func NewPostgresNotificationRepository(db *database.Database, logger logger.Logger) *PostgresNotificationRepository {
	return &PostgresNotificationRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a notification
func (r *PostgresNotificationRepository) Create(ctx context.Context, n *models.Notification) error {
	query := `
		INSERT INTO notifications (` + notificationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	err := r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, query,
			n.ID, n.UserEmail, n.Type, n.Message, n.OrderID, n.ProductID, n.Read, n.CreatedAt,
		); err != nil {
			return err
		}
		return bumpRevision(ctx, tx, models.TopicNotifications)
	})

	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		r.logger.Error("Failed to create notification", "error", err, "notificationID", n.ID)
		return dbError(err)
	}
	return nil
}

// GetByID retrieves a notification by its ID
func (r *PostgresNotificationRepository) GetByID(ctx context.Context, id string) (*models.Notification, error) {
	var n models.Notification
	err := r.db.DB.GetContext(ctx, &n, `SELECT `+notificationColumns+` FROM notifications WHERE id = $1`, id)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, dbError(err)
	}
	return &n, nil
}

// GetAll retrieves every notification in creation order
func (r *PostgresNotificationRepository) GetAll(ctx context.Context) ([]*models.Notification, error) {
	list := make([]*models.Notification, 0)
	err := r.db.DB.SelectContext(ctx, &list, `SELECT `+notificationColumns+` FROM notifications ORDER BY created_at ASC, id ASC`)

	if err != nil {
		r.logger.Error("Failed to get notifications", "error", err)
		return nil, dbError(err)
	}
	return list, nil
}

// GetByUserEmail retrieves one user's notifications, newest first
func (r *PostgresNotificationRepository) GetByUserEmail(ctx context.Context, email string) ([]*models.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE user_email = $1 ORDER BY created_at DESC, id DESC`

	list := make([]*models.Notification, 0)
	if err := r.db.DB.SelectContext(ctx, &list, query, email); err != nil {
		r.logger.Error("Failed to get notifications by user", "error", err, "userEmail", email)
		return nil, dbError(err)
	}
	return list, nil
}

// MarkRead sets read=true once; repeated calls report no change
func (r *PostgresNotificationRepository) MarkRead(ctx context.Context, id string) (bool, error) {
	changed := false

	err := r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		result, err := tx.ExecContext(ctx, `UPDATE notifications SET read = TRUE WHERE id = $1 AND read = FALSE`, id)
		if err != nil {
			return err
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return err
		}

		if rowsAffected == 0 {
			var exists bool
			if err := tx.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM notifications WHERE id = $1)`, id); err != nil {
				return err
			}
			if !exists {
				return ErrNotFound
			}
			return nil
		}

		changed = true
		return bumpRevision(ctx, tx, models.TopicNotifications)
	})

	if err != nil {
		err = classifyTxError(err)
		if errors.Is(err, ErrDatabase) {
			r.logger.Error("Failed to mark notification read", "error", err, "notificationID", id)
		}
		return false, err
	}
	return changed, nil
}

// Revision returns the notifications collection revision
func (r *PostgresNotificationRepository) Revision(ctx context.Context) (int64, error) {
	return readRevision(ctx, r.db, models.TopicNotifications)
}
