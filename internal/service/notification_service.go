package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/vaidashi/storefront-sync/internal/mailer"
	"github.com/vaidashi/storefront-sync/internal/models"
	"github.com/vaidashi/storefront-sync/internal/repository"
	apperrors "github.com/vaidashi/storefront-sync/pkg/errors"
	"github.com/vaidashi/storefront-sync/pkg/logger"
)

// NotificationService owns the notification log
type NotificationService struct {
	repo       repository.NotificationRepository
	publisher  ChangePublisher
	dispatcher mailer.Dispatcher
	logger     logger.Logger
	now        func() time.Time
}

// NewNotificationService creates a new NotificationService. publisher and dispatcher may be nil.
func NewNotificationService(
	repo repository.NotificationRepository,
	publisher ChangePublisher,
	dispatcher mailer.Dispatcher,
	logger logger.Logger,
) *NotificationService {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	if dispatcher == nil {
		dispatcher = mailer.Nop{}
	}

	return &NotificationService{
		repo:       repo,
		publisher:  publisher,
		dispatcher: dispatcher,
		logger:     logger,
		now:        models.GetCurrentTime,
	}
}

// Add stores a notification and signals subscribers. A storage failure is returned as a
// persistence error and nothing is published.
func (s *NotificationService) Add(ctx context.Context, draft models.NotificationDraft) (n *models.Notification, err error) {
	ctx, span := tracer.Start(ctx, "NotificationService.Add")
	defer func() { finishSpan(span, err) }()

	if strings.TrimSpace(draft.UserEmail) == "" {
		return nil, apperrors.NewValidationError("notification recipient is required")
	}

	n = models.NewNotification(draft, s.now())
	span.SetAttributes(attribute.String("notification.id", n.ID), attribute.String("notification.type", n.Type))

	if err := s.repo.Create(ctx, n); err != nil {
		s.logger.Error("Failed to store notification", "error", err, "userEmail", n.UserEmail, "type", n.Type)
		return nil, storeError(err, "notification", n.ID)
	}

	s.publisher.NotificationsChanged(ctx, models.ChangeNotificationAdded, n.ID)

	if err := s.dispatcher.Dispatch(ctx, n); err != nil {
		s.logger.Warn("Failed to dispatch notification", "error", err, "notificationID", n.ID)
	}

	s.logger.Info("Notification added", "notificationID", n.ID, "userEmail", n.UserEmail, "type", n.Type)
	return n, nil
}

// MarkRead marks a notification read. Marking it again is a successful no-op.
func (s *NotificationService) MarkRead(ctx context.Context, id string) (n *models.Notification, err error) {
	ctx, span := tracer.Start(ctx, "NotificationService.MarkRead")
	defer func() { finishSpan(span, err) }()
	span.SetAttributes(attribute.String("notification.id", id))

	changed, err := s.repo.MarkRead(ctx, id)
	if err != nil {
		return nil, storeError(err, "notification", id)
	}

	if changed {
		s.publisher.NotificationsChanged(ctx, models.ChangeNotificationRead, id)
	}

	n, err = s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, storeError(err, "notification", id)
	}
	return n, nil
}

// ListForUser returns the recipient's notifications, newest first
func (s *NotificationService) ListForUser(ctx context.Context, email string) ([]*models.Notification, error) {
	list, err := s.repo.GetByUserEmail(ctx, email)
	if err != nil {
		return nil, storeError(err, "notifications for", email)
	}
	return list, nil
}

// ListAll returns every notification in creation order
func (s *NotificationService) ListAll(ctx context.Context) ([]*models.Notification, error) {
	list, err := s.repo.GetAll(ctx)
	if err != nil {
		return nil, storeError(err, "notifications", "all")
	}
	return list, nil
}

// NotifyNewCustomer tells administrators about a first-time customer
func (s *NotificationService) NotifyNewCustomer(ctx context.Context, email, name string) (*models.Notification, error) {
	display := name
	if display == "" {
		display = email
	}

	return s.Add(ctx, models.NotificationDraft{
		UserEmail: models.AdminRecipient,
		Type:      models.NotificationTypeNewCustomer,
		Message:   fmt.Sprintf("New customer registered: %s", display),
	})
}
