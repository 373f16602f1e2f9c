package service

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vaidashi/storefront-sync/internal/models"
	"github.com/vaidashi/storefront-sync/internal/repository"
	"github.com/vaidashi/storefront-sync/internal/telemetry"
	apperrors "github.com/vaidashi/storefront-sync/pkg/errors"
)

var tracer = telemetry.Tracer("github.com/vaidashi/storefront-sync/internal/service")

// ChangePublisher is told about every successful mutation so subscribers can refresh
type ChangePublisher interface {
	OrdersChanged(ctx context.Context, kind models.ChangeKind, entityID string)
	NotificationsChanged(ctx context.Context, kind models.ChangeKind, entityID string)
}

// NopPublisher ignores changes
type NopPublisher struct{}

func (NopPublisher) OrdersChanged(context.Context, models.ChangeKind, string)        {}
func (NopPublisher) NotificationsChanged(context.Context, models.ChangeKind, string) {}

// storeError maps repository failures onto application errors
func storeError(err error, entity, id string) error {
	var appErr *apperrors.AppError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &appErr):
		return err
	case errors.Is(err, repository.ErrNotFound):
		return apperrors.NewNotFoundError(fmt.Sprintf("%s %s not found", entity, id)).WithContext("id", id)
	case errors.Is(err, repository.ErrDuplicate):
		return apperrors.NewConflictError(fmt.Sprintf("%s %s already exists", entity, id)).WithContext("id", id)
	case errors.Is(err, repository.ErrVersionConflict):
		return apperrors.NewConflictError(fmt.Sprintf("%s %s was modified concurrently", entity, id)).WithContext("id", id)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return apperrors.NewTimeoutError(fmt.Sprintf("%s %s: %v", entity, id, err))
	default:
		return apperrors.NewPersistenceError(fmt.Sprintf("%s %s: changes not saved", entity, id), err).WithContext("id", id)
	}
}

func finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
