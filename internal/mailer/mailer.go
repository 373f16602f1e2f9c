// Package mailer sends e-mail copies of customer notifications.
package mailer

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/vaidashi/storefront-sync/internal/models"
	"github.com/vaidashi/storefront-sync/pkg/logger"
)

// Dispatcher delivers a notification outside the application
type Dispatcher interface {
	Dispatch(ctx context.Context, n *models.Notification) error
}

// Nop drops every notification
type Nop struct{}

func (Nop) Dispatch(context.Context, *models.Notification) error { return nil }

type sender interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// SendGrid e-mails delivery notifications through the SendGrid v3 API
type SendGrid struct {
	client sender
	from   *mail.Email
	logger logger.Logger
}

// NewSendGrid creates a dispatcher using apiKey; from is the sender address
func NewSendGrid(apiKey, from string, logger logger.Logger) *SendGrid {
	return newSendGrid(sendgrid.NewSendClient(apiKey), from, logger)
}

func newSendGrid(client sender, from string, logger logger.Logger) *SendGrid {
	return &SendGrid{
		client: client,
		from:   mail.NewEmail("Storefront", from),
		logger: logger,
	}
}

// Dispatch e-mails delivery notifications to customers with an address. Other
// notification types and pseudo-recipients are skipped.
func (s *SendGrid) Dispatch(ctx context.Context, n *models.Notification) error {
	if n.Type != models.NotificationTypeDelivery || !strings.Contains(n.UserEmail, "@") {
		return nil
	}

	to := mail.NewEmail("", n.UserEmail)
	subject := fmt.Sprintf("Order %s delivered", n.OrderID)
	message := mail.NewSingleEmail(s.from, subject, to, n.Message, "<p>"+html.EscapeString(n.Message)+"</p>")

	resp, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("sending delivery e-mail: %w", err)
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("sendgrid returned status %d: %s", resp.StatusCode, resp.Body)
	}

	s.logger.Debug("Delivery e-mail sent", "notificationID", n.ID, "orderID", n.OrderID)
	return nil
}
