package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/taskloop/marketplace-be/internal/domain"
)

// SendGridConfig holds the delivery provider configuration.
type SendGridConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
}

// SendGridSender delivers notifications over SendGrid.
type SendGridSender struct {
	config SendGridConfig
	client *sendgrid.Client
	logger *slog.Logger
}

// NewSendGridSender creates a SendGrid-backed sender.
func NewSendGridSender(config SendGridConfig, logger *slog.Logger) *SendGridSender {
	return &SendGridSender{
		config: config,
		client: sendgrid.NewSendClient(config.APIKey),
		logger: logger,
	}
}

var _ Sender = (*SendGridSender)(nil)

func (s *SendGridSender) Send(ctx context.Context, n Notification) error {
	subject, body, err := Render(n)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	from := mail.NewEmail(s.config.FromName, s.config.FromEmail)
	to := mail.NewEmail("", n.RecipientEmail)
	message := mail.NewSingleEmail(from, subject, to, body, body)

	response, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		return domain.NewDependencyError("sendgrid", err)
	}

	if response.StatusCode != http.StatusAccepted {
		err := fmt.Errorf("sendgrid returned status %d", response.StatusCode)
		if response.StatusCode >= 500 || response.StatusCode == http.StatusTooManyRequests {
			return domain.NewDependencyError("sendgrid", err)
		}
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	s.logger.Debug("Notification delivered",
		slog.String("type", string(n.Type)),
		slog.String("recipient", n.RecipientEmail),
	)

	return nil
}
