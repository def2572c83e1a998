package notify

import (
	"context"
	"fmt"
	"log/slog"

	"relaybot/internal/domain"

	"github.com/slack-go/slack"
)

// Slack posts operator alerts to a channel.
type Slack struct {
	client  *slack.Client
	channel string
	logger  *slog.Logger
}

func NewSlack(botToken, channel string, logger *slog.Logger) *Slack {
	return &Slack{
		client:  slack.New(botToken),
		channel: channel,
		logger:  logger,
	}
}

func (s *Slack) Name() string { return "slack" }

func (s *Slack) Notify(ctx context.Context, alert domain.Alert) error {
	_, _, err := s.client.PostMessageContext(
		ctx,
		s.channel,
		slack.MsgOptionText(formatAlert(alert), false),
	)
	if err != nil {
		return fmt.Errorf("slack post: %w", err)
	}
	return nil
}
