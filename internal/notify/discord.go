package notify

import (
	"context"
	"fmt"
	"log/slog"

	"relaybot/internal/domain"

	"github.com/bwmarrin/discordgo"
)

// Discord sends operator alerts to a channel via the REST API; no gateway
// connection is opened.
type Discord struct {
	session   *discordgo.Session
	channelID string
	logger    *slog.Logger
}

func NewDiscord(token, channelID string, logger *slog.Logger) (*Discord, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	return &Discord{session: session, channelID: channelID, logger: logger}, nil
}

func (d *Discord) Name() string { return "discord" }

func (d *Discord) Notify(ctx context.Context, alert domain.Alert) error {
	if _, err := d.session.ChannelMessageSend(d.channelID, formatAlert(alert)); err != nil {
		return fmt.Errorf("discord send: %w", err)
	}
	return nil
}
