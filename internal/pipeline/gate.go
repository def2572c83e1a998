package pipeline

import (
	"context"
	"log/slog"
	"time"

	"relaybot/internal/domain"
	"relaybot/internal/metrics"

	"github.com/google/uuid"
)

// Gate decides whether automated replies are currently permitted for a
// conversation. The bot-active flag is read live from the store on every
// call: a human operator can disable the bot at any moment and the change
// must take effect on the very next turn.
type Gate struct {
	store      domain.ConversationStore
	businessID string
	logger     *slog.Logger
}

func NewGate(store domain.ConversationStore, businessID string, logger *slog.Logger) *Gate {
	return &Gate{store: store, businessID: businessID, logger: logger}
}

// Resolve looks up (or creates) the conversation for a sender and returns
// whether the bot may reply. Store failures fail open: dropping a customer
// message silently is worse than replying while the operator wanted the
// bot off, but the degraded decision is logged and counted.
func (g *Gate) Resolve(ctx context.Context, phone string) (*domain.Conversation, bool) {
	conv, err := g.store.GetByPhone(ctx, phone, g.businessID)
	if err != nil {
		g.logger.Warn("gate degraded: conversation lookup failed, treating bot as active",
			"phone", phone, "err", err)
		metrics.GateDegradedTotal.Inc()
		return nil, true
	}

	if conv == nil {
		fresh := domain.Conversation{
			ID:         uuid.NewString(),
			Phone:      phone,
			BusinessID: g.businessID,
			BotActive:  true,
			CreatedAt:  time.Now(),
		}
		if err := g.store.Create(ctx, fresh); err != nil {
			g.logger.Warn("gate degraded: conversation create failed, treating bot as active",
				"phone", phone, "err", err)
			metrics.GateDegradedTotal.Inc()
			return nil, true
		}
		g.logger.Info("conversation created", "conversation_id", fresh.ID, "phone", phone)
		return &fresh, true
	}

	return conv, conv.BotActive
}
