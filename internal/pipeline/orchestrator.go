package pipeline

import (
	"context"
	"log/slog"
	"time"

	"relaybot/internal/domain"
	"relaybot/internal/metrics"
)

// Canned replies. A user-visible answer is prioritized over a perfect one,
// so responder failures degrade to fallbackReply instead of erroring out.
const (
	fallbackReply = "I'm having trouble processing your message right now. Please try again in a few minutes."
	mediaReply    = "I can only read text messages for now. Could you type out your question?"
)

// Orchestrator obtains a reply for a merged inbound turn.
type Orchestrator struct {
	responder domain.Responder
	logger    *slog.Logger
}

func NewOrchestrator(responder domain.Responder, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{responder: responder, logger: logger}
}

// Respond returns the reply text for a turn. Media turns short-circuit to a
// fixed capability reply without touching the responder at all.
func (o *Orchestrator) Respond(ctx context.Context, conversationID string, turn Turn) string {
	if turn.Kind == domain.KindMedia {
		o.logger.Info("media turn, responder skipped",
			"conversation_id", conversationID, "media", turn.Msgs[0].MediaType)
		return mediaReply
	}

	start := time.Now()
	reply, err := o.responder.Generate(ctx, conversationID, turn.Text)
	metrics.ResponderLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		o.logger.Error("responder failed, using fallback reply",
			"conversation_id", conversationID, "err", err)
		metrics.ResponderFallbacks.Inc()
		return fallbackReply
	}
	return reply
}
