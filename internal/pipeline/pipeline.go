package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"relaybot/internal/domain"
	"relaybot/internal/metrics"
)

const defaultConcurrency = 5

// Deliverer sends a reply to the external channel, applying its own retry
// and dedup policy.
type Deliverer interface {
	Send(ctx context.Context, to, text string) domain.DeliveryResult
}

// HandoffTrigger scans an outgoing bot reply and alerts a human operator
// when it indicates a need for follow-up. Implementations never block.
type HandoffTrigger interface {
	CheckAndNotify(conversationID, reply, phone string)
}

// Pipeline wires dedup → grouper → gate → orchestrator → delivery →
// notification. Flushes for the same conversation are serialized by a
// per-key mutex; distinct conversations proceed concurrently up to the
// configured bound.
type Pipeline struct {
	bus       domain.MessageBus
	dedup     *Dedup
	grouper   *Grouper
	gate      *Gate
	orch      *Orchestrator
	delivery  Deliverer
	trigger   HandoffTrigger
	store     domain.ConversationStore
	logger    *slog.Logger
	sem       chan struct{}
	convLocks keyedMutex

	// runCtx is set by Run before the first message is ingested, so no
	// flush can observe it nil or mid-change.
	runCtx context.Context
	wg     sync.WaitGroup
}

type Config struct {
	Bus         domain.MessageBus
	Store       domain.ConversationStore
	Responder   domain.Responder
	Delivery    Deliverer
	Trigger     HandoffTrigger
	BusinessID  string
	DedupTTL    time.Duration
	GroupWait   time.Duration
	GroupMax    time.Duration
	Concurrency int
	Logger      *slog.Logger
}

func New(cfg Config) *Pipeline {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}

	p := &Pipeline{
		bus:      cfg.Bus,
		dedup:    NewDedup(cfg.DedupTTL),
		gate:     NewGate(cfg.Store, cfg.BusinessID, cfg.Logger),
		orch:     NewOrchestrator(cfg.Responder, cfg.Logger),
		delivery: cfg.Delivery,
		trigger:  cfg.Trigger,
		store:    cfg.Store,
		logger:   cfg.Logger,
		sem:      make(chan struct{}, cfg.Concurrency),
	}
	p.convLocks.locks = make(map[string]*sync.Mutex)
	p.grouper = NewGrouper(GrouperConfig{
		Wait:    cfg.GroupWait,
		MaxWait: cfg.GroupMax,
		Flush:   p.enqueueTurn,
		Logger:  cfg.Logger,
	})
	return p
}

// Run consumes inbound messages from the bus until the context is done or
// the bus closes. Flushed turns are processed on bounded goroutines.
func (p *Pipeline) Run(ctx context.Context) {
	p.logger.Info("pipeline started", "concurrency", cap(p.sem))
	p.runCtx = ctx

	inbound := p.bus.Subscribe()
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("pipeline stopping")
			p.grouper.Stop()
			p.wg.Wait()
			return
		case msg, ok := <-inbound:
			if !ok {
				p.logger.Info("inbound channel closed, pipeline stopping")
				p.grouper.Stop()
				p.wg.Wait()
				return
			}
			p.ingest(msg)
		}
	}
}

// ingest applies duplicate suppression and buffers the message for its
// conversation.
func (p *Pipeline) ingest(msg domain.Inbound) {
	if p.dedup.SeenOrMark(DedupKey(msg)) {
		p.logger.Info("duplicate suppressed",
			"external_id", msg.ExternalID, "from", msg.From)
		metrics.DuplicatesTotal.Inc()
		return
	}
	p.grouper.Add(msg)
}

// enqueueTurn runs a flushed turn on its own goroutine, bounded by the
// semaphore. It is the grouper's flush callback.
func (p *Pipeline) enqueueTurn(turn Turn) {
	ctx := p.runCtx
	if ctx == nil {
		ctx = context.Background()
	}
	p.wg.Add(1)
	p.sem <- struct{}{}
	go func() {
		defer p.wg.Done()
		defer func() { <-p.sem }()
		p.processTurn(ctx, turn)
	}()
}

// processTurn executes gate → respond → deliver → notify for one merged
// turn, holding the conversation's lock so two flushes for the same
// conversation can never interleave.
func (p *Pipeline) processTurn(ctx context.Context, turn Turn) {
	unlock := p.convLocks.lock(turn.Key)
	defer unlock()

	conv, active := p.gate.Resolve(ctx, turn.From)

	conversationID := ""
	if conv != nil {
		conversationID = conv.ID
		p.persist(ctx, domain.Message{
			ConversationID: conversationID,
			SenderType:     domain.SenderUser,
			Content:        turn.Text,
		})
		if err := p.store.TouchLastMessage(ctx, conversationID, time.Now()); err != nil {
			p.logger.Warn("touch last message failed", "conversation_id", conversationID, "err", err)
		}
	}

	if !active {
		p.logger.Info("bot disabled for conversation, turn skipped",
			"conversation_id", conversationID, "from", turn.From)
		metrics.GateBlockedTotal.Inc()
		return
	}

	reply := p.orch.Respond(ctx, conversationID, turn)

	result := p.delivery.Send(ctx, turn.From, reply)
	switch {
	case result.Success && result.Simulated:
		metrics.SendsSimulatedTotal.Inc()
	case result.Success:
		metrics.SendsTotal.Inc()
	default:
		metrics.SendsFailedTotal.Inc()
		p.logger.Error("delivery failed",
			"to", turn.From, "attempts", result.Attempts, "err", result.Err)
	}

	if conv != nil && result.Success {
		p.persist(ctx, domain.Message{
			ConversationID: conversationID,
			SenderType:     domain.SenderBot,
			Content:        reply,
		})
	}

	if result.Success {
		p.trigger.CheckAndNotify(conversationID, reply, turn.From)
	}
}

// persist writes a message row best-effort; a store failure must not stop
// the reply from going out.
func (p *Pipeline) persist(ctx context.Context, msg domain.Message) {
	if err := p.store.SaveMessage(ctx, msg); err != nil {
		p.logger.Warn("message persist failed",
			"conversation_id", msg.ConversationID, "sender", msg.SenderType, "err", err)
	}
}

// keyedMutex hands out one mutex per conversation key. Entries are kept for
// the process lifetime; the map is bounded by the number of distinct
// conversations seen.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(key string) (unlock func()) {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
