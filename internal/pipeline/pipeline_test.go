package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"relaybot/internal/bus"
	"relaybot/internal/domain"
)

// fakeStore is an in-memory ConversationStore whose botActive flag can be
// flipped mid-test.
type fakeStore struct {
	mu        sync.Mutex
	convs     map[string]*domain.Conversation
	messages  []domain.Message
	failReads bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{convs: make(map[string]*domain.Conversation)}
}

func (s *fakeStore) GetByPhone(ctx context.Context, phone, businessID string) (*domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failReads {
		return nil, context.DeadlineExceeded
	}
	conv, ok := s.convs[phone]
	if !ok {
		return nil, nil
	}
	cp := *conv
	return &cp, nil
}

func (s *fakeStore) Create(ctx context.Context, conv domain.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := conv
	s.convs[conv.Phone] = &cp
	return nil
}

func (s *fakeStore) SetBotActive(ctx context.Context, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conv := range s.convs {
		if conv.ID == id {
			conv.BotActive = active
		}
	}
	return nil
}

func (s *fakeStore) TouchLastMessage(ctx context.Context, id string, at time.Time) error { return nil }

func (s *fakeStore) SaveMessage(ctx context.Context, msg domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	return nil
}

func (s *fakeStore) Close() error { return nil }

func (s *fakeStore) setActive(phone string, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conv, ok := s.convs[phone]; ok {
		conv.BotActive = active
	}
}

func (s *fakeStore) savedBySender(sender string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.messages {
		if m.SenderType == sender {
			n++
		}
	}
	return n
}

type fakeResponder struct {
	calls atomic.Int32
	reply string
}

func (r *fakeResponder) Generate(ctx context.Context, conversationID, text string) (string, error) {
	r.calls.Add(1)
	return r.reply, nil
}

type fakeDeliverer struct {
	mu    sync.Mutex
	sends []domain.Outbound
}

func (d *fakeDeliverer) Send(ctx context.Context, to, text string) domain.DeliveryResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sends = append(d.sends, domain.Outbound{To: to, Text: text})
	return domain.DeliveryResult{Success: true, Attempts: 1}
}

func (d *fakeDeliverer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sends)
}

func (d *fakeDeliverer) last() domain.Outbound {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sends[len(d.sends)-1]
}

type fakeTrigger struct {
	calls atomic.Int32
}

func (t *fakeTrigger) CheckAndNotify(conversationID, reply, phone string) {
	t.calls.Add(1)
}

type pipelineFixture struct {
	bus       *bus.InMemoryBus
	store     *fakeStore
	responder *fakeResponder
	deliverer *fakeDeliverer
	trigger   *fakeTrigger
	pipe      *Pipeline
	cancel    context.CancelFunc
}

func newFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	f := &pipelineFixture{
		bus:       bus.New(16, testLogger()),
		store:     newFakeStore(),
		responder: &fakeResponder{reply: "sure, done"},
		deliverer: &fakeDeliverer{},
		trigger:   &fakeTrigger{},
	}
	f.pipe = New(Config{
		Bus:         f.bus,
		Store:       f.store,
		Responder:   f.responder,
		Delivery:    f.deliverer,
		Trigger:     f.trigger,
		BusinessID:  "biz1",
		DedupTTL:    time.Minute,
		GroupWait:   40 * time.Millisecond,
		GroupMax:    150 * time.Millisecond,
		Concurrency: 4,
		Logger:      testLogger(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	go f.pipe.Run(ctx)
	t.Cleanup(cancel)
	return f
}

func inbound(id, from, body string) domain.Inbound {
	return domain.Inbound{Kind: domain.KindText, ExternalID: id, From: from, Text: body, ReceivedAt: time.Now()}
}

func TestPipeline_EndToEnd(t *testing.T) {
	f := newFixture(t)

	f.bus.Publish(inbound("wamid.1", "521", "hello"))
	time.Sleep(200 * time.Millisecond)

	if got := f.responder.calls.Load(); got != 1 {
		t.Errorf("expected 1 responder call, got %d", got)
	}
	if f.deliverer.count() != 1 {
		t.Fatalf("expected 1 delivery, got %d", f.deliverer.count())
	}
	if out := f.deliverer.last(); out.To != "521" || out.Text != "sure, done" {
		t.Errorf("unexpected delivery %+v", out)
	}
	if got := f.trigger.calls.Load(); got != 1 {
		t.Errorf("expected trigger checked once, got %d", got)
	}
	if f.store.savedBySender(domain.SenderUser) != 1 || f.store.savedBySender(domain.SenderBot) != 1 {
		t.Errorf("expected both turn sides persisted")
	}
}

// Same external id delivered twice inside the TTL reaches the grouper once.
func TestPipeline_DuplicateSuppressed(t *testing.T) {
	f := newFixture(t)

	f.bus.Publish(inbound("wamid.dup", "521", "hello"))
	f.bus.Publish(inbound("wamid.dup", "521", "hello"))
	time.Sleep(200 * time.Millisecond)

	if f.deliverer.count() != 1 {
		t.Errorf("expected 1 delivery for duplicate inbound, got %d", f.deliverer.count())
	}
}

// Flipping botActive between two flushes must take effect on the second
// flush even though the first decision is still cached nowhere.
func TestPipeline_GateReread(t *testing.T) {
	f := newFixture(t)

	f.bus.Publish(inbound("wamid.a", "521", "first"))
	time.Sleep(200 * time.Millisecond)
	if got := f.responder.calls.Load(); got != 1 {
		t.Fatalf("expected first turn answered, got %d responder calls", got)
	}

	f.store.setActive("521", false)

	f.bus.Publish(inbound("wamid.b", "521", "second"))
	time.Sleep(200 * time.Millisecond)

	if got := f.responder.calls.Load(); got != 1 {
		t.Errorf("bot disabled: second flush must skip responder, got %d calls", got)
	}
	if f.deliverer.count() != 1 {
		t.Errorf("bot disabled: nothing should be delivered, got %d", f.deliverer.count())
	}
	// The inbound message is still recorded.
	if f.store.savedBySender(domain.SenderUser) != 2 {
		t.Errorf("expected both user turns persisted, got %d", f.store.savedBySender(domain.SenderUser))
	}
}

// Audio never reaches the responder; the fixed capability reply goes out.
func TestPipeline_MediaShortCircuit(t *testing.T) {
	f := newFixture(t)

	f.bus.Publish(domain.Inbound{
		Kind: domain.KindMedia, ExternalID: "wamid.m", From: "521",
		Text: "[AUDIO RECEIVED]", MediaType: "audio", ReceivedAt: time.Now(),
	})
	time.Sleep(200 * time.Millisecond)

	if got := f.responder.calls.Load(); got != 0 {
		t.Errorf("media turn must never call the responder, got %d calls", got)
	}
	if f.deliverer.count() != 1 {
		t.Fatalf("expected capability reply delivered, got %d", f.deliverer.count())
	}
	if f.deliverer.last().Text != mediaReply {
		t.Errorf("expected capability reply, got %q", f.deliverer.last().Text)
	}
}

// Store outage fails open: the customer still gets a reply.
func TestPipeline_StoreFailureFailsOpen(t *testing.T) {
	f := newFixture(t)
	f.store.mu.Lock()
	f.store.failReads = true
	f.store.mu.Unlock()

	f.bus.Publish(inbound("wamid.x", "521", "anyone there?"))
	time.Sleep(200 * time.Millisecond)

	if f.deliverer.count() != 1 {
		t.Errorf("fail-open: expected a reply despite store outage, got %d", f.deliverer.count())
	}
}

func TestPipeline_ConversationsSerialized(t *testing.T) {
	f := newFixture(t)

	var inFlight atomic.Int32
	var overlapped atomic.Bool
	f.responder.reply = "ok"

	// Wrap the deliverer to detect overlapping turns for one conversation.
	slow := &slowDeliverer{inner: f.deliverer, inFlight: &inFlight, overlapped: &overlapped}
	f.pipe.delivery = slow

	f.bus.Publish(inbound("wamid.s1", "521", "one"))
	time.Sleep(120 * time.Millisecond)
	f.bus.Publish(inbound("wamid.s2", "521", "two"))
	time.Sleep(500 * time.Millisecond)

	if overlapped.Load() {
		t.Error("two flushes for one conversation overlapped")
	}
	if f.deliverer.count() != 2 {
		t.Errorf("expected 2 deliveries, got %d", f.deliverer.count())
	}
}

type slowDeliverer struct {
	inner      *fakeDeliverer
	inFlight   *atomic.Int32
	overlapped *atomic.Bool
}

func (d *slowDeliverer) Send(ctx context.Context, to, text string) domain.DeliveryResult {
	if d.inFlight.Add(1) > 1 {
		d.overlapped.Store(true)
	}
	time.Sleep(80 * time.Millisecond)
	d.inFlight.Add(-1)
	return d.inner.Send(ctx, to, text)
}
