package pipeline

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"relaybot/internal/domain"
	"relaybot/internal/metrics"
)

// Turn is a flushed group of rapid-fire messages merged into one logical
// user turn.
type Turn struct {
	Key       string // conversation key (sender address)
	From      string // earliest sender id in the group
	Text      string // member texts joined with newlines, in arrival order
	Kind      domain.Kind
	Msgs      []domain.Inbound
	FirstSeen time.Time
}

// FlushFunc receives a merged turn once its debounce window closes.
type FlushFunc func(turn Turn)

// pendingGroup buffers unflushed messages for one conversation. It is only
// ever touched while the grouper's lock is held.
type pendingGroup struct {
	key       string
	msgs      []domain.Inbound
	firstSeen time.Time
	timer     *time.Timer
}

// Grouper debounces messages per conversation: the first message opens a
// group and arms a flush timer; later arrivals append and push the timer
// out, but never beyond maxWait from the first message, so a steady drip
// cannot starve the flush.
type Grouper struct {
	mu      sync.Mutex
	wait    time.Duration
	maxWait time.Duration
	groups  map[string]*pendingGroup
	flush   FlushFunc
	logger  *slog.Logger
}

type GrouperConfig struct {
	Wait    time.Duration // debounce window after each message
	MaxWait time.Duration // hard bound from the first message of a group
	Flush   FlushFunc
	Logger  *slog.Logger
}

func NewGrouper(cfg GrouperConfig) *Grouper {
	if cfg.Wait <= 0 {
		cfg.Wait = 3 * time.Second
	}
	if cfg.MaxWait < cfg.Wait {
		cfg.MaxWait = 5 * time.Second
	}
	return &Grouper{
		wait:    cfg.Wait,
		maxWait: cfg.MaxWait,
		groups:  make(map[string]*pendingGroup),
		flush:   cfg.Flush,
		logger:  cfg.Logger,
	}
}

// Add buffers one inbound message, creating or extending the pending group
// for its conversation.
func (g *Grouper) Add(msg domain.Inbound) {
	key := msg.From

	g.mu.Lock()
	defer g.mu.Unlock()

	grp, ok := g.groups[key]
	if !ok {
		grp = &pendingGroup{
			key:       key,
			msgs:      []domain.Inbound{msg},
			firstSeen: time.Now(),
		}
		grp.timer = time.AfterFunc(g.wait, func() { g.fire(key, grp) })
		g.groups[key] = grp
		metrics.PendingGroups.Inc()
		return
	}

	grp.msgs = append(grp.msgs, msg)

	// Reschedule: wait more, but never beyond maxWait from the first
	// message of the group.
	remaining := g.maxWait - time.Since(grp.firstSeen)
	delay := g.wait
	if remaining < delay {
		delay = remaining
	}
	if delay < 0 {
		delay = 0
	}
	grp.timer.Stop()
	grp.timer = time.AfterFunc(delay, func() { g.fire(key, grp) })
}

// fire removes the group from the index and hands the merged turn to the
// flush callback. The removal happens before processing so late stragglers
// start a fresh group and a group can flush at most once.
func (g *Grouper) fire(key string, grp *pendingGroup) {
	g.mu.Lock()
	if g.groups[key] != grp {
		// Already flushed, or superseded by a fresh group.
		g.mu.Unlock()
		return
	}
	delete(g.groups, key)
	msgs := grp.msgs
	g.mu.Unlock()

	metrics.PendingGroups.Dec()
	metrics.GroupsFlushedTotal.Inc()

	g.logger.Debug("group flushed", "key", key, "messages", len(msgs))
	g.flush(mergeTurn(key, msgs, grp.firstSeen))
}

// Stop cancels every pending flush timer. Buffered messages are dropped;
// callers only use this on shutdown.
func (g *Grouper) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for key, grp := range g.groups {
		grp.timer.Stop()
		delete(g.groups, key)
		metrics.PendingGroups.Dec()
	}
}

// Pending returns the number of conversations with an unflushed group.
func (g *Grouper) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.groups)
}

// mergeTurn concatenates member texts in arrival order. A single-message
// group passes through unchanged. The turn keeps the media classification
// only when every member is media, so a "[AUDIO RECEIVED]" followed by a
// typed question still reaches the responder.
func mergeTurn(key string, msgs []domain.Inbound, firstSeen time.Time) Turn {
	turn := Turn{
		Key:       key,
		From:      msgs[0].From,
		Kind:      msgs[0].Kind,
		Msgs:      msgs,
		FirstSeen: firstSeen,
	}

	if len(msgs) == 1 {
		turn.Text = msgs[0].Text
		return turn
	}

	texts := make([]string, len(msgs))
	allMedia := true
	for i, m := range msgs {
		texts[i] = m.Text
		if !m.IsMedia() {
			allMedia = false
		}
	}
	turn.Text = strings.Join(texts, "\n")
	if allMedia {
		turn.Kind = domain.KindMedia
	} else {
		turn.Kind = domain.KindText
	}
	return turn
}
