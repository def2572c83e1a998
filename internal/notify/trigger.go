// Package notify scans outgoing bot replies for signs that a human needs
// to follow up, and fires out-of-band operator alerts. Alert dispatch is
// fire-and-forget: a broken notifier can never block or fail a send.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"relaybot/internal/domain"
	"relaybot/internal/metrics"
)

const (
	defaultDedupTTL = 5 * time.Minute
	dispatchTimeout = 15 * time.Second
)

// Trigger evaluates replies against the handoff rules.
type Trigger struct {
	phrases      []*regexp.Regexp
	keywords     []string
	notifiers    []domain.Notifier
	businessName string
	dedupTTL     time.Duration
	logger       *slog.Logger

	mu     sync.Mutex
	recent map[string]time.Time // conversation|rule -> expiry
}

type TriggerConfig struct {
	Rules        Rules
	Notifiers    []domain.Notifier
	BusinessName string
	DedupTTL     time.Duration
	Logger       *slog.Logger
}

func NewTrigger(cfg TriggerConfig) (*Trigger, error) {
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = defaultDedupTTL
	}

	t := &Trigger{
		keywords:     make([]string, 0, len(cfg.Rules.Keywords)),
		notifiers:    cfg.Notifiers,
		businessName: cfg.BusinessName,
		dedupTTL:     cfg.DedupTTL,
		logger:       cfg.Logger,
		recent:       make(map[string]time.Time),
	}

	// Patterns are matched against normalized text, so normalize the
	// patterns themselves too.
	for _, p := range cfg.Rules.Phrases {
		re, err := regexp.Compile(normalizeText(p))
		if err != nil {
			return nil, fmt.Errorf("bad handoff phrase %q: %w", p, err)
		}
		t.phrases = append(t.phrases, re)
	}
	for _, kw := range cfg.Rules.Keywords {
		t.keywords = append(t.keywords, normalizeText(kw))
	}

	return t, nil
}

// CheckAndNotify evaluates one bot reply and, on a match not yet alerted
// for this conversation within the dedup window, dispatches an alert
// asynchronously. It never blocks on notifier I/O.
func (t *Trigger) CheckAndNotify(conversationID, reply, phone string) {
	rule := t.match(normalizeText(reply))
	if rule == "" {
		return
	}

	if t.alreadyNotified(conversationID, rule) {
		t.logger.Debug("alert suppressed by dedup cache",
			"conversation_id", conversationID, "rule", rule)
		metrics.AlertsSuppressed.Inc()
		return
	}

	alert := domain.Alert{
		ConversationID: conversationID,
		Phone:          phone,
		BusinessName:   t.businessName,
		TriggeringText: reply,
		Rule:           rule,
		At:             time.Now(),
	}

	go t.dispatch(alert)
}

// match returns the name of the first rule the normalized reply satisfies,
// or "" when none does. Phrase matches win over the keyword fallback.
func (t *Trigger) match(norm string) string {
	for _, re := range t.phrases {
		if re.MatchString(norm) {
			return "phrase:" + re.String()
		}
	}

	// Deliberately permissive fallback: any two distinct keyword hits.
	hits := 0
	for _, kw := range t.keywords {
		if strings.Contains(norm, kw) {
			hits++
			if hits >= 2 {
				return "keywords"
			}
		}
	}
	return ""
}

// alreadyNotified marks (conversation, rule) seen and reports whether it
// was already seen within the TTL. Check and mark are one atomic step.
func (t *Trigger) alreadyNotified(conversationID, rule string) bool {
	key := conversationID + "|" + rule
	now := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	if exp, ok := t.recent[key]; ok && now.Before(exp) {
		return true
	}
	for k, exp := range t.recent {
		if now.After(exp) {
			delete(t.recent, k)
		}
	}
	t.recent[key] = now.Add(t.dedupTTL)
	return false
}

// dispatch fans the alert out to every notifier. Runs detached from the
// send path; failures are logged and swallowed.
func (t *Trigger) dispatch(alert domain.Alert) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("notifier panic recovered", "panic", r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()

	metrics.AlertsFiredTotal.Inc()
	t.logger.Info("human handoff alert",
		"conversation_id", alert.ConversationID, "rule", alert.Rule)

	for _, n := range t.notifiers {
		if err := n.Notify(ctx, alert); err != nil {
			t.logger.Error("notifier failed", "notifier", n.Name(), "err", err)
		}
	}
}

// formatAlert renders the operator-facing alert text shared by the
// backends.
func formatAlert(alert domain.Alert) string {
	return fmt.Sprintf(
		"⚠️ %s: conversation %s (%s) needs human follow-up.\nBot reply: %q",
		alert.BusinessName, alert.ConversationID, alert.Phone, alert.TriggeringText,
	)
}
