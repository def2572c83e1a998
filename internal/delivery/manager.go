// Package delivery sends bot replies to the external channel with bounded
// retries and a short-lived sent-cache that answers duplicate send
// requests without re-contacting the provider.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"relaybot/internal/domain"
)

const (
	defaultMaxAttempts = 3
	defaultRetryDelay  = time.Second
	defaultCacheTTL    = 10 * time.Second
)

type cacheEntry struct {
	result    domain.DeliveryResult
	expiresAt time.Time
}

// Manager implements the outbound delivery policy on top of a Sender.
type Manager struct {
	sender      domain.Sender
	logger      *slog.Logger
	maxAttempts int
	retryDelay  time.Duration
	cacheTTL    time.Duration

	mu   sync.Mutex
	sent map[string]cacheEntry
}

type ManagerConfig struct {
	Sender      domain.Sender
	Logger      *slog.Logger
	MaxAttempts int
	RetryDelay  time.Duration
	CacheTTL    time.Duration
}

func NewManager(cfg ManagerConfig) *Manager {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	return &Manager{
		sender:      cfg.Sender,
		logger:      cfg.Logger,
		maxAttempts: cfg.MaxAttempts,
		retryDelay:  cfg.RetryDelay,
		cacheTTL:    cfg.CacheTTL,
		sent:        make(map[string]cacheEntry),
	}
}

// Send delivers text to a destination. A successful send for the exact
// same (destination, text) pair within the cache TTL is answered from the
// cache; otherwise up to maxAttempts are made with a fixed delay, retrying
// only transport and provider 5xx errors. Missing credentials yield a
// flagged simulated result instead of an error.
func (m *Manager) Send(ctx context.Context, to, text string) domain.DeliveryResult {
	if to == "" || text == "" {
		return domain.DeliveryResult{
			Err: fmt.Errorf("delivery: missing destination or text"),
		}
	}

	key := sentKey(to, text)
	if res, ok := m.cached(key); ok {
		m.logger.Info("duplicate send answered from cache", "to", to)
		return res
	}

	if !m.sender.Configured() {
		m.logger.Warn("channel credentials missing, simulating send", "to", to, "text_len", len(text))
		res := domain.DeliveryResult{Success: true, Simulated: true}
		m.remember(key, res)
		return res
	}

	var lastErr error
	for attempt := 1; attempt <= m.maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return domain.DeliveryResult{Attempts: attempt - 1, Err: ctx.Err()}
			case <-time.After(m.retryDelay):
			}
		}

		err := m.sender.SendText(ctx, to, text)
		if err == nil {
			m.logger.Info("message delivered", "to", to, "attempt", attempt)
			res := domain.DeliveryResult{Success: true, Attempts: attempt}
			m.remember(key, res)
			return res
		}

		lastErr = err
		if !retryable(err) {
			m.logger.Error("send rejected by provider, not retrying", "to", to, "err", err)
			return domain.DeliveryResult{Attempts: attempt, Err: err}
		}
		m.logger.Warn("send attempt failed", "to", to, "attempt", attempt, "err", err)
	}

	return domain.DeliveryResult{Attempts: m.maxAttempts, Err: lastErr}
}

// retryable reports whether another attempt could help: transport errors
// and provider 5xx yes, provider 4xx no.
func retryable(err error) bool {
	var pe *providerError
	if errors.As(err, &pe) {
		return pe.Temporary()
	}
	return true
}

func (m *Manager) cached(key string) (domain.DeliveryResult, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.sent[key]
	if !ok {
		return domain.DeliveryResult{}, false
	}
	if time.Now().After(entry.expiresAt) {
		delete(m.sent, key)
		return domain.DeliveryResult{}, false
	}
	return entry.result, true
}

func (m *Manager) remember(key string, res domain.DeliveryResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent[key] = cacheEntry{result: res, expiresAt: time.Now().Add(m.cacheTTL)}
}

func sentKey(to, text string) string {
	h := fnv.New64a()
	h.Write([]byte(text))
	return fmt.Sprintf("%s:%x", to, h.Sum64())
}
