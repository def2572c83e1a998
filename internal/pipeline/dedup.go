package pipeline

import (
	"strings"
	"sync"
	"time"

	"relaybot/internal/domain"
)

// sweepThreshold is the map size past which MarkSeen triggers a full sweep
// of expired entries, keeping the cache bounded under sustained traffic.
const sweepThreshold = 4096

// Dedup suppresses re-delivery of already-seen inbound messages within a
// TTL window. All checks go through SeenOrMark so that two concurrent
// arrivals of the same key can never both observe "unseen".
type Dedup struct {
	mu   sync.Mutex
	ttl  time.Duration
	seen map[string]time.Time // key -> expiry
}

func NewDedup(ttl time.Duration) *Dedup {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &Dedup{ttl: ttl, seen: make(map[string]time.Time)}
}

// SeenOrMark reports whether key was already seen within the TTL window,
// marking it seen otherwise. Check and insert happen under one lock.
func (d *Dedup) SeenOrMark(key string) bool {
	now := time.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	if exp, ok := d.seen[key]; ok {
		if now.Before(exp) {
			return true
		}
		// Expired entry: fall through and re-mark.
	}

	if len(d.seen) >= sweepThreshold {
		for k, exp := range d.seen {
			if now.After(exp) {
				delete(d.seen, k)
			}
		}
	}

	d.seen[key] = now.Add(d.ttl)
	return false
}

// DedupKey derives the duplicate-suppression key for an inbound message:
// the provider message id when present, otherwise sender plus normalized
// text.
func DedupKey(msg domain.Inbound) string {
	if msg.ExternalID != "" {
		return msg.ExternalID
	}
	return msg.From + "|" + strings.Join(strings.Fields(strings.ToLower(msg.Text)), " ")
}
