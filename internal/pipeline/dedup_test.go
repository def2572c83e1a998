package pipeline

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"relaybot/internal/domain"
)

func TestDedup_SuppressesWithinTTL(t *testing.T) {
	d := NewDedup(time.Minute)

	if d.SeenOrMark("wamid.1") {
		t.Error("first sighting should not be a duplicate")
	}
	if !d.SeenOrMark("wamid.1") {
		t.Error("second sighting within TTL should be a duplicate")
	}
	if d.SeenOrMark("wamid.2") {
		t.Error("distinct key should not be a duplicate")
	}
}

func TestDedup_ExpiresAfterTTL(t *testing.T) {
	d := NewDedup(30 * time.Millisecond)

	d.SeenOrMark("k")
	time.Sleep(60 * time.Millisecond)
	if d.SeenOrMark("k") {
		t.Error("expired entry should not count as seen")
	}
}

// Two concurrent arrivals of the same key: exactly one may win.
func TestDedup_SingleWriter(t *testing.T) {
	d := NewDedup(time.Minute)

	var wg sync.WaitGroup
	var fresh int32
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !d.SeenOrMark("race-key") {
				atomic.AddInt32(&fresh, 1)
			}
		}()
	}
	wg.Wait()

	if fresh != 1 {
		t.Errorf("expected exactly 1 fresh sighting, got %d", fresh)
	}
}

func TestDedupKey(t *testing.T) {
	withID := domain.Inbound{ExternalID: "wamid.9", From: "521", Text: "hello"}
	if DedupKey(withID) != "wamid.9" {
		t.Errorf("external id should win, got %q", DedupKey(withID))
	}

	a := domain.Inbound{From: "521", Text: "Hello   World"}
	b := domain.Inbound{From: "521", Text: "hello world"}
	if DedupKey(a) != DedupKey(b) {
		t.Errorf("normalized text keys should match: %q vs %q", DedupKey(a), DedupKey(b))
	}

	c := domain.Inbound{From: "522", Text: "hello world"}
	if DedupKey(a) == DedupKey(c) {
		t.Error("different senders must not collide")
	}
}
