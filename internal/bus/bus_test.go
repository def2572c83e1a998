package bus

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"relaybot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBus_PublishSubscribe(t *testing.T) {
	b := New(10, testLogger())
	defer b.Close()

	b.Publish(domain.Inbound{Kind: domain.KindText, From: "5215550001", Text: "hello"})
	b.Publish(domain.Inbound{Kind: domain.KindText, From: "5215550001", Text: "world"})

	ch := b.Subscribe()
	first := <-ch
	second := <-ch
	if first.Text != "hello" || second.Text != "world" {
		t.Errorf("expected FIFO order, got %q then %q", first.Text, second.Text)
	}
}

func TestBus_CloseEndsSubscription(t *testing.T) {
	b := New(10, testLogger())
	b.Publish(domain.Inbound{Kind: domain.KindText, From: "5215550001", Text: "last"})
	b.Close()

	ch := b.Subscribe()
	msg, ok := <-ch
	if !ok || msg.Text != "last" {
		t.Fatalf("expected buffered message before close, got ok=%v", ok)
	}
	if _, ok := <-ch; ok {
		t.Error("channel should be closed")
	}
}

func TestBus_PublishAfterCloseIsDropped(t *testing.T) {
	b := New(10, testLogger())
	b.Close()

	// Must not panic on a closed channel.
	b.Publish(domain.Inbound{Kind: domain.KindText, From: "5215550001", Text: "late"})
}

func TestBus_CloseIdempotent(t *testing.T) {
	b := New(10, testLogger())
	b.Close()
	b.Close()
}

func TestBus_FullBusWaits(t *testing.T) {
	b := New(1, testLogger())
	defer b.Close()

	b.Publish(domain.Inbound{Kind: domain.KindText, From: "a", Text: "one"})

	done := make(chan struct{})
	go func() {
		b.Publish(domain.Inbound{Kind: domain.KindText, From: "a", Text: "two"})
		close(done)
	}()

	// Drain one slot; the blocked publisher should complete.
	time.Sleep(20 * time.Millisecond)
	<-b.Subscribe()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher did not unblock after space freed")
	}

	got := <-b.Subscribe()
	if got.Text != "two" {
		t.Errorf("expected second message, got %q", got.Text)
	}
}
