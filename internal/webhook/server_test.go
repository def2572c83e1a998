package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"

	"relaybot/internal/config"
	"relaybot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// recordingBus captures published messages.
type recordingBus struct {
	mu   sync.Mutex
	msgs []domain.Inbound
}

func (b *recordingBus) Publish(msg domain.Inbound) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, msg)
}

func (b *recordingBus) Subscribe() <-chan domain.Inbound { return nil }
func (b *recordingBus) Close()                           {}

func (b *recordingBus) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.msgs)
}

func newTestServer(secret string) (*Server, *recordingBus) {
	b := &recordingBus{}
	s := NewServer(config.ServerConfig{
		WebhookPath: "/webhook",
		VerifyToken: "verify-me",
		AppSecret:   secret,
	}, b, testLogger())
	return s, b
}

func TestVerification_Valid(t *testing.T) {
	s, _ := newTestServer("")
	req := httptest.NewRequest("GET", "/webhook?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=12345", nil)
	rw := httptest.NewRecorder()

	s.handleVerification(rw, req)

	if rw.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rw.Code)
	}
	if rw.Body.String() != "12345" {
		t.Errorf("expected challenge echo, got %q", rw.Body.String())
	}
}

func TestVerification_BadToken(t *testing.T) {
	s, _ := newTestServer("")
	req := httptest.NewRequest("GET", "/webhook?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=1", nil)
	rw := httptest.NewRecorder()

	s.handleVerification(rw, req)

	if rw.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rw.Code)
	}
}

func TestIncoming_PublishesMessage(t *testing.T) {
	s, b := newTestServer("")
	body := nestedBody(`{"from":"521","id":"wamid.1","type":"text","text":{"body":"hi"}}`)
	req := httptest.NewRequest("POST", "/webhook", strings.NewReader(body))
	rw := httptest.NewRecorder()

	s.handleIncoming(rw, req)

	if rw.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rw.Code)
	}
	if b.count() != 1 {
		t.Errorf("expected 1 published message, got %d", b.count())
	}
}

func TestIncoming_MalformedBodyStill200(t *testing.T) {
	s, b := newTestServer("")
	req := httptest.NewRequest("POST", "/webhook", strings.NewReader("{{{garbage"))
	rw := httptest.NewRecorder()

	s.handleIncoming(rw, req)

	if rw.Code != http.StatusOK {
		t.Errorf("malformed body must still answer 200, got %d", rw.Code)
	}
	if b.count() != 0 {
		t.Errorf("malformed body must not enqueue, got %d messages", b.count())
	}
}

func TestIncoming_StatusAndUnrecognizedNotEnqueued(t *testing.T) {
	s, b := newTestServer("")
	body := `{"object":"x","entry":[{"changes":[{"value":{"statuses":[{"id":"s1","status":"read"}],"messages":[{"id":"no-sender","type":"text","text":{"body":"x"}}]}}]}]}`
	req := httptest.NewRequest("POST", "/webhook", strings.NewReader(body))
	rw := httptest.NewRecorder()

	s.handleIncoming(rw, req)

	if rw.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rw.Code)
	}
	if b.count() != 0 {
		t.Errorf("status/unrecognized must not enqueue, got %d", b.count())
	}
}

func TestIncoming_SignatureChecked(t *testing.T) {
	s, b := newTestServer("hook-secret")
	body := nestedBody(`{"from":"521","id":"wamid.1","type":"text","text":{"body":"hi"}}`)

	// Wrong signature is rejected.
	req := httptest.NewRequest("POST", "/webhook", strings.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", "sha256=deadbeef")
	rw := httptest.NewRecorder()
	s.handleIncoming(rw, req)
	if rw.Code != http.StatusForbidden {
		t.Errorf("expected 403 for bad signature, got %d", rw.Code)
	}
	if b.count() != 0 {
		t.Errorf("bad signature must not enqueue")
	}

	// Correct signature is accepted.
	mac := hmac.New(sha256.New, []byte("hook-secret"))
	mac.Write([]byte(body))
	sig := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	req = httptest.NewRequest("POST", "/webhook", strings.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", sig)
	rw = httptest.NewRecorder()
	s.handleIncoming(rw, req)
	if rw.Code != http.StatusOK {
		t.Errorf("expected 200 for valid signature, got %d", rw.Code)
	}
	if b.count() != 1 {
		t.Errorf("expected 1 message after valid signature, got %d", b.count())
	}
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"content":"hello"}`)
	mac := hmac.New(sha256.New, []byte("secret"))
	mac.Write(body)
	sig := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	if !verifySignature(body, "secret", sig) {
		t.Error("valid signature should verify")
	}
	if verifySignature(body, "secret", "sha256=bad") {
		t.Error("invalid signature should not verify")
	}
	if verifySignature(body, "secret", "") {
		t.Error("empty signature should not verify")
	}
}
