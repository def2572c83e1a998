package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"time"

	"relaybot/internal/config"
	"relaybot/internal/domain"
	"relaybot/internal/metrics"
)

// Server receives provider webhooks, normalizes them, and publishes the
// resulting inbound messages to the bus. The POST handler always answers
// 200 once the request is authenticated: a non-200 status makes the
// provider redeliver the payload and risks duplicate processing.
type Server struct {
	cfg    config.ServerConfig
	bus    domain.MessageBus
	logger *slog.Logger
	server *http.Server
}

func NewServer(cfg config.ServerConfig, bus domain.MessageBus, logger *slog.Logger) *Server {
	if cfg.WebhookPath == "" {
		cfg.WebhookPath = "/webhook"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	return &Server{cfg: cfg, bus: bus, logger: logger}
}

// Start begins serving. It blocks until the listener fails or Shutdown is
// called.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+s.cfg.WebhookPath, s.handleVerification)
	mux.HandleFunc("POST "+s.cfg.WebhookPath, s.handleIncoming)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})
	mux.HandleFunc("GET /metrics", metrics.Collector.Handler())

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("webhook server listening", "addr", s.server.Addr, "path", s.cfg.WebhookPath)
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// handleVerification handles the provider webhook verification challenge.
func (s *Server) handleVerification(rw http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if mode == "subscribe" && token == s.cfg.VerifyToken {
		s.logger.Info("webhook verified")
		rw.WriteHeader(http.StatusOK)
		fmt.Fprint(rw, html.EscapeString(challenge))
		return
	}

	s.logger.Warn("webhook verification failed", "mode", mode)
	http.Error(rw, "Forbidden", http.StatusForbidden)
}

// handleIncoming normalizes an inbound payload and enqueues its messages.
// Malformed or unrecognized content is logged and dropped, never rejected.
func (s *Server) handleIncoming(rw http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		// Can't authenticate what we can't read.
		http.Error(rw, "Bad request", http.StatusBadRequest)
		return
	}

	if s.cfg.AppSecret != "" {
		sig := r.Header.Get("X-Hub-Signature-256")
		if !verifySignature(body, s.cfg.AppSecret, sig) {
			s.logger.Warn("webhook invalid signature")
			http.Error(rw, "Forbidden", http.StatusForbidden)
			return
		}
	}

	metrics.PayloadsTotal.Inc()
	// Past authentication the answer is always 200.
	defer rw.WriteHeader(http.StatusOK)

	msgs, err := Normalize(body, time.Now())
	if err != nil {
		s.logger.Warn("webhook payload dropped", "err", err)
		metrics.UnrecognizedTotal.Inc()
		return
	}

	for _, msg := range msgs {
		switch msg.Kind {
		case domain.KindStatus:
			s.logger.Debug("status update ignored")
		case domain.KindUnrecognized:
			s.logger.Warn("unrecognized inbound event dropped",
				"external_id", msg.ExternalID, "from", msg.From)
			metrics.UnrecognizedTotal.Inc()
		default:
			s.logger.Info("message received",
				"from", msg.From, "kind", string(msg.Kind), "text_len", len(msg.Text))
			s.bus.Publish(msg)
		}
	}
}

// verifySignature checks the X-Hub-Signature-256 header.
func verifySignature(body []byte, secret, signature string) bool {
	if len(signature) < 7 || signature[:7] != "sha256=" {
		return false
	}
	expected := signature[7:]

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	computed := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(computed))
}
