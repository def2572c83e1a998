package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"relaybot/internal/config"
)

// providerError is a non-2xx answer from the channel provider. Only server
// errors are worth retrying; a 4xx will not get better on the next attempt.
type providerError struct {
	statusCode int
	body       string
}

func (e *providerError) Error() string {
	return fmt.Sprintf("whatsapp API %d: %s", e.statusCode, e.body)
}

func (e *providerError) Temporary() bool { return e.statusCode >= 500 }

// WhatsAppSender sends text messages via the Business Cloud API.
type WhatsAppSender struct {
	accessToken   string
	phoneNumberID string
	apiBase       string
	client        *http.Client
	logger        *slog.Logger
}

func NewWhatsAppSender(cfg config.WhatsAppConfig, logger *slog.Logger) *WhatsAppSender {
	if cfg.APIBase == "" {
		cfg.APIBase = "https://graph.facebook.com/v21.0"
	}
	return &WhatsAppSender{
		accessToken:   cfg.AccessToken,
		phoneNumberID: cfg.PhoneNumberID,
		apiBase:       cfg.APIBase,
		client:        &http.Client{Timeout: 30 * time.Second},
		logger:        logger,
	}
}

// Configured reports whether the credentials needed to reach the provider
// are present.
func (w *WhatsAppSender) Configured() bool {
	return w.accessToken != "" && w.phoneNumberID != ""
}

// SendText performs one Cloud API send. Retry policy lives in the Manager.
func (w *WhatsAppSender) SendText(ctx context.Context, to, text string) error {
	url := fmt.Sprintf("%s/%s/messages", w.apiBase, w.phoneNumberID)

	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "text",
		"text":              map[string]string{"body": text},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+w.accessToken)

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(resp.Body)
		return &providerError{statusCode: resp.StatusCode, body: string(respBody)}
	}

	return nil
}
