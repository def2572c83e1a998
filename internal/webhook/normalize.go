package webhook

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"relaybot/internal/domain"
)

// Media placeholders substituted for unsupported content so downstream
// stages always have a user-facing text to work with.
const (
	placeholderAudio    = "[AUDIO RECEIVED]"
	placeholderImage    = "[IMAGE RECEIVED]"
	placeholderVideo    = "[VIDEO RECEIVED]"
	placeholderDocument = "[DOCUMENT RECEIVED]"
)

// Normalize extracts canonical inbound records from a raw webhook body.
// It accepts both the Business Cloud API shape (entry[].changes[].value)
// and a flat single-event body. Unparseable bodies yield no records and a
// non-nil error; individually unclassifiable messages yield
// KindUnrecognized records so the caller can count and drop them.
func Normalize(body []byte, now time.Time) ([]domain.Inbound, error) {
	var payload waPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("parse webhook body: %w", err)
	}

	if len(payload.Entry) > 0 {
		return normalizeEntries(payload.Entry, now), nil
	}

	// Flat provider event: a single message at the top level.
	var flat waMessage
	if err := json.Unmarshal(body, &flat); err != nil {
		return nil, fmt.Errorf("parse flat event: %w", err)
	}
	if flat.Type == "" && flat.From == "" {
		return nil, fmt.Errorf("no identifiable message in payload")
	}
	return []domain.Inbound{classify(flat, now)}, nil
}

func normalizeEntries(entries []waEntry, now time.Time) []domain.Inbound {
	var out []domain.Inbound
	for _, entry := range entries {
		for _, change := range entry.Changes {
			for range change.Value.Statuses {
				out = append(out, domain.Inbound{Kind: domain.KindStatus, ReceivedAt: now})
			}
			for _, msg := range change.Value.Messages {
				out = append(out, classify(msg, now))
			}
		}
	}
	return out
}

// classify maps one provider message onto a tagged inbound variant.
func classify(msg waMessage, now time.Time) domain.Inbound {
	in := domain.Inbound{
		ExternalID: msg.ID,
		From:       msg.From,
		ReceivedAt: parseTimestamp(msg.Timestamp, now),
	}

	if msg.From == "" {
		in.Kind = domain.KindUnrecognized
		return in
	}

	switch msg.Type {
	case "text":
		if msg.Text == nil || msg.Text.Body == "" {
			in.Kind = domain.KindUnrecognized
			return in
		}
		in.Kind = domain.KindText
		in.Text = msg.Text.Body

	case "button":
		if msg.Button == nil || msg.Button.Text == "" {
			in.Kind = domain.KindUnrecognized
			return in
		}
		in.Kind = domain.KindInteractive
		in.Text = msg.Button.Text

	case "interactive":
		reply := interactiveText(msg.Interactive)
		if reply == "" {
			in.Kind = domain.KindUnrecognized
			return in
		}
		in.Kind = domain.KindInteractive
		in.Text = reply

	case "audio":
		in.Kind = domain.KindMedia
		in.MediaType = "audio"
		in.Text = placeholderAudio
	case "image":
		in.Kind = domain.KindMedia
		in.MediaType = "image"
		in.Text = placeholderImage
	case "video":
		in.Kind = domain.KindMedia
		in.MediaType = "video"
		in.Text = placeholderVideo
	case "document":
		in.Kind = domain.KindMedia
		in.MediaType = "document"
		in.Text = placeholderDocument

	default:
		in.Kind = domain.KindUnrecognized
	}

	return in
}

func interactiveText(iv *waInteractive) string {
	if iv == nil {
		return ""
	}
	switch iv.Type {
	case "button_reply":
		if iv.ButtonReply != nil {
			return iv.ButtonReply.Title
		}
	case "list_reply":
		if iv.ListReply != nil {
			return iv.ListReply.Title
		}
	}
	return ""
}

// parseTimestamp converts the provider's unix-seconds string; falls back to
// the receive time when absent or malformed.
func parseTimestamp(ts string, now time.Time) time.Time {
	if ts == "" {
		return now
	}
	secs, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return now
	}
	return time.Unix(secs, 0)
}

// --- Business Cloud API webhook payload types ---

type waPayload struct {
	Object string    `json:"object"`
	Entry  []waEntry `json:"entry"`
}

type waEntry struct {
	ID      string     `json:"id"`
	Changes []waChange `json:"changes"`
}

type waChange struct {
	Value waValue `json:"value"`
	Field string  `json:"field"`
}

type waValue struct {
	MessagingProduct string      `json:"messaging_product"`
	Messages         []waMessage `json:"messages"`
	Statuses         []waStatus  `json:"statuses"`
}

type waMessage struct {
	From        string         `json:"from"`
	ID          string         `json:"id"`
	Timestamp   string         `json:"timestamp"`
	Type        string         `json:"type"`
	Text        *waText        `json:"text,omitempty"`
	Button      *waButton      `json:"button,omitempty"`
	Interactive *waInteractive `json:"interactive,omitempty"`
}

type waText struct {
	Body string `json:"body"`
}

type waButton struct {
	Text    string `json:"text"`
	Payload string `json:"payload"`
}

type waInteractive struct {
	Type        string   `json:"type"`
	ButtonReply *waReply `json:"button_reply,omitempty"`
	ListReply   *waReply `json:"list_reply,omitempty"`
}

type waReply struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type waStatus struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}
