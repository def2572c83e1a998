package domain

import "time"

// Kind classifies a normalized inbound webhook event.
type Kind string

const (
	KindText         Kind = "text"
	KindInteractive  Kind = "interactive"
	KindMedia        Kind = "media"
	KindStatus       Kind = "status"
	KindUnrecognized Kind = "unrecognized"
)

// Inbound is a provider-neutral inbound message extracted from a webhook
// payload. Media messages carry a fixed placeholder in Text (e.g.
// "[AUDIO RECEIVED]") so downstream stages can always produce a reply.
type Inbound struct {
	Kind       Kind
	ExternalID string // provider message id, may be empty
	From       string // sender address, doubles as the conversation key
	Text       string
	MediaType  string // audio | image | video | document, set for KindMedia
	ReceivedAt time.Time
}

// IsMedia reports whether the message was classified as unsupported media.
func (m Inbound) IsMedia() bool { return m.Kind == KindMedia }

// Outbound is a reply queued for delivery to the external channel.
type Outbound struct {
	To   string
	Text string
}
