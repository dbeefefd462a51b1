// Package extract turns raw provider payloads into typed messages.
package extract

import (
	"encoding/base64"
	"strings"
	"time"

	"mailsift/core/domain"
	"mailsift/core/port/out"
	"mailsift/pkg/logger"
)

const (
	defaultSubject = "(No Subject)"
	defaultSender  = "Unknown"

	mimeTextPlain = "text/plain"
	mimeTextHTML  = "text/html"
)

// Extractor parses provider messages. Parsing never fails a message: a
// malformed body degrades to the snippet, then to an empty string.
type Extractor struct {
	log *logger.Logger
}

// NewExtractor creates an Extractor.
func NewExtractor() *Extractor {
	return &Extractor{
		log: logger.Default().WithField("component", "extractor"),
	}
}

// Parse extracts subject, sender, body and timestamp from a raw message.
func (e *Extractor) Parse(msg *out.ProviderMessage) *domain.ParsedMessage {
	parsed := &domain.ParsedMessage{
		MessageID:  msg.ID,
		Subject:    defaultSubject,
		Sender:     defaultSender,
		ReceivedAt: time.UnixMilli(msg.InternalDate).UTC(),
	}

	if msg.Payload != nil {
		for _, h := range msg.Payload.Headers {
			switch h.Name {
			case "Subject":
				if h.Value != "" {
					parsed.Subject = h.Value
				}
			case "From":
				if h.Value != "" {
					parsed.Sender = h.Value
				}
			}
		}
	}

	body := e.extractBody(msg.ID, msg.Payload)
	if body == "" {
		body = msg.Snippet
	}
	parsed.Body = body

	return parsed
}

// extractBody picks the best body part. Single-part messages decode directly;
// multipart messages prefer the first text/plain part over the first
// text/html part, searching nested multiparts depth-first.
func (e *Extractor) extractBody(messageID string, payload *out.MessagePart) string {
	if payload == nil {
		return ""
	}

	if len(payload.Parts) == 0 {
		return e.decode(messageID, payload.Data)
	}

	var plain, html *out.MessagePart
	findParts(payload.Parts, &plain, &html)

	if plain != nil {
		if body := e.decode(messageID, plain.Data); body != "" {
			return body
		}
	}
	if html != nil {
		return e.decode(messageID, html.Data)
	}
	return ""
}

// findParts locates the first text/plain and first text/html leaves,
// descending into nested multipart containers.
func findParts(parts []*out.MessagePart, plain, html **out.MessagePart) {
	for _, part := range parts {
		if part == nil {
			continue
		}
		switch {
		case part.MimeType == mimeTextPlain && *plain == nil && part.Data != "":
			*plain = part
		case part.MimeType == mimeTextHTML && *html == nil && part.Data != "":
			*html = part
		case strings.HasPrefix(part.MimeType, "multipart/"):
			findParts(part.Parts, plain, html)
		}
		if *plain != nil && *html != nil {
			return
		}
	}
}

// decode unpacks base64url body data. Gmail pads inconsistently, so try the
// padded alphabet first and fall back to the raw one. A part that fails both
// is logged and skipped, never raised.
func (e *Extractor) decode(messageID, data string) string {
	if data == "" {
		return ""
	}
	raw, err := base64.URLEncoding.DecodeString(data)
	if err != nil {
		raw, err = base64.RawURLEncoding.DecodeString(data)
	}
	if err != nil {
		e.log.WithField("message_id", messageID).WithError(err).Warn("failed to decode body part, skipping")
		return ""
	}
	return string(raw)
}
