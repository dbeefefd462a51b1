package extract

import (
	"encoding/base64"
	"testing"
	"time"

	"mailsift/core/port/out"
)

func enc(s string) string {
	return base64.URLEncoding.EncodeToString([]byte(s))
}

func TestParseHeaders(t *testing.T) {
	e := NewExtractor()

	tests := []struct {
		name        string
		headers     []out.Header
		wantSubject string
		wantSender  string
	}{
		{
			name: "both headers present",
			headers: []out.Header{
				{Name: "Subject", Value: "Quarterly report"},
				{Name: "From", Value: "alice@example.com"},
			},
			wantSubject: "Quarterly report",
			wantSender:  "alice@example.com",
		},
		{
			name:        "missing headers use defaults",
			headers:     []out.Header{{Name: "Date", Value: "Mon, 2 Jan 2006"}},
			wantSubject: "(No Subject)",
			wantSender:  "Unknown",
		},
		{
			name: "empty header values use defaults",
			headers: []out.Header{
				{Name: "Subject", Value: ""},
				{Name: "From", Value: ""},
			},
			wantSubject: "(No Subject)",
			wantSender:  "Unknown",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := &out.ProviderMessage{
				ID:      "m1",
				Payload: &out.MessagePart{Headers: tt.headers},
			}
			parsed := e.Parse(msg)
			if parsed.Subject != tt.wantSubject {
				t.Errorf("Subject = %q, want %q", parsed.Subject, tt.wantSubject)
			}
			if parsed.Sender != tt.wantSender {
				t.Errorf("Sender = %q, want %q", parsed.Sender, tt.wantSender)
			}
		})
	}
}

func TestParseBody(t *testing.T) {
	e := NewExtractor()

	tests := []struct {
		name     string
		snippet  string
		payload  *out.MessagePart
		wantBody string
	}{
		{
			name:     "single part body",
			payload:  &out.MessagePart{MimeType: "text/plain", Data: enc("hello world")},
			wantBody: "hello world",
		},
		{
			name: "plain preferred over html",
			payload: &out.MessagePart{
				MimeType: "multipart/alternative",
				Parts: []*out.MessagePart{
					{MimeType: "text/html", Data: enc("<p>html</p>")},
					{MimeType: "text/plain", Data: enc("plain")},
				},
			},
			wantBody: "plain",
		},
		{
			name: "html when no plain part",
			payload: &out.MessagePart{
				MimeType: "multipart/alternative",
				Parts: []*out.MessagePart{
					{MimeType: "text/html", Data: enc("<p>html</p>")},
				},
			},
			wantBody: "<p>html</p>",
		},
		{
			name: "nested multipart is searched",
			payload: &out.MessagePart{
				MimeType: "multipart/mixed",
				Parts: []*out.MessagePart{
					{MimeType: "application/pdf", Data: enc("binary")},
					{
						MimeType: "multipart/alternative",
						Parts: []*out.MessagePart{
							{MimeType: "text/plain", Data: enc("nested plain")},
						},
					},
				},
			},
			wantBody: "nested plain",
		},
		{
			name: "first plain part wins",
			payload: &out.MessagePart{
				MimeType: "multipart/mixed",
				Parts: []*out.MessagePart{
					{MimeType: "text/plain", Data: enc("first")},
					{MimeType: "text/plain", Data: enc("second")},
				},
			},
			wantBody: "first",
		},
		{
			name:     "unpadded base64url decodes",
			payload:  &out.MessagePart{MimeType: "text/plain", Data: base64.RawURLEncoding.EncodeToString([]byte("rawx"))},
			wantBody: "rawx",
		},
		{
			name:     "malformed body falls back to snippet",
			snippet:  "snippet text",
			payload:  &out.MessagePart{MimeType: "text/plain", Data: "%%%not-base64%%%"},
			wantBody: "snippet text",
		},
		{
			name:     "no payload falls back to snippet",
			snippet:  "only a snippet",
			payload:  nil,
			wantBody: "only a snippet",
		},
		{
			name:     "nothing anywhere yields empty body",
			payload:  &out.MessagePart{MimeType: "text/plain"},
			wantBody: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := &out.ProviderMessage{
				ID:      "m1",
				Snippet: tt.snippet,
				Payload: tt.payload,
			}
			parsed := e.Parse(msg)
			if parsed.Body != tt.wantBody {
				t.Errorf("Body = %q, want %q", parsed.Body, tt.wantBody)
			}
		})
	}
}

func TestParseReceivedAt(t *testing.T) {
	e := NewExtractor()

	msg := &out.ProviderMessage{ID: "m1", InternalDate: 1700000000000}
	parsed := e.Parse(msg)

	want := time.UnixMilli(1700000000000).UTC()
	if !parsed.ReceivedAt.Equal(want) {
		t.Errorf("ReceivedAt = %v, want %v", parsed.ReceivedAt, want)
	}
}
