package gmail

import (
	"errors"
	"net"
	"testing"

	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"

	"mailsift/core/port/out"
)

func TestMapError(t *testing.T) {
	a := NewAdapter(0)

	tests := []struct {
		name          string
		err           error
		wantCode      out.ProviderErrorCode
		wantRetryable bool
	}{
		{
			name:          "401 is an auth error",
			err:           &googleapi.Error{Code: 401},
			wantCode:      out.ProviderErrAuth,
			wantRetryable: false,
		},
		{
			name:          "403 is an auth error",
			err:           &googleapi.Error{Code: 403},
			wantCode:      out.ProviderErrAuth,
			wantRetryable: false,
		},
		{
			name:          "429 is retryable rate limiting",
			err:           &googleapi.Error{Code: 429},
			wantCode:      out.ProviderErrRateLimit,
			wantRetryable: true,
		},
		{
			name:          "404 is permanent per message",
			err:           &googleapi.Error{Code: 404},
			wantCode:      out.ProviderErrNotFound,
			wantRetryable: false,
		},
		{
			name:          "500 is a retryable server error",
			err:           &googleapi.Error{Code: 500},
			wantCode:      out.ProviderErrServer,
			wantRetryable: true,
		},
		{
			name:          "503 is a retryable server error",
			err:           &googleapi.Error{Code: 503},
			wantCode:      out.ProviderErrServer,
			wantRetryable: true,
		},
		{
			name:          "other 4xx is permanent invalid input",
			err:           &googleapi.Error{Code: 400},
			wantCode:      out.ProviderErrInvalidInput,
			wantRetryable: false,
		},
		{
			name:          "transport failure is retryable",
			err:           &net.OpError{Op: "dial", Err: errors.New("connection refused")},
			wantCode:      out.ProviderErrNetwork,
			wantRetryable: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pe := a.mapError("get message", tt.err)
			if pe.Code != tt.wantCode {
				t.Errorf("Code = %s, want %s", pe.Code, tt.wantCode)
			}
			if pe.Retryable != tt.wantRetryable {
				t.Errorf("Retryable = %v, want %v", pe.Retryable, tt.wantRetryable)
			}
			if !errors.Is(pe, tt.err) {
				t.Error("mapped error does not wrap the original")
			}
		})
	}
}

func TestToProviderMessage(t *testing.T) {
	msg := &gmailapi.Message{
		Id:           "m1",
		Snippet:      "snippet",
		InternalDate: 1700000000000,
		Payload: &gmailapi.MessagePart{
			MimeType: "multipart/alternative",
			Headers: []*gmailapi.MessagePartHeader{
				{Name: "Subject", Value: "Hello"},
			},
			Parts: []*gmailapi.MessagePart{
				{
					MimeType: "text/plain",
					Body:     &gmailapi.MessagePartBody{Data: "aGVsbG8="},
				},
				{
					MimeType: "text/html",
					Body:     &gmailapi.MessagePartBody{Data: "PGI-aGk8L2I-"},
				},
			},
		},
	}

	got := toProviderMessage(msg)

	if got.ID != "m1" || got.Snippet != "snippet" || got.InternalDate != 1700000000000 {
		t.Errorf("top-level fields = %+v", got)
	}
	if got.Payload.MimeType != "multipart/alternative" {
		t.Errorf("Payload.MimeType = %s", got.Payload.MimeType)
	}
	if len(got.Payload.Headers) != 1 || got.Payload.Headers[0].Name != "Subject" {
		t.Errorf("Headers = %+v", got.Payload.Headers)
	}
	if len(got.Payload.Parts) != 2 {
		t.Fatalf("Parts = %d, want 2", len(got.Payload.Parts))
	}
	if got.Payload.Parts[0].Data != "aGVsbG8=" {
		t.Errorf("part data = %q", got.Payload.Parts[0].Data)
	}
}

func TestCircuitBreakerIgnoresPermanentFailures(t *testing.T) {
	a := NewAdapter(0)

	// Enough permanent per-message failures must not open the breaker.
	for i := 0; i < 20; i++ {
		_ = a.execute("GetMessage", func() error {
			return a.mapError("get message", &googleapi.Error{Code: 404})
		})
	}

	err := a.execute("GetMessage", func() error { return nil })
	if err != nil {
		t.Fatalf("breaker rejected call after permanent failures: %v", err)
	}
}

func TestCircuitBreakerOpensOnServerErrors(t *testing.T) {
	a := NewAdapter(0)

	for i := 0; i < 10; i++ {
		_ = a.execute("ListMessages", func() error {
			return a.mapError("list messages", &googleapi.Error{Code: 503})
		})
	}

	err := a.execute("ListMessages", func() error { return nil })
	if err == nil {
		t.Fatal("breaker did not open after consecutive server errors")
	}
	if !out.IsRetryable(err) {
		t.Errorf("breaker rejection should be retryable, got %v", err)
	}
}
