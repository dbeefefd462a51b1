// Package out defines outbound ports (driven ports) for the application.
package out

import (
	"context"
	"errors"
)

// =============================================================================
// Mailbox Provider Port
// =============================================================================

// MailboxProvider is the outbound port for the remote mail API. Listing is
// paginated and restartable: no cursor is persisted across runs, the query
// itself decides what is a candidate.
type MailboxProvider interface {
	// ListMessages returns one page of candidate message IDs for the query.
	ListMessages(ctx context.Context, accessToken string, q *ListQuery) (*ListPage, error)
	// GetMessage retrieves full headers and body structure for one message.
	GetMessage(ctx context.Context, accessToken, messageID string) (*ProviderMessage, error)
}

// ListQuery filters candidate messages.
type ListQuery struct {
	Query     string
	PageToken string
	PageSize  int64
}

// ListPage is one page of a candidate listing.
type ListPage struct {
	MessageIDs    []string
	NextPageToken string
}

// ProviderMessage is a raw message payload as returned by the provider,
// normalized into a provider-independent shape.
type ProviderMessage struct {
	ID           string
	Snippet      string
	InternalDate int64 // milliseconds since epoch
	Payload      *MessagePart
}

// MessagePart is one node of the MIME-like part tree. Data stays in the
// provider's base64url transfer encoding; decoding belongs to extraction so a
// malformed part can be skipped without failing the message.
type MessagePart struct {
	MimeType string
	Headers  []Header
	Data     string // base64url body data, empty when the part has no inline content
	Parts    []*MessagePart
}

// Header is a single message header.
type Header struct {
	Name  string
	Value string
}

// =============================================================================
// Provider Error
// =============================================================================

// ProviderErrorCode classifies provider failures.
type ProviderErrorCode string

const (
	ProviderErrAuth         ProviderErrorCode = "auth_error"    // 401/403, token invalid
	ProviderErrRateLimit    ProviderErrorCode = "rate_limit"    // 429
	ProviderErrServer       ProviderErrorCode = "server_error"  // 5xx
	ProviderErrNetwork      ProviderErrorCode = "network_error" // transport failure, timeout
	ProviderErrNotFound     ProviderErrorCode = "not_found"     // 404
	ProviderErrInvalidInput ProviderErrorCode = "invalid_input" // other 4xx, permanent per item
)

// ProviderError wraps a provider failure with its retry classification.
type ProviderError struct {
	Provider  string
	Code      ProviderErrorCode
	Message   string
	Err       error
	Retryable bool
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError creates a new provider error.
func NewProviderError(provider string, code ProviderErrorCode, message string, err error, retryable bool) *ProviderError {
	return &ProviderError{
		Provider:  provider,
		Code:      code,
		Message:   message,
		Err:       err,
		Retryable: retryable,
	}
}

// IsAuthError reports whether err is a provider auth failure.
func IsAuthError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Code == ProviderErrAuth
}

// IsRetryable reports whether err is worth retrying with backoff.
func IsRetryable(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Retryable
}

// IsPermanent reports whether err is permanent for a single message and the
// batch should continue without it.
func IsPermanent(err error) bool {
	var pe *ProviderError
	if !errors.As(err, &pe) {
		return false
	}
	return pe.Code == ProviderErrNotFound || pe.Code == ProviderErrInvalidInput
}
