// Package gmail provides the Gmail API mailbox adapter.
package gmail

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"mailsift/core/port/out"
	"mailsift/pkg/logger"
)

const providerName = "gmail"

// Adapter implements out.MailboxProvider against the Gmail REST API.
type Adapter struct {
	cb      *gobreaker.CircuitBreaker
	timeout time.Duration
}

// NewAdapter creates a Gmail adapter. Every API call runs behind a circuit
// breaker and a per-call timeout.
func NewAdapter(timeout time.Duration) *Adapter {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	settings := gobreaker.Settings{
		Name:        "gmail-api",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("[CircuitBreaker] %s: state changed from %s to %s", name, from.String(), to.String())
		},
		IsSuccessful: func(err error) bool {
			// Auth and per-item failures say nothing about Gmail's health.
			return err == nil || !out.IsRetryable(err)
		},
	}

	return &Adapter{
		cb:      gobreaker.NewCircuitBreaker(settings),
		timeout: timeout,
	}
}

func (a *Adapter) service(ctx context.Context, accessToken string) (*gmailapi.Service, error) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})
	svc, err := gmailapi.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, out.NewProviderError(providerName, out.ProviderErrNetwork, "failed to create gmail service", err, true)
	}
	return svc, nil
}

// ListMessages returns one page of message IDs matching the query.
func (a *Adapter) ListMessages(ctx context.Context, accessToken string, q *out.ListQuery) (*out.ListPage, error) {
	svc, err := a.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	var page *out.ListPage
	cbErr := a.execute("ListMessages", func() error {
		req := svc.Users.Messages.List("me")
		if q.Query != "" {
			req = req.Q(q.Query)
		}
		if q.PageToken != "" {
			req = req.PageToken(q.PageToken)
		}
		if q.PageSize > 0 {
			req = req.MaxResults(q.PageSize)
		}

		resp, err := req.Context(ctx).Do()
		if err != nil {
			return a.mapError("list messages", err)
		}

		ids := make([]string, 0, len(resp.Messages))
		for _, m := range resp.Messages {
			ids = append(ids, m.Id)
		}
		page = &out.ListPage{
			MessageIDs:    ids,
			NextPageToken: resp.NextPageToken,
		}
		return nil
	})
	if cbErr != nil {
		return nil, cbErr
	}
	return page, nil
}

// GetMessage retrieves full headers and body structure for one message.
func (a *Adapter) GetMessage(ctx context.Context, accessToken, messageID string) (*out.ProviderMessage, error) {
	svc, err := a.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	var msg *out.ProviderMessage
	cbErr := a.execute("GetMessage", func() error {
		resp, err := svc.Users.Messages.Get("me", messageID).
			Format("full").
			Context(ctx).
			Do()
		if err != nil {
			return a.mapError("get message", err)
		}
		msg = toProviderMessage(resp)
		return nil
	})
	if cbErr != nil {
		return nil, cbErr
	}
	return msg, nil
}

// execute runs fn behind the circuit breaker, translating breaker rejections
// into retryable provider errors.
func (a *Adapter) execute(op string, fn func() error) error {
	_, err := a.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return out.NewProviderError(providerName, out.ProviderErrNetwork, "circuit open: "+op, err, true)
	}
	return err
}

// mapError classifies a Gmail API failure into the provider error taxonomy:
// 401/403 auth, 429 rate-limit, 5xx transient, other 4xx permanent per item.
func (a *Adapter) mapError(op string, err error) *out.ProviderError {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 401 || apiErr.Code == 403:
			return out.NewProviderError(providerName, out.ProviderErrAuth, "failed to "+op, err, false)
		case apiErr.Code == 429:
			return out.NewProviderError(providerName, out.ProviderErrRateLimit, "failed to "+op, err, true)
		case apiErr.Code == 404:
			return out.NewProviderError(providerName, out.ProviderErrNotFound, "failed to "+op, err, false)
		case apiErr.Code >= 500:
			return out.NewProviderError(providerName, out.ProviderErrServer, "failed to "+op, err, true)
		default:
			return out.NewProviderError(providerName, out.ProviderErrInvalidInput, "failed to "+op, err, false)
		}
	}
	// Transport failures and timeouts are retryable.
	return out.NewProviderError(providerName, out.ProviderErrNetwork, "failed to "+op, err, true)
}

func toProviderMessage(msg *gmailapi.Message) *out.ProviderMessage {
	return &out.ProviderMessage{
		ID:           msg.Id,
		Snippet:      msg.Snippet,
		InternalDate: msg.InternalDate,
		Payload:      toMessagePart(msg.Payload),
	}
}

func toMessagePart(part *gmailapi.MessagePart) *out.MessagePart {
	if part == nil {
		return nil
	}

	p := &out.MessagePart{
		MimeType: part.MimeType,
	}
	for _, h := range part.Headers {
		p.Headers = append(p.Headers, out.Header{Name: h.Name, Value: h.Value})
	}
	if part.Body != nil {
		p.Data = part.Body.Data
	}
	for _, child := range part.Parts {
		p.Parts = append(p.Parts, toMessagePart(child))
	}
	return p
}

// Ensure Adapter implements out.MailboxProvider
var _ out.MailboxProvider = (*Adapter)(nil)
