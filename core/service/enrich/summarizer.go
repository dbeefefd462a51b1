// Package enrich generates summaries and category assignments for parsed
// messages. Enrichment is best-effort: a failure here never blocks ingestion.
package enrich

import (
	"context"
	"fmt"
	"strings"

	"mailsift/core/domain"
	"mailsift/core/port/out"
)

// maxBodyChars bounds how much body text is sent to the backend.
const maxBodyChars = 8000

const summarySystemPrompt = `You summarize emails. Reply with a single concise paragraph of at most three sentences capturing what the email says and what, if anything, the recipient is asked to do. Reply with the summary only, no preamble.`

// Summarizer produces a short natural-language summary per message. One
// attempt per message; the backend's own rate limiting is the only throttle.
type Summarizer struct {
	generator out.TextGenerator
}

// NewSummarizer creates a Summarizer.
func NewSummarizer(generator out.TextGenerator) *Summarizer {
	return &Summarizer{generator: generator}
}

// Summarize returns a summary for the message, or an error the caller records
// as a per-message enrichment failure.
func (s *Summarizer) Summarize(ctx context.Context, msg *domain.ParsedMessage) (string, error) {
	content := fmt.Sprintf("Subject: %s\nFrom: %s\n\n%s",
		msg.Subject, msg.Sender, truncate(msg.Body, maxBodyChars))

	summary, err := s.generator.Generate(ctx, summarySystemPrompt, content)
	if err != nil {
		return "", fmt.Errorf("summarize message %s: %w", msg.MessageID, err)
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return "", fmt.Errorf("summarize message %s: empty completion", msg.MessageID)
	}
	return summary, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
