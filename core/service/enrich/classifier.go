package enrich

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"mailsift/core/domain"
	"mailsift/core/port/out"
	"mailsift/pkg/logger"
)

const classifySystemPrompt = `You classify emails into user-defined categories. You will be given the category list and one email. Reply with exactly one category name from the list, character for character, or the word none if no category fits. Reply with nothing else.`

// Classifier assigns at most one category per message from the account's
// current category list. The list is read live on every call so runs always
// classify against the latest definitions.
type Classifier struct {
	generator  out.TextGenerator
	categories out.CategoryRepository
	log        *logger.Logger
}

// NewClassifier creates a Classifier.
func NewClassifier(generator out.TextGenerator, categories out.CategoryRepository) *Classifier {
	return &Classifier{
		generator:  generator,
		categories: categories,
		log:        logger.Default().WithField("component", "classifier"),
	}
}

// Classify returns the matching category ID, or nil when the account has no
// categories, the backend answers none, or the answer matches no category.
// Only the nil-because-of-error case is reported as a failure.
func (c *Classifier) Classify(ctx context.Context, accountID uuid.UUID, msg *domain.ParsedMessage) (*uuid.UUID, error) {
	categories, err := c.categories.ListByAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	if len(categories) == 0 {
		// Nothing to classify against; skip the backend call entirely.
		return nil, nil
	}

	answer, err := c.generator.Generate(ctx, classifySystemPrompt, c.buildPrompt(categories, msg))
	if err != nil {
		return nil, fmt.Errorf("classify message %s: %w", msg.MessageID, err)
	}

	answer = strings.TrimSpace(answer)
	if answer == "" || strings.EqualFold(answer, "none") {
		return nil, nil
	}

	// Exact, case-sensitive match against the live list. Anything else is
	// treated as no assignment, never as a new category.
	for i := range categories {
		if categories[i].Name == answer {
			return &categories[i].ID, nil
		}
	}

	c.log.WithFields(map[string]interface{}{
		"message_id": msg.MessageID,
		"answer":     answer,
	}).Warn("classifier answer matched no category, leaving unassigned")
	return nil, nil
}

func (c *Classifier) buildPrompt(categories []domain.Category, msg *domain.ParsedMessage) string {
	var b strings.Builder
	b.WriteString("Categories:\n")
	for _, cat := range categories {
		if cat.Description != "" {
			fmt.Fprintf(&b, "- %s: %s\n", cat.Name, cat.Description)
		} else {
			fmt.Fprintf(&b, "- %s\n", cat.Name)
		}
	}
	fmt.Fprintf(&b, "\nEmail:\nSubject: %s\nFrom: %s\n\n%s",
		msg.Subject, msg.Sender, truncate(msg.Body, maxBodyChars))
	return b.String()
}
