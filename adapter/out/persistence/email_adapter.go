package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"mailsift/core/domain"
	"mailsift/core/port/out"
)

// EmailAdapter implements out.EmailRepository using PostgreSQL.
type EmailAdapter struct {
	db *sqlx.DB
}

// NewEmailAdapter creates a new EmailAdapter.
func NewEmailAdapter(db *sqlx.DB) *EmailAdapter {
	return &EmailAdapter{db: db}
}

// Exists reports whether the message has already been ingested for the account.
func (a *EmailAdapter) Exists(ctx context.Context, accountID uuid.UUID, messageID string) (bool, error) {
	var exists bool
	query := `
		SELECT EXISTS (
			SELECT 1 FROM emails
			WHERE account_id = $1 AND message_id = $2
		)`

	if err := a.db.GetContext(ctx, &exists, query, accountID, messageID); err != nil {
		return false, err
	}
	return exists, nil
}

// Insert writes the base row. The unique (account_id, message_id) constraint
// makes re-ingestion a no-op: a conflicting insert returns false, nil.
func (a *EmailAdapter) Insert(ctx context.Context, email *domain.Email) (bool, error) {
	query := `
		INSERT INTO emails (message_id, account_id, category_id, received_at,
		                    subject, sender, body_text, summary, summary_created_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (account_id, message_id) DO NOTHING`

	result, err := a.db.ExecContext(ctx, query,
		email.MessageID,
		email.AccountID,
		email.CategoryID,
		email.ReceivedAt,
		email.Subject,
		email.Sender,
		email.BodyText,
		email.Summary,
		email.SummaryCreatedAt,
		email.CreatedAt,
	)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// SetSummary fills the summary field. Without force, a populated summary is
// left untouched so enrichment stays idempotent.
func (a *EmailAdapter) SetSummary(ctx context.Context, accountID uuid.UUID, messageID, summary string, force bool) error {
	query := `
		UPDATE emails
		SET summary = $1, summary_created_at = $2
		WHERE account_id = $3 AND message_id = $4`
	if !force {
		query += ` AND summary IS NULL`
	}

	_, err := a.db.ExecContext(ctx, query, summary, time.Now(), accountID, messageID)
	return err
}

// SetCategory fills the category field. Without force, an assigned category is
// left untouched.
func (a *EmailAdapter) SetCategory(ctx context.Context, accountID uuid.UUID, messageID string, categoryID uuid.UUID, force bool) error {
	query := `
		UPDATE emails
		SET category_id = $1
		WHERE account_id = $2 AND message_id = $3`
	if !force {
		query += ` AND category_id IS NULL`
	}

	_, err := a.db.ExecContext(ctx, query, categoryID, accountID, messageID)
	return err
}

// GetByID returns one ingested email.
func (a *EmailAdapter) GetByID(ctx context.Context, accountID uuid.UUID, messageID string) (*domain.Email, error) {
	var email domain.Email
	query := `
		SELECT message_id, account_id, category_id, received_at,
		       subject, sender, body_text, summary, summary_created_at, created_at
		FROM emails
		WHERE account_id = $1 AND message_id = $2`

	if err := a.db.GetContext(ctx, &email, query, accountID, messageID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &email, nil
}

// ListByAccount returns the account's emails, newest first.
func (a *EmailAdapter) ListByAccount(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*domain.Email, error) {
	var emails []*domain.Email
	query := `
		SELECT message_id, account_id, category_id, received_at,
		       subject, sender, body_text, summary, summary_created_at, created_at
		FROM emails
		WHERE account_id = $1
		ORDER BY received_at DESC
		LIMIT $2 OFFSET $3`

	if err := a.db.SelectContext(ctx, &emails, query, accountID, limit, offset); err != nil {
		return nil, err
	}
	return emails, nil
}

// Ensure EmailAdapter implements out.EmailRepository
var _ out.EmailRepository = (*EmailAdapter)(nil)
