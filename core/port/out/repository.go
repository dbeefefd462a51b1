package out

import (
	"context"
	"time"

	"github.com/google/uuid"

	"mailsift/core/domain"
)

// AccountRepository persists connected mailbox accounts.
type AccountRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	GetByEmail(ctx context.Context, emailAddress string) (*domain.Account, error)
	ListConnected(ctx context.Context) ([]*domain.Account, error)
	Create(ctx context.Context, account *domain.Account) error
	// UpdateTokens persists a fresh token pair and clears the reauth flag.
	UpdateTokens(ctx context.Context, id uuid.UUID, accessToken, refreshToken string, expiresAt *time.Time) error
	// MarkNeedsReauth flags the account until a human re-grants consent.
	MarkNeedsReauth(ctx context.Context, id uuid.UUID) error
}

// CategoryRepository persists user-defined categories.
type CategoryRepository interface {
	ListByAccount(ctx context.Context, accountID uuid.UUID) ([]domain.Category, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Category, error)
	Create(ctx context.Context, category *domain.Category) error
	Update(ctx context.Context, category *domain.Category) error
	// Delete removes the category and clears category_id on every email that
	// referenced it, in one transaction. Emails are never cascade-deleted.
	Delete(ctx context.Context, id uuid.UUID) error
}

// EmailRepository persists ingested messages, keyed by provider message ID.
type EmailRepository interface {
	Exists(ctx context.Context, accountID uuid.UUID, messageID string) (bool, error)
	// Insert writes the base row in its own transaction. Returns false when the
	// (account, message) pair already exists, which is a no-op, not an error.
	Insert(ctx context.Context, email *domain.Email) (bool, error)
	// SetSummary fills the summary field. Unless force is set, a populated
	// summary is left untouched.
	SetSummary(ctx context.Context, accountID uuid.UUID, messageID, summary string, force bool) error
	// SetCategory fills the category field. Unless force is set, a populated
	// category is left untouched.
	SetCategory(ctx context.Context, accountID uuid.UUID, messageID string, categoryID uuid.UUID, force bool) error
	GetByID(ctx context.Context, accountID uuid.UUID, messageID string) (*domain.Email, error)
	ListByAccount(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*domain.Email, error)
}

// TextGenerator is the outbound port for the text-generation backend.
// Stateless, rate-limited, not deterministic.
type TextGenerator interface {
	Generate(ctx context.Context, systemInstruction, userContent string) (string, error)
}
