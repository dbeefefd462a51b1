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
	"mailsift/pkg/crypto"
	"mailsift/pkg/logger"
)

// AccountAdapter implements out.AccountRepository using PostgreSQL. OAuth
// tokens are encrypted at rest when an encryption key is configured.
type AccountAdapter struct {
	db                *sqlx.DB
	encryptionEnabled bool
}

// NewAccountAdapter creates a new AccountAdapter.
func NewAccountAdapter(db *sqlx.DB) *AccountAdapter {
	err := crypto.Init()
	encryptionEnabled := err == nil
	if !encryptionEnabled {
		logger.Warn("Token encryption disabled: %v", err)
	}
	return &AccountAdapter{db: db, encryptionEnabled: encryptionEnabled}
}

// encryptToken encrypts a token if encryption is enabled.
func (a *AccountAdapter) encryptToken(token string) string {
	if !a.encryptionEnabled || token == "" {
		return token
	}
	encrypted, err := crypto.Encrypt(token)
	if err != nil {
		logger.Warn("Failed to encrypt token: %v", err)
		return token
	}
	return encrypted
}

// decryptToken decrypts a token if it appears to be encrypted, so rows
// written before the key was configured still load.
func (a *AccountAdapter) decryptToken(token string) string {
	if !a.encryptionEnabled || !crypto.IsEncrypted(token) {
		return token
	}
	decrypted, err := crypto.Decrypt(token)
	if err != nil {
		logger.Warn("Failed to decrypt token: %v", err)
		return token
	}
	return decrypted
}

func (a *AccountAdapter) decryptAccount(account *domain.Account) {
	account.AccessToken = a.decryptToken(account.AccessToken)
	account.RefreshToken = a.decryptToken(account.RefreshToken)
}

// GetByID returns an account by ID.
func (a *AccountAdapter) GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	var account domain.Account
	query := `
		SELECT id, email_address, access_token, refresh_token,
		       token_expires_at, needs_reauth, created_at, updated_at
		FROM accounts
		WHERE id = $1`

	if err := a.db.GetContext(ctx, &account, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	a.decryptAccount(&account)
	return &account, nil
}

// GetByEmail returns an account by mailbox address.
func (a *AccountAdapter) GetByEmail(ctx context.Context, emailAddress string) (*domain.Account, error) {
	var account domain.Account
	query := `
		SELECT id, email_address, access_token, refresh_token,
		       token_expires_at, needs_reauth, created_at, updated_at
		FROM accounts
		WHERE email_address = $1`

	if err := a.db.GetContext(ctx, &account, query, emailAddress); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	a.decryptAccount(&account)
	return &account, nil
}

// ListConnected returns every account that can still be synced.
func (a *AccountAdapter) ListConnected(ctx context.Context) ([]*domain.Account, error) {
	var accounts []*domain.Account
	query := `
		SELECT id, email_address, access_token, refresh_token,
		       token_expires_at, needs_reauth, created_at, updated_at
		FROM accounts
		WHERE needs_reauth = false
		ORDER BY created_at`

	if err := a.db.SelectContext(ctx, &accounts, query); err != nil {
		return nil, err
	}
	for _, account := range accounts {
		a.decryptAccount(account)
	}
	return accounts, nil
}

// Create inserts a new account.
func (a *AccountAdapter) Create(ctx context.Context, account *domain.Account) error {
	query := `
		INSERT INTO accounts (id, email_address, access_token, refresh_token,
		                      token_expires_at, needs_reauth, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := a.db.ExecContext(ctx, query,
		account.ID,
		account.EmailAddress,
		a.encryptToken(account.AccessToken),
		a.encryptToken(account.RefreshToken),
		account.TokenExpiresAt,
		account.NeedsReauth,
		account.CreatedAt,
		account.UpdatedAt,
	)
	return err
}

// UpdateTokens persists a fresh token pair and clears the reauth flag.
func (a *AccountAdapter) UpdateTokens(ctx context.Context, id uuid.UUID, accessToken, refreshToken string, expiresAt *time.Time) error {
	query := `
		UPDATE accounts
		SET access_token = $1, refresh_token = $2, token_expires_at = $3,
		    needs_reauth = false, updated_at = $4
		WHERE id = $5`

	_, err := a.db.ExecContext(ctx, query,
		a.encryptToken(accessToken), a.encryptToken(refreshToken), expiresAt, time.Now(), id)
	return err
}

// MarkNeedsReauth flags the account as requiring a new consent grant.
func (a *AccountAdapter) MarkNeedsReauth(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE accounts
		SET needs_reauth = true, updated_at = $1
		WHERE id = $2`

	_, err := a.db.ExecContext(ctx, query, time.Now(), id)
	return err
}

// Ensure AccountAdapter implements out.AccountRepository
var _ out.AccountRepository = (*AccountAdapter)(nil)
