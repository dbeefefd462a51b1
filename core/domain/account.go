// Package domain contains the core business entities.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Account is a connected Gmail mailbox. Created on first successful
// authorization; token fields are mutated only by the credential service.
type Account struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	EmailAddress   string     `db:"email_address" json:"email_address"`
	AccessToken    string     `db:"access_token" json:"-"`
	RefreshToken   string     `db:"refresh_token" json:"-"`
	TokenExpiresAt *time.Time `db:"token_expires_at" json:"-"`
	NeedsReauth    bool       `db:"needs_reauth" json:"needs_reauth"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// TokenExpired reports whether the stored access token is expired or will
// expire within the given skew window. A nil expiry means the provider gave
// no lifetime and the token is used until it is rejected.
func (a *Account) TokenExpired(skew time.Duration) bool {
	if a.TokenExpiresAt == nil {
		return false
	}
	return time.Until(*a.TokenExpiresAt) < skew
}

// Category is a user-defined classification bucket owned by one account.
type Category struct {
	ID          uuid.UUID `db:"id" json:"id"`
	AccountID   uuid.UUID `db:"account_id" json:"account_id"`
	Name        string    `db:"name" json:"name"`
	Description string    `db:"description" json:"description"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}
