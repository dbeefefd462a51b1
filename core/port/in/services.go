// Package in defines inbound ports (driving ports) for the application.
package in

import (
	"context"

	"github.com/google/uuid"

	"mailsift/core/domain"
)

// CredentialService drives the OAuth consent flow and token lifecycle.
type CredentialService interface {
	// AuthCodeURL returns the provider consent URL for the given state.
	AuthCodeURL(state string) (string, error)
	// CompleteAuthorization exchanges the callback code, resolves the mailbox
	// address and stores the token pair on a new or existing account.
	CompleteAuthorization(ctx context.Context, code string) (*domain.Account, error)
	// GetValidAccessToken returns a usable access token, refreshing if needed.
	GetValidAccessToken(ctx context.Context, accountID uuid.UUID) (string, error)
	// Invalidate forces one refresh after a caller-reported rejection.
	Invalidate(ctx context.Context, accountID uuid.UUID) (string, error)
}

// SyncOptions tunes a single sync run.
type SyncOptions struct {
	// Reenrich overwrites existing summary/category values instead of filling
	// only empty fields.
	Reenrich bool
}

// SyncService triggers ingestion runs. This is the only operation the outer
// API layer needs from the pipeline.
type SyncService interface {
	RunSync(ctx context.Context, accountID uuid.UUID, opts SyncOptions) (*domain.SyncReport, error)
}
