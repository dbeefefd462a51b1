// Package auth implements the OAuth credential lifecycle for mailbox accounts.
package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/sync/singleflight"

	"mailsift/adapter/out/persistence"
	"mailsift/config"
	"mailsift/core/domain"
	"mailsift/core/port/in"
	"mailsift/core/port/out"
	"mailsift/pkg/apperr"
	"mailsift/pkg/logger"
)

const (
	// Refresh ahead of expiry so a token never dies mid-run.
	expirySkew = 5 * time.Minute

	userinfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

	gmailReadonlyScope = "https://www.googleapis.com/auth/gmail.readonly"
	userinfoEmailScope = "https://www.googleapis.com/auth/userinfo.email"
)

// Service owns token storage and refresh. All token mutation funnels through
// here; concurrent refreshes for one account collapse into a single exchange.
type Service struct {
	oauth    *oauth2.Config
	accounts out.AccountRepository
	group    singleflight.Group
	log      *logger.Logger
}

// NewService creates the credential service from OAuth client settings.
func NewService(cfg *config.Config, accounts out.AccountRepository) *Service {
	return &Service{
		oauth: &oauth2.Config{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
			Scopes:       []string{gmailReadonlyScope, userinfoEmailScope},
			Endpoint:     google.Endpoint,
		},
		accounts: accounts,
		log:      logger.Default().WithField("component", "credentials"),
	}
}

// AuthCodeURL returns the Google consent URL for the given state.
func (s *Service) AuthCodeURL(state string) (string, error) {
	if s.oauth.ClientID == "" || s.oauth.ClientSecret == "" {
		return "", apperr.ConfigError("google oauth client is not configured")
	}
	// Offline access with forced consent so Google always issues a refresh token.
	return s.oauth.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
	), nil
}

// CompleteAuthorization exchanges the callback code for a token pair, resolves
// the mailbox address and stores the tokens on a new or existing account.
func (s *Service) CompleteAuthorization(ctx context.Context, code string) (*domain.Account, error) {
	token, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, apperr.OAuthFailed(err)
	}

	emailAddress, err := s.fetchEmailAddress(ctx, token)
	if err != nil {
		return nil, apperr.OAuthFailed(err)
	}

	expiresAt := tokenExpiry(token)

	existing, err := s.accounts.GetByEmail(ctx, emailAddress)
	switch {
	case err == nil:
		// Re-connecting. Google omits the refresh token on repeat grants when
		// consent was not re-prompted; keep the stored one in that case.
		refreshToken := token.RefreshToken
		if refreshToken == "" {
			refreshToken = existing.RefreshToken
		}
		if err := s.accounts.UpdateTokens(ctx, existing.ID, token.AccessToken, refreshToken, expiresAt); err != nil {
			return nil, apperr.DatabaseError("update account tokens", err)
		}
		existing.AccessToken = token.AccessToken
		existing.RefreshToken = refreshToken
		existing.TokenExpiresAt = expiresAt
		existing.NeedsReauth = false
		s.log.WithField("account_id", existing.ID.String()).Info("mailbox re-authorized")
		return existing, nil

	case isNotFound(err):
		now := time.Now()
		account := &domain.Account{
			ID:             uuid.New(),
			EmailAddress:   emailAddress,
			AccessToken:    token.AccessToken,
			RefreshToken:   token.RefreshToken,
			TokenExpiresAt: expiresAt,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := s.accounts.Create(ctx, account); err != nil {
			return nil, apperr.DatabaseError("create account", err)
		}
		s.log.WithField("account_id", account.ID.String()).Info("mailbox connected")
		return account, nil

	default:
		return nil, apperr.DatabaseError("lookup account", err)
	}
}

// GetValidAccessToken returns a usable access token for the account,
// refreshing it when expired or near expiry.
func (s *Service) GetValidAccessToken(ctx context.Context, accountID uuid.UUID) (string, error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		if isNotFound(err) {
			return "", apperr.NotFound("account")
		}
		return "", apperr.DatabaseError("lookup account", err)
	}

	if account.NeedsReauth {
		return "", apperr.ReauthRequired(accountID.String())
	}
	if !account.TokenExpired(expirySkew) {
		return account.AccessToken, nil
	}
	return s.refresh(ctx, account)
}

// Invalidate forces one refresh after a caller saw the provider reject the
// current token despite an unexpired stored expiry.
func (s *Service) Invalidate(ctx context.Context, accountID uuid.UUID) (string, error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		if isNotFound(err) {
			return "", apperr.NotFound("account")
		}
		return "", apperr.DatabaseError("lookup account", err)
	}
	if account.NeedsReauth {
		return "", apperr.ReauthRequired(accountID.String())
	}
	return s.refresh(ctx, account)
}

// refresh exchanges the refresh token for a new access token. Concurrent
// callers for the same account share one exchange via singleflight.
func (s *Service) refresh(ctx context.Context, account *domain.Account) (string, error) {
	result, err, _ := s.group.Do(account.ID.String(), func() (interface{}, error) {
		if account.RefreshToken == "" {
			return nil, s.reauthRequired(ctx, account.ID, errors.New("no refresh token stored"))
		}

		src := s.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: account.RefreshToken})
		token, err := src.Token()
		if err != nil {
			if isInvalidGrant(err) {
				return nil, s.reauthRequired(ctx, account.ID, err)
			}
			return nil, apperr.ExternalError("google oauth", fmt.Errorf("refresh token exchange: %w", err))
		}

		refreshToken := token.RefreshToken
		if refreshToken == "" {
			refreshToken = account.RefreshToken
		}
		if err := s.accounts.UpdateTokens(ctx, account.ID, token.AccessToken, refreshToken, tokenExpiry(token)); err != nil {
			return nil, apperr.DatabaseError("update account tokens", err)
		}

		s.log.WithField("account_id", account.ID.String()).Debug("access token refreshed")
		return token.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// reauthRequired marks the account and returns the terminal error. The flag
// stops every automated retry until a human re-grants consent.
func (s *Service) reauthRequired(ctx context.Context, accountID uuid.UUID, cause error) error {
	s.log.WithField("account_id", accountID.String()).WithError(cause).Warn("refresh token rejected, marking account for re-auth")
	if err := s.accounts.MarkNeedsReauth(ctx, accountID); err != nil {
		s.log.WithField("account_id", accountID.String()).WithError(err).Error("failed to mark account for re-auth")
	}
	return apperr.ReauthRequired(accountID.String()).WithError(cause)
}

func (s *Service) fetchEmailAddress(ctx context.Context, token *oauth2.Token) (string, error) {
	client := s.oauth.Client(ctx, token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, userinfoURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch userinfo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("userinfo returned %d: %s", resp.StatusCode, string(body))
	}

	var info struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", fmt.Errorf("decode userinfo: %w", err)
	}
	if info.Email == "" {
		return "", errors.New("userinfo response contained no email address")
	}
	return info.Email, nil
}

func tokenExpiry(token *oauth2.Token) *time.Time {
	if token.Expiry.IsZero() {
		return nil
	}
	expiry := token.Expiry
	return &expiry
}

// isInvalidGrant detects a revoked or expired refresh token. Google reports it
// as OAuth error "invalid_grant" with HTTP 400.
func isInvalidGrant(err error) bool {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if retrieveErr.ErrorCode == "invalid_grant" {
			return true
		}
		return strings.Contains(string(retrieveErr.Body), "invalid_grant")
	}
	return false
}

func isNotFound(err error) bool {
	return errors.Is(err, persistence.ErrNotFound)
}

// Ensure Service implements in.CredentialService
var _ in.CredentialService = (*Service)(nil)
