package http

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"mailsift/core/port/in"
	"mailsift/pkg/apperr"
	"mailsift/pkg/response"
)

const (
	oauthStateKey = "oauth:state:"
	oauthStateTTL = 10 * time.Minute
)

// OAuthStateStore stores and validates OAuth state values for CSRF protection.
type OAuthStateStore interface {
	StoreState(ctx context.Context, state string, ttl time.Duration) error
	// ValidateState consumes the state: valid exactly once.
	ValidateState(ctx context.Context, state string) error
}

// RedisStateStore implements OAuthStateStore on Redis.
type RedisStateStore struct {
	rdb *redis.Client
}

func NewRedisStateStore(rdb *redis.Client) *RedisStateStore {
	return &RedisStateStore{rdb: rdb}
}

func (s *RedisStateStore) StoreState(ctx context.Context, state string, ttl time.Duration) error {
	return s.rdb.Set(ctx, oauthStateKey+state, "1", ttl).Err()
}

func (s *RedisStateStore) ValidateState(ctx context.Context, state string) error {
	deleted, err := s.rdb.Del(ctx, oauthStateKey+state).Result()
	if err != nil {
		return err
	}
	if deleted == 0 {
		return fmt.Errorf("unknown or expired state")
	}
	return nil
}

// OAuthHandler drives the mailbox consent flow.
type OAuthHandler struct {
	creds      in.CredentialService
	stateStore OAuthStateStore
}

// NewOAuthHandler creates the handler. stateStore may be nil, which disables
// state validation.
func NewOAuthHandler(creds in.CredentialService, stateStore OAuthStateStore) *OAuthHandler {
	return &OAuthHandler{creds: creds, stateStore: stateStore}
}

func (h *OAuthHandler) Register(app fiber.Router) {
	oauth := app.Group("/oauth")
	oauth.Get("/connect", h.Connect)
	oauth.Get("/callback", h.Callback)
}

// Connect redirects the browser to the Google consent screen.
func (h *OAuthHandler) Connect(c *fiber.Ctx) error {
	state, err := generateSecureState()
	if err != nil {
		return apperr.InternalWithError(err)
	}

	if h.stateStore != nil {
		if err := h.stateStore.StoreState(c.Context(), state, oauthStateTTL); err != nil {
			return apperr.InternalWithError(err)
		}
	}

	url, err := h.creds.AuthCodeURL(state)
	if err != nil {
		return err
	}
	return c.Redirect(url, fiber.StatusTemporaryRedirect)
}

// Callback completes the authorization and stores the account.
func (h *OAuthHandler) Callback(c *fiber.Ctx) error {
	if errParam := c.Query("error"); errParam != "" {
		return apperr.BadRequest("consent denied: " + errParam)
	}

	code := c.Query("code")
	if code == "" {
		return apperr.MissingField("code")
	}

	if h.stateStore != nil {
		if err := h.stateStore.ValidateState(c.Context(), c.Query("state")); err != nil {
			return apperr.Unauthorized("invalid oauth state")
		}
	}

	account, err := h.creds.CompleteAuthorization(c.Context(), code)
	if err != nil {
		return err
	}
	return response.Created(c, account)
}

func generateSecureState() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate secure state: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}
