package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/ethpandaops/gymdesk/pkg/kv"
)

const csrfTokenBytes = 32

// CSRFService issues and validates double-submit tokens bound to a session
// id. At most one token is live per session; reissuing overwrites it.
type CSRFService struct {
	store kv.Store
	ttl   time.Duration
}

// NewCSRFService creates a CSRFService storing tokens in store.
func NewCSRFService(store kv.Store, ttl time.Duration) *CSRFService {
	return &CSRFService{store: store, ttl: ttl}
}

func csrfKey(sessionID string) string {
	return "csrf:" + sessionID
}

// Issue generates a fresh token for sessionID, replacing any prior one.
func (c *CSRFService) Issue(ctx context.Context, sessionID string) (string, error) {
	if sessionID == "" {
		return "", fmt.Errorf("%w: empty session id", ErrInvalidOrExpiredToken)
	}

	b := make([]byte, csrfTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating random bytes: %w", err)
	}

	token := hex.EncodeToString(b)

	if err := c.store.Set(ctx, csrfKey(sessionID), token, c.ttl); err != nil {
		return "", fmt.Errorf("%w: storing csrf token: %w", ErrPersistenceUnavailable, err)
	}

	return token, nil
}

// Ensure returns the live token for sessionID, issuing one if none exists.
func (c *CSRFService) Ensure(ctx context.Context, sessionID string) (string, error) {
	token, ok, err := c.store.Get(ctx, csrfKey(sessionID))
	if err == nil && ok {
		return token, nil
	}

	return c.Issue(ctx, sessionID)
}

// Validate reports whether supplied matches the live token for sessionID.
// Missing input, an expired entry or a store failure all yield false.
func (c *CSRFService) Validate(ctx context.Context, sessionID, supplied string) bool {
	if sessionID == "" || supplied == "" {
		return false
	}

	stored, ok, err := c.store.Get(ctx, csrfKey(sessionID))
	if err != nil || !ok {
		return false
	}

	return subtle.ConstantTimeCompare([]byte(stored), []byte(supplied)) == 1
}

// Revoke deletes the token for sessionID.
func (c *CSRFService) Revoke(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}

	return c.store.Delete(ctx, csrfKey(sessionID))
}
