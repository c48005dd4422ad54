// Package auth issues and verifies admin sessions: credential checks,
// signed session tokens, double-submit CSRF tokens and password recovery.
package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethpandaops/gymdesk/pkg/api/store"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// CredentialStore is the persistence the Authenticator needs.
type CredentialStore interface {
	GetAdminByUsername(ctx context.Context, username string) (*store.Admin, error)
	UpdateAdminLastLogin(ctx context.Context, id uint, at time.Time) error
	UpdateAdminPassword(ctx context.Context, id uint, hash string) error
}

// Credentials is a login attempt. A non-empty NewPassword rotates the
// password after the current one has been verified.
type Credentials struct {
	Username    string
	Password    string
	NewPassword string
}

// Session is the result of a successful login.
type Session struct {
	Token     string
	CSRFToken string
	Claims    *Claims
	Principal Principal
	ExpiresAt time.Time
}

// Authenticator ties the credential store, token issuer and CSRF service
// together.
type Authenticator struct {
	log           logrus.FieldLogger
	creds         CredentialStore
	tokens        *TokenIssuer
	csrf          *CSRFService
	recoveryDelay time.Duration

	dummyOnce sync.Once
	dummyHash []byte
}

// NewAuthenticator creates an Authenticator. recoveryDelay is added to the
// unknown-user recovery path.
func NewAuthenticator(
	log logrus.FieldLogger,
	creds CredentialStore,
	tokens *TokenIssuer,
	csrf *CSRFService,
	recoveryDelay time.Duration,
) *Authenticator {
	return &Authenticator{
		log:           log.WithField("component", "auth"),
		creds:         creds,
		tokens:        tokens,
		csrf:          csrf,
		recoveryDelay: recoveryDelay,
	}
}

// Tokens returns the session token issuer.
func (a *Authenticator) Tokens() *TokenIssuer {
	return a.tokens
}

// Authenticate checks credentials and, on success, records the login and
// returns a fresh session with its CSRF token.
func (a *Authenticator) Authenticate(
	ctx context.Context, c Credentials,
) (*Session, error) {
	if len(a.tokens.secret) == 0 {
		return nil, ErrServerMisconfigured
	}

	username := SanitizeUsername(c.Username)
	if username == "" || c.Password == "" {
		return nil, ErrInvalidCredentials
	}

	if c.NewPassword != "" {
		if err := CheckPasswordPolicy(c.NewPassword); err != nil {
			return nil, err
		}
	}

	admin, err := a.lookup(ctx, username)
	if err != nil {
		return nil, err
	}

	if !checkPassword(admin.PasswordHash, c.Password) {
		return nil, ErrInvalidCredentials
	}

	if c.NewPassword != "" {
		if err := a.setPassword(ctx, admin.ID, c.NewPassword); err != nil {
			return nil, err
		}

		a.log.WithField("admin_id", admin.ID).Info("Password rotated at login")
	}

	if err := a.creds.UpdateAdminLastLogin(ctx, admin.ID, a.tokens.now().UTC()); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistenceUnavailable, err)
	}

	return a.newSession(ctx, Principal{
		ID:       admin.ID,
		Username: admin.Username,
		IsAdmin:  admin.IsAdmin,
	})
}

func (a *Authenticator) newSession(
	ctx context.Context, p Principal,
) (*Session, error) {
	token, claims, err := a.tokens.Issue(p)
	if err != nil {
		return nil, err
	}

	csrfToken, err := a.csrf.Issue(ctx, claims.ID)
	if err != nil {
		return nil, err
	}

	return &Session{
		Token:     token,
		CSRFToken: csrfToken,
		Claims:    claims,
		Principal: p,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// lookup returns the admin for username. An unknown user costs the same
// bcrypt comparison as a wrong password and yields the same error.
func (a *Authenticator) lookup(
	ctx context.Context, username string,
) (*store.Admin, error) {
	admin, err := a.creds.GetAdminByUsername(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		a.burnCompare()

		return nil, ErrInvalidCredentials
	}

	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistenceUnavailable, err)
	}

	return admin, nil
}

// burnCompare runs a bcrypt comparison against a throwaway hash.
func (a *Authenticator) burnCompare() {
	a.dummyOnce.Do(func() {
		secret := make([]byte, 16)
		_, _ = rand.Read(secret)

		a.dummyHash, _ = bcrypt.GenerateFromPassword(secret, bcrypt.DefaultCost)
	})

	_ = bcrypt.CompareHashAndPassword(a.dummyHash, []byte("not-the-password"))
}

// Verify checks a session token and requires the admin flag.
func (a *Authenticator) Verify(token string) (*Claims, error) {
	claims, err := a.tokens.Verify(token)
	if err != nil {
		return nil, err
	}

	if !claims.IsAdmin {
		return nil, ErrInsufficientPrivilege
	}

	return claims, nil
}

// AuthorizeMutation runs the checks that gate a state-changing request, in
// order: session token present, token valid and admin, CSRF token present
// and matching the token's session id.
func (a *Authenticator) AuthorizeMutation(
	ctx context.Context, sessionToken, csrfToken string,
) (*Claims, error) {
	if sessionToken == "" {
		return nil, ErrAuthenticationRequired
	}

	claims, err := a.Verify(sessionToken)
	if err != nil {
		return nil, err
	}

	if csrfToken == "" {
		return nil, ErrMissingCSRFToken
	}

	if !a.csrf.Validate(ctx, claims.ID, csrfToken) {
		return nil, ErrInvalidCSRFToken
	}

	return claims, nil
}

// RefreshCSRF returns the live CSRF token of an existing session, issuing
// a new one once the previous token has expired.
func (a *Authenticator) RefreshCSRF(ctx context.Context, claims *Claims) (string, error) {
	return a.csrf.Ensure(ctx, claims.ID)
}

// Logout revokes the CSRF token of the session. The signed token itself
// stays valid until it expires.
func (a *Authenticator) Logout(ctx context.Context, claims *Claims) error {
	if err := a.csrf.Revoke(ctx, claims.ID); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistenceUnavailable, err)
	}

	return nil
}

// Recover replaces the password of username when recoveryKey matches the
// stored recovery key hash. Unknown users and wrong keys fail identically;
// the unknown-user path is additionally delayed.
func (a *Authenticator) Recover(
	ctx context.Context, username, recoveryKey, newPassword string,
) error {
	username = SanitizeUsername(username)
	if username == "" || recoveryKey == "" {
		return ErrInvalidCredentials
	}

	if err := CheckPasswordPolicy(newPassword); err != nil {
		return err
	}

	admin, err := a.lookup(ctx, username)
	if errors.Is(err, ErrInvalidCredentials) {
		a.delay(ctx)

		return err
	}

	if err != nil {
		return err
	}

	if admin.RecoveryKeyHash == "" {
		a.burnCompare()

		return ErrInvalidCredentials
	}

	if !checkPassword(admin.RecoveryKeyHash, recoveryKey) {
		return ErrInvalidCredentials
	}

	if err := a.setPassword(ctx, admin.ID, newPassword); err != nil {
		return err
	}

	a.log.WithField("admin_id", admin.ID).Info("Password reset via recovery key")

	return nil
}

func (a *Authenticator) setPassword(ctx context.Context, id uint, password string) error {
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}

	if err := a.creds.UpdateAdminPassword(ctx, id, hash); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistenceUnavailable, err)
	}

	return nil
}

func (a *Authenticator) delay(ctx context.Context) {
	if a.recoveryDelay <= 0 {
		return
	}

	timer := time.NewTimer(a.recoveryDelay)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
