package auth

import (
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims are carried by a signed session token. ID (jti) is the session id
// that CSRF tokens are bound to.
type Claims struct {
	jwt.RegisteredClaims
	Username string `json:"username"`
	IsAdmin  bool   `json:"isAdmin"`
}

// AdminID returns the principal id stored in the subject claim.
func (c *Claims) AdminID() (uint, error) {
	id, err := strconv.ParseUint(c.Subject, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad subject", ErrInvalidOrExpiredToken)
	}

	return uint(id), nil
}

// Principal returns the non-secret summary of the token holder.
func (c *Claims) Principal() Principal {
	id, _ := c.AdminID()

	return Principal{ID: id, Username: c.Username, IsAdmin: c.IsAdmin}
}

// Principal is the public view of the authenticated admin.
type Principal struct {
	ID       uint   `json:"id"`
	Username string `json:"username"`
	IsAdmin  bool   `json:"isAdmin"`
}

// TokenIssuer signs and verifies HS256 session tokens.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer creates a TokenIssuer. A nil now uses time.Now.
func NewTokenIssuer(
	secret string, ttl time.Duration, now func() time.Time,
) *TokenIssuer {
	if now == nil {
		now = time.Now
	}

	return &TokenIssuer{
		secret: []byte(secret),
		ttl:    ttl,
		now:    now,
	}
}

// TTL returns the session lifetime, which the cookie max-age must match.
func (i *TokenIssuer) TTL() time.Duration {
	return i.ttl
}

// Issue mints a token for the principal with a fresh session id.
func (i *TokenIssuer) Issue(p Principal) (string, *Claims, error) {
	if len(i.secret) == 0 {
		return "", nil, ErrServerMisconfigured
	}

	now := i.now()

	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   strconv.FormatUint(uint64(p.ID), 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
		Username: p.Username,
		IsAdmin:  p.IsAdmin,
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).
		SignedString(i.secret)
	if err != nil {
		return "", nil, fmt.Errorf("signing session token: %w", err)
	}

	return token, claims, nil
}

// Verify checks signature, algorithm and expiry and returns the claims.
func (i *TokenIssuer) Verify(token string) (*Claims, error) {
	if len(i.secret) == 0 {
		return nil, ErrServerMisconfigured
	}

	if token == "" {
		return nil, ErrAuthenticationRequired
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)

	claims := &Claims{}

	if _, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidOrExpiredToken, err)
	}

	if claims.ID == "" {
		return nil, fmt.Errorf("%w: missing session id", ErrInvalidOrExpiredToken)
	}

	return claims, nil
}
