package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time { return c.now }

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC)}
}

func TestTokenIssuer_RoundTrip(t *testing.T) {
	clock := newTestClock()
	issuer := NewTokenIssuer("super-secret", 4*time.Hour, clock.Now)

	token, issued, err := issuer.Issue(Principal{ID: 7, Username: "owner", IsAdmin: true})
	require.NoError(t, err)
	require.NotEmpty(t, issued.ID)
	assert.True(t, clock.now.Add(4*time.Hour).Equal(issued.ExpiresAt.Time))

	claims, err := issuer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, issued.ID, claims.ID)
	assert.Equal(t, Principal{ID: 7, Username: "owner", IsAdmin: true}, claims.Principal())

	_, second, err := issuer.Issue(Principal{ID: 7, Username: "owner", IsAdmin: true})
	require.NoError(t, err)
	assert.NotEqual(t, issued.ID, second.ID, "every login gets a fresh session id")
}

func TestTokenIssuer_Rejects(t *testing.T) {
	clock := newTestClock()
	issuer := NewTokenIssuer("super-secret", time.Hour, clock.Now)

	valid, _, err := issuer.Issue(Principal{ID: 1, Username: "owner", IsAdmin: true})
	require.NoError(t, err)

	parts := strings.Split(valid, ".")
	require.Len(t, parts, 3)

	flipped := "A"
	if parts[2][0] == 'A' {
		flipped = "B"
	}

	tampered := parts[0] + "." + parts[1] + "." + flipped + parts[2][1:]

	noneToken, err := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        "sid",
			Subject:   "1",
			ExpiresAt: jwt.NewNumericDate(clock.now.Add(time.Hour)),
		},
		IsAdmin: true,
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name    string
		issuer  *TokenIssuer
		token   string
		advance time.Duration
		wantErr error
	}{
		{
			name:    "expired",
			issuer:  issuer,
			token:   valid,
			advance: time.Hour + time.Second,
			wantErr: ErrInvalidOrExpiredToken,
		},
		{
			name:    "wrong secret",
			issuer:  NewTokenIssuer("other-secret", time.Hour, clock.Now),
			token:   valid,
			wantErr: ErrInvalidOrExpiredToken,
		},
		{
			name:    "tampered",
			issuer:  issuer,
			token:   tampered,
			wantErr: ErrInvalidOrExpiredToken,
		},
		{
			name:    "alg none",
			issuer:  issuer,
			token:   noneToken,
			wantErr: ErrInvalidOrExpiredToken,
		},
		{
			name:    "malformed",
			issuer:  issuer,
			token:   "not.a.jwt",
			wantErr: ErrInvalidOrExpiredToken,
		},
		{
			name:    "empty",
			issuer:  issuer,
			token:   "",
			wantErr: ErrAuthenticationRequired,
		},
		{
			name:    "no secret configured",
			issuer:  NewTokenIssuer("", time.Hour, clock.Now),
			token:   valid,
			wantErr: ErrServerMisconfigured,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start := clock.now
			clock.now = clock.now.Add(tt.advance)

			t.Cleanup(func() { clock.now = start })

			_, err := tt.issuer.Verify(tt.token)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestTokenIssuer_IssueWithoutSecret(t *testing.T) {
	_, _, err := NewTokenIssuer("", time.Hour, nil).Issue(Principal{ID: 1})
	assert.ErrorIs(t, err, ErrServerMisconfigured)
}
