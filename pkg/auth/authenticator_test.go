package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethpandaops/gymdesk/pkg/api/store"
	"github.com/ethpandaops/gymdesk/pkg/kv"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type fakeCreds struct {
	mu      sync.Mutex
	admins  map[string]*store.Admin
	failGet bool
}

func (f *fakeCreds) GetAdminByUsername(_ context.Context, username string) (*store.Admin, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failGet {
		return nil, errors.New("connection refused")
	}

	a, ok := f.admins[username]
	if !ok {
		return nil, store.ErrNotFound
	}

	clone := *a

	return &clone, nil
}

func (f *fakeCreds) byID(id uint) *store.Admin {
	for _, a := range f.admins {
		if a.ID == id {
			return a
		}
	}

	return nil
}

func (f *fakeCreds) UpdateAdminLastLogin(_ context.Context, id uint, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	a := f.byID(id)
	if a == nil {
		return store.ErrNotFound
	}

	a.LastLogin = &at

	return nil
}

func (f *fakeCreds) UpdateAdminPassword(_ context.Context, id uint, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	a := f.byID(id)
	if a == nil {
		return store.ErrNotFound
	}

	a.PasswordHash = hash

	return nil
}

func mustHash(t *testing.T, s string) string {
	t.Helper()

	h, err := bcrypt.GenerateFromPassword([]byte(s), bcrypt.MinCost)
	require.NoError(t, err)

	return string(h)
}

type fixture struct {
	auth  *Authenticator
	creds *fakeCreds
	clock *testClock
}

func newFixture(t *testing.T, secret string, isAdmin bool) *fixture {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	clock := newTestClock()
	creds := &fakeCreds{admins: map[string]*store.Admin{
		"owner": {
			ID:              1,
			Username:        "owner",
			PasswordHash:    mustHash(t, "Correct-Horse-9"),
			RecoveryKeyHash: mustHash(t, "recovery-phrase"),
			IsAdmin:         isAdmin,
		},
	}}

	a := NewAuthenticator(
		log,
		creds,
		NewTokenIssuer(secret, 4*time.Hour, clock.Now),
		NewCSRFService(kv.NewMemoryStore(clock.Now), time.Hour),
		20*time.Millisecond,
	)

	return &fixture{auth: a, creds: creds, clock: clock}
}

func TestAuthenticate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "secret", true)

	session, err := f.auth.Authenticate(ctx, Credentials{
		Username: "  owner ",
		Password: "Correct-Horse-9",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, session.Token)
	assert.NotEmpty(t, session.CSRFToken)
	assert.Equal(t, Principal{ID: 1, Username: "owner", IsAdmin: true}, session.Principal)
	assert.True(t, f.clock.now.Add(4*time.Hour).Equal(session.ExpiresAt))

	require.NotNil(t, f.creds.admins["owner"].LastLogin)
	assert.True(t, f.clock.now.Equal(*f.creds.admins["owner"].LastLogin))

	claims, err := f.auth.Verify(session.Token)
	require.NoError(t, err)
	assert.Equal(t, session.Claims.ID, claims.ID)
}

func TestAuthenticate_Failures(t *testing.T) {
	tests := []struct {
		name    string
		secret  string
		creds   Credentials
		failGet bool
		wantErr error
	}{
		{
			name:    "wrong password",
			secret:  "secret",
			creds:   Credentials{Username: "owner", Password: "wrong"},
			wantErr: ErrInvalidCredentials,
		},
		{
			name:    "unknown user",
			secret:  "secret",
			creds:   Credentials{Username: "nobody", Password: "Correct-Horse-9"},
			wantErr: ErrInvalidCredentials,
		},
		{
			name:    "empty password",
			secret:  "secret",
			creds:   Credentials{Username: "owner"},
			wantErr: ErrInvalidCredentials,
		},
		{
			name:    "missing secret",
			secret:  "",
			creds:   Credentials{Username: "owner", Password: "Correct-Horse-9"},
			wantErr: ErrServerMisconfigured,
		},
		{
			name:    "store down",
			secret:  "secret",
			creds:   Credentials{Username: "owner", Password: "Correct-Horse-9"},
			failGet: true,
			wantErr: ErrPersistenceUnavailable,
		},
		{
			name:   "weak new password",
			secret: "secret",
			creds: Credentials{
				Username: "owner", Password: "Correct-Horse-9", NewPassword: "short",
			},
			wantErr: ErrWeakPassword,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.secret, true)
			f.creds.failGet = tt.failGet

			_, err := f.auth.Authenticate(context.Background(), tt.creds)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, f.creds.admins["owner"].LastLogin)
		})
	}
}

func TestAuthenticate_RotatesPassword(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "secret", true)

	_, err := f.auth.Authenticate(ctx, Credentials{
		Username:    "owner",
		Password:    "Correct-Horse-9",
		NewPassword: "Battery-Staple-7",
	})
	require.NoError(t, err)

	_, err = f.auth.Authenticate(ctx, Credentials{Username: "owner", Password: "Correct-Horse-9"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = f.auth.Authenticate(ctx, Credentials{Username: "owner", Password: "Battery-Staple-7"})
	assert.NoError(t, err)
}

func TestVerify_NonAdmin(t *testing.T) {
	f := newFixture(t, "secret", false)

	session, err := f.auth.Authenticate(context.Background(), Credentials{
		Username: "owner", Password: "Correct-Horse-9",
	})
	require.NoError(t, err)

	_, err = f.auth.Verify(session.Token)
	assert.ErrorIs(t, err, ErrInsufficientPrivilege)
}

func TestAuthorizeMutation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "secret", true)

	session, err := f.auth.Authenticate(ctx, Credentials{
		Username: "owner", Password: "Correct-Horse-9",
	})
	require.NoError(t, err)

	other, err := f.auth.Authenticate(ctx, Credentials{
		Username: "owner", Password: "Correct-Horse-9",
	})
	require.NoError(t, err)

	tests := []struct {
		name    string
		session string
		csrf    string
		wantErr error
	}{
		{name: "ok", session: session.Token, csrf: session.CSRFToken},
		{name: "no session", session: "", csrf: session.CSRFToken, wantErr: ErrAuthenticationRequired},
		{name: "bad session", session: "garbage", csrf: session.CSRFToken, wantErr: ErrInvalidOrExpiredToken},
		{name: "no csrf", session: session.Token, csrf: "", wantErr: ErrMissingCSRFToken},
		{name: "wrong csrf", session: session.Token, csrf: "deadbeef", wantErr: ErrInvalidCSRFToken},
		{name: "csrf of another session", session: session.Token, csrf: other.CSRFToken, wantErr: ErrInvalidCSRFToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := f.auth.AuthorizeMutation(ctx, tt.session, tt.csrf)
			if tt.wantErr == nil {
				require.NoError(t, err)
				assert.Equal(t, session.Claims.ID, claims.ID)

				return
			}

			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	require.NoError(t, f.auth.Logout(ctx, session.Claims))

	_, err = f.auth.AuthorizeMutation(ctx, session.Token, session.CSRFToken)
	assert.ErrorIs(t, err, ErrInvalidCSRFToken, "logout revokes the csrf token")

	refreshed, err := f.auth.RefreshCSRF(ctx, session.Claims)
	require.NoError(t, err)

	_, err = f.auth.AuthorizeMutation(ctx, session.Token, refreshed)
	assert.NoError(t, err)
}

func TestRecover(t *testing.T) {
	ctx := context.Background()

	t.Run("valid key resets password", func(t *testing.T) {
		f := newFixture(t, "secret", true)

		require.NoError(t, f.auth.Recover(ctx, "owner", "recovery-phrase", "Battery-Staple-7"))

		_, err := f.auth.Authenticate(ctx, Credentials{Username: "owner", Password: "Battery-Staple-7"})
		assert.NoError(t, err)
	})

	t.Run("wrong key and unknown user fail identically", func(t *testing.T) {
		f := newFixture(t, "secret", true)

		errWrongKey := f.auth.Recover(ctx, "owner", "guess", "Battery-Staple-7")

		start := time.Now()
		errUnknown := f.auth.Recover(ctx, "nobody", "guess", "Battery-Staple-7")
		elapsed := time.Since(start)

		assert.ErrorIs(t, errWrongKey, ErrInvalidCredentials)
		assert.ErrorIs(t, errUnknown, ErrInvalidCredentials)
		assert.Equal(t, errWrongKey.Error(), errUnknown.Error())
		assert.GreaterOrEqual(t, elapsed, 20*time.Millisecond, "unknown user path is delayed")
	})

	t.Run("weak password rejected before lookup", func(t *testing.T) {
		f := newFixture(t, "secret", true)

		err := f.auth.Recover(ctx, "owner", "recovery-phrase", "weak")
		assert.ErrorIs(t, err, ErrWeakPassword)
	})

	t.Run("no recovery key configured", func(t *testing.T) {
		f := newFixture(t, "secret", true)
		f.creds.admins["owner"].RecoveryKeyHash = ""

		err := f.auth.Recover(ctx, "owner", "recovery-phrase", "Battery-Staple-7")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})
}
