package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ethpandaops/gymdesk/pkg/auth"
)

type loginRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	IsReset     bool   `json:"isReset"`
	NewPassword string `json:"newPassword"`
}

type sessionResponse struct {
	Success   bool           `json:"success"`
	User      auth.Principal `json:"user"`
	CSRFToken string         `json:"csrfToken"`
	ExpiresAt *time.Time     `json:"expiresAt,omitempty"`
}

type recoverRequest struct {
	Username    string `json:"username"`
	RecoveryKey string `json:"recoveryKey"`
	NewPassword string `json:"newPassword"`
}

// checkLimit records an attempt for key and writes a 429 with Retry-After
// when the window is exhausted.
func (s *server) checkLimit(
	w http.ResponseWriter, r *http.Request, key string, limit int, window time.Duration,
) bool {
	res := s.limiter.Check(r.Context(), key, limit, window)
	if res.Allowed {
		return true
	}

	s.log.WithField("event", "rate_limited").
		WithField("key", key).
		Warn("Attempt limit reached")

	w.Header().Set("Retry-After", retryAfterSeconds(res.RetryAfter(s.now())))
	s.writeError(w, http.StatusTooManyRequests, "Too many attempts, please try again later")

	return false
}

func loginKey(ip string) string    { return "login:" + ip }
func recoveryKey(ip string) string { return "recovery:" + ip }

// handleLogin checks credentials and issues the session cookie and CSRF
// token. Attempts are limited per client IP before any credential lookup.
func (s *server) handleLogin(w http.ResponseWriter, r *http.Request) {
	ip := s.clientIP(r)
	limit := s.cfg.Auth.LoginLimit

	if !s.checkLimit(w, r, loginKey(ip), limit.Limit, limit.WindowDuration()) {
		return
	}

	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body")

		return
	}

	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		s.writeError(w, http.StatusBadRequest, "Username and password are required")

		return
	}

	creds := auth.Credentials{Username: req.Username, Password: req.Password}

	if req.IsReset {
		if req.NewPassword == "" {
			s.writeError(w, http.StatusBadRequest, "New password is required")

			return
		}

		creds.NewPassword = req.NewPassword
	}

	session, err := s.auth.Authenticate(r.Context(), creds)
	if err != nil {
		s.writeLoginError(w, r, err)

		return
	}

	s.limiter.Reset(r.Context(), loginKey(ip))
	s.setSessionCookie(w, session.Token)

	s.log.WithField("username", session.Principal.Username).
		WithField("remote", ip).
		Info("Admin logged in")

	writeJSON(w, http.StatusOK, sessionResponse{
		Success:   true,
		User:      session.Principal,
		CSRFToken: session.CSRFToken,
		ExpiresAt: &session.ExpiresAt,
	})
}

func (s *server) writeLoginError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		s.log.WithField("event", "login_failed").
			WithField("remote", s.clientIP(r)).
			Warn("Failed login attempt")
		s.writeError(w, http.StatusUnauthorized, "Invalid credentials")
	case errors.Is(err, auth.ErrWeakPassword):
		s.writeError(w, http.StatusBadRequest, strings.TrimPrefix(
			err.Error(), auth.ErrWeakPassword.Error()+": "))
	case errors.Is(err, auth.ErrServerMisconfigured):
		s.log.Error("Session token secret is not configured")
		s.writeError(w, http.StatusInternalServerError, "Server misconfigured")
	default:
		s.writeInternalError(w, r, err, "Login failed")
	}
}

// handleAuthCheck reports the session held in the cookie and returns its
// CSRF token, issuing a new one if the previous token expired.
func (s *server) handleAuthCheck(w http.ResponseWriter, r *http.Request) {
	claims, err := s.auth.Verify(s.sessionToken(r))
	if err != nil {
		if errors.Is(err, auth.ErrServerMisconfigured) {
			s.writeAuthError(w, r, err)

			return
		}

		s.writeError(w, http.StatusUnauthorized, "Not authenticated")

		return
	}

	csrfToken, err := s.auth.RefreshCSRF(r.Context(), claims)
	if err != nil {
		s.writeInternalError(w, r, err, "Failed to issue CSRF token")

		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{
		Success:   true,
		User:      claims.Principal(),
		CSRFToken: csrfToken,
	})
}

// handleLogout clears the session cookie and revokes the CSRF token.
func (s *server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if claims := claimsFromContext(r.Context()); claims != nil {
		if err := s.auth.Logout(r.Context(), claims); err != nil {
			s.log.WithError(err).Warn("Failed to revoke CSRF token")
		}
	}

	s.clearSessionCookie(w)

	writeJSON(w, http.StatusOK, dataResponse{Success: true})
}

// handleRecover resets the admin password with the recovery key.
func (s *server) handleRecover(w http.ResponseWriter, r *http.Request) {
	limit := s.cfg.Auth.RecoveryLimit

	if !s.checkLimit(w, r, recoveryKey(s.clientIP(r)), limit.Limit, limit.WindowDuration()) {
		return
	}

	var req recoverRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body")

		return
	}

	if strings.TrimSpace(req.Username) == "" || req.RecoveryKey == "" || req.NewPassword == "" {
		s.writeError(w, http.StatusBadRequest,
			"Username, recovery key and new password are required")

		return
	}

	err := s.auth.Recover(r.Context(), req.Username, req.RecoveryKey, req.NewPassword)

	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"message": "Password has been reset",
		})
	case errors.Is(err, auth.ErrInvalidCredentials):
		s.log.WithField("event", "recovery_failed").
			WithField("remote", s.clientIP(r)).
			Warn("Failed password recovery attempt")
		s.writeError(w, http.StatusUnauthorized, "Invalid username or recovery key")
	case errors.Is(err, auth.ErrWeakPassword):
		s.writeError(w, http.StatusBadRequest, strings.TrimPrefix(
			err.Error(), auth.ErrWeakPassword.Error()+": "))
	default:
		s.writeInternalError(w, r, err, "Password recovery failed")
	}
}

func (s *server) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.Auth.CookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.cfg.Server.IsProduction(),
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int(s.auth.Tokens().TTL().Seconds()),
	})
}

func (s *server) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.Auth.CookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   s.cfg.Server.IsProduction(),
		SameSite: http.SameSiteStrictMode,
		MaxAge:   -1,
	})
}

