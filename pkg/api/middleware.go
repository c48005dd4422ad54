package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/ethpandaops/gymdesk/pkg/auth"
)

type contextKey string

const claimsContextKey contextKey = "claims"

// csrfHeader carries the CSRF token on mutating requests.
const csrfHeader = "X-CSRF-Token"

// csrfExempt lists mutating routes that skip the CSRF check. Login and
// recovery run before a session exists; uploads still require a session.
var csrfExempt = map[string]bool{
	"/api/v1/auth/login":    true,
	"/api/v1/auth/check":    true,
	"/api/v1/auth/recover":  true,
	"/api/v1/admin/uploads": true,
}

// requestLogger logs incoming HTTP requests.
func (s *server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)

		s.log.WithField("method", r.Method).
			WithField("path", r.URL.Path).
			WithField("remote", r.RemoteAddr).
			WithField("duration", time.Since(start)).
			Debug("Request handled")
	})
}

func isMutation(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	default:
		return true
	}
}

// mutationGuard gates every state-changing request on a valid admin
// session and a matching CSRF token. Read-only requests pass untouched.
func (s *server) mutationGuard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isMutation(r.Method) || csrfExempt[r.URL.Path] {
			next.ServeHTTP(w, r)

			return
		}

		sessionToken := s.sessionToken(r)

		// The session is checked before the body is read for a CSRF field.
		if sessionToken == "" {
			s.writeAuthError(w, r, auth.ErrAuthenticationRequired)

			return
		}

		if _, err := s.auth.Verify(sessionToken); err != nil {
			s.writeAuthError(w, r, err)

			return
		}

		csrfToken, err := extractCSRFToken(r)
		if err != nil {
			s.writeError(w, http.StatusRequestEntityTooLarge, "Request body too large")

			return
		}

		claims, err := s.auth.AuthorizeMutation(r.Context(), sessionToken, csrfToken)
		if err != nil {
			s.writeAuthError(w, r, err)

			return
		}

		ctx := context.WithValue(r.Context(), claimsContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireSession requires a valid admin session token. Requests already
// authorized by mutationGuard are passed through.
func (s *server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if claimsFromContext(r.Context()) != nil {
			next.ServeHTTP(w, r)

			return
		}

		token := s.sessionToken(r)
		if token == "" {
			s.writeAuthError(w, r, auth.ErrAuthenticationRequired)

			return
		}

		claims, err := s.auth.Verify(token)
		if err != nil {
			s.writeAuthError(w, r, err)

			return
		}

		ctx := context.WithValue(r.Context(), claimsContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// sessionToken returns the session cookie value, or "".
func (s *server) sessionToken(r *http.Request) string {
	cookie, err := r.Cookie(s.cfg.Auth.CookieName)
	if err != nil {
		return ""
	}

	return cookie.Value
}

// extractCSRFToken takes the token from the X-CSRF-Token header or, failing
// that, from a "csrfToken" field of a JSON body. The body is restored so
// the handler can decode it again.
func extractCSRFToken(r *http.Request) (string, error) {
	if token := r.Header.Get(csrfHeader); token != "" {
		return token, nil
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "application/json" || r.Body == nil {
		return "", nil
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxJSONBody+1))
	if err != nil {
		return "", err
	}

	if len(body) > maxJSONBody {
		return "", errors.New("body too large")
	}

	r.Body = io.NopCloser(bytes.NewReader(body))

	var probe struct {
		CSRFToken string `json:"csrfToken"`
	}

	// Bodies that are not JSON objects simply carry no token.
	_ = json.Unmarshal(body, &probe)

	return probe.CSRFToken, nil
}

// writeAuthError maps auth errors onto statuses with non-revealing
// messages.
func (s *server) writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	log := s.log.WithField("remote", s.clientIP(r)).
		WithField("path", r.URL.Path)

	switch {
	case errors.Is(err, auth.ErrAuthenticationRequired):
		s.writeError(w, http.StatusUnauthorized, "Authentication required")
	case errors.Is(err, auth.ErrInvalidOrExpiredToken):
		log.WithField("event", "invalid_token").Warn("Rejected session token")
		s.writeError(w, http.StatusForbidden, "Invalid or expired token")
	case errors.Is(err, auth.ErrInsufficientPrivilege):
		log.WithField("event", "insufficient_privilege").Warn("Rejected non-admin session")
		s.writeError(w, http.StatusForbidden, "Insufficient privileges")
	case errors.Is(err, auth.ErrMissingCSRFToken), errors.Is(err, auth.ErrInvalidCSRFToken):
		log.WithField("event", "csrf_rejected").Warn("Rejected CSRF token")
		s.writeError(w, http.StatusForbidden, "Invalid or missing CSRF token")
	case errors.Is(err, auth.ErrServerMisconfigured):
		s.log.Error("Session token secret is not configured")
		s.writeError(w, http.StatusInternalServerError, "Server misconfigured")
	default:
		s.writeInternalError(w, r, err, "Authorization failed")
	}
}

// claimsFromContext returns the verified session claims, or nil.
func claimsFromContext(ctx context.Context) *auth.Claims {
	claims, _ := ctx.Value(claimsContextKey).(*auth.Claims)

	return claims
}
