// Package session issues and checks the signed session cookie of the
// portal. The cookie carries a JWT (HS256) naming the user and a CSRF
// token; state-changing requests must echo the token in X-CSRF-Token.
package session

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/dacut/hpc-lab-maker/interfaces"
)

const (
	CookieName = "labportal_session"
	CSRFHeader = "X-CSRF-Token"

	DefaultTTL = 12 * time.Hour
)

var (
	ErrNoSession      = errors.New("no session")
	ErrInvalidSession = errors.New("invalid session")
)

// Claims are the contents of a session token.
type Claims struct {
	Email   string `json:"email"`
	EventID string `json:"event_id"`
	CSRF    string `json:"csrf"`
	jwt.RegisteredClaims
}

// UserLookup re-validates the user named by a session on every request.
type UserLookup func(ctx context.Context, email, eventID string) (*interfaces.User, error)

// Manager signs and verifies session cookies.
type Manager struct {
	key    []byte
	ttl    time.Duration
	secure bool
	log    *slog.Logger

	now func() time.Time
}

// NewManager creates a manager signing with key. secure sets the Secure
// attribute on issued cookies.
func NewManager(key []byte, ttl time.Duration, secure bool, log *slog.Logger) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{key: key, ttl: ttl, secure: secure, log: log, now: time.Now}
}

// Issue sets a fresh session cookie for the user and returns the CSRF
// token bound to it.
func (m *Manager) Issue(w http.ResponseWriter, email, eventID string) (string, error) {
	now := m.now()
	claims := Claims{
		Email:   email,
		EventID: eventID,
		CSRF:    uuid.NewString(),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign session: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		Expires:  now.Add(m.ttl),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return claims.CSRF, nil
}

// Clear expires the session cookie.
func (m *Manager) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Parse verifies the session cookie on r.
func (m *Manager) Parse(r *http.Request) (*Claims, error) {
	cookie, err := r.Cookie(CookieName)
	if err != nil || cookie.Value == "" {
		return nil, ErrNoSession
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(cookie.Value, claims, func(*jwt.Token) (interface{}, error) {
		return m.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSession, err)
	}
	if !token.Valid || claims.Email == "" || claims.EventID == "" {
		return nil, ErrInvalidSession
	}
	return claims, nil
}

type claimsKey struct{}
type userKey struct{}

// ClaimsFromContext returns the session claims stored by RequireSession.
func ClaimsFromContext(ctx context.Context) *Claims {
	claims, _ := ctx.Value(claimsKey{}).(*Claims)
	return claims
}

// UserFromContext returns the user stored by RequireSession.
func UserFromContext(ctx context.Context) *interfaces.User {
	user, _ := ctx.Value(userKey{}).(*interfaces.User)
	return user
}

// RequireSession rejects requests without a valid session. The session's
// user is looked up on every request; a session whose user or event is
// gone is cleared.
func (m *Manager) RequireSession(lookup UserLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := m.Parse(r)
			if err != nil {
				m.log.Debug("Rejected session", "err", err)
				writeError(w, http.StatusUnauthorized, "login required")
				return
			}

			user, err := lookup(r.Context(), claims.Email, claims.EventID)
			if err != nil {
				m.log.Info("Session user no longer valid", slog.String("event_id", claims.EventID), "err", err)
				m.Clear(w)
				writeError(w, http.StatusUnauthorized, "login required")
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey{}, claims)
			ctx = context.WithValue(ctx, userKey{}, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireCSRF rejects unsafe methods whose X-CSRF-Token header does not
// match the session's token. It must run after RequireSession.
func RequireCSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}

		claims := ClaimsFromContext(r.Context())
		got := r.Header.Get(CSRFHeader)
		if claims == nil || got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(claims.CSRF)) != 1 {
			writeError(w, http.StatusForbidden, "CSRF token mismatch")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
