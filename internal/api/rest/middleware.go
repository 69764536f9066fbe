package rest

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type contextKey string

const principalKey contextKey = "principal_id"

// Authenticator extracts the calling principal's ID from each request.
// With a JWT secret configured it requires a Bearer token whose subject
// is the principal UUID; without one it trusts the X-Principal-ID
// header, for deployments behind an authenticating proxy.
type Authenticator struct {
	secret []byte
}

// NewAuthenticator creates an authenticator. An empty secret enables
// trusted-header mode.
func NewAuthenticator(secret []byte) *Authenticator {
	return &Authenticator{secret: secret}
}

// Middleware attaches the principal ID to the request context, or
// rejects the request with 401 if no identity can be established
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principalID, err := a.principalID(r)
		if err != nil {
			WriteError(w, http.StatusUnauthorized, err.Error())
			return
		}
		ctx := context.WithValue(r.Context(), principalKey, principalID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Authenticator) principalID(r *http.Request) (uuid.UUID, error) {
	if len(a.secret) == 0 {
		raw := r.Header.Get("X-Principal-ID")
		if raw == "" {
			return uuid.Nil, fmt.Errorf("missing X-Principal-ID header")
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return uuid.Nil, fmt.Errorf("invalid principal id")
		}
		return id, nil
	}

	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return uuid.Nil, fmt.Errorf("missing bearer token")
	}
	tokenStr := strings.TrimPrefix(auth, "Bearer ")

	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return uuid.Nil, fmt.Errorf("invalid token")
	}

	subject, err := token.Claims.GetSubject()
	if err != nil || subject == "" {
		return uuid.Nil, fmt.Errorf("token has no subject")
	}
	id, err := uuid.Parse(subject)
	if err != nil {
		return uuid.Nil, fmt.Errorf("token subject is not a principal id")
	}
	return id, nil
}

// PrincipalFromContext returns the authenticated principal's ID
func PrincipalFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(principalKey).(uuid.UUID)
	return id, ok
}
