package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Shivanand-hulikatti/volunteer-signup/internal/model"
)

// RoleAdmin may administer events and other volunteers' registrations.
const RoleAdmin = "admin"

// Claims are the bearer token claims: the subject is the volunteer ID.
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Identity is the authenticated caller.
type Identity struct {
	VolunteerID string
	Role        string
}

// IsAdmin reports whether the caller holds the admin role.
func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// CanActFor reports whether the caller may act on volunteerID's records.
func (i Identity) CanActFor(volunteerID string) bool {
	return i.IsAdmin() || i.VolunteerID == volunteerID
}

type identityKey struct{}

// IdentityFrom returns the identity attached by Authenticator.Require.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// Authenticator verifies HMAC-signed bearer tokens.
type Authenticator struct {
	secret []byte
}

// NewAuthenticator returns an Authenticator for secret.
func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// Require rejects requests without a valid bearer token and attaches the
// caller's Identity to the request context.
func (a *Authenticator) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeError(w, fmt.Errorf("%w: missing Authorization header", model.ErrUnauthorized))
			return
		}
		// Expect: "Bearer token"
		tokenString, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok {
			writeError(w, fmt.Errorf("%w: invalid token format", model.ErrUnauthorized))
			return
		}

		id, err := a.Parse(tokenString)
		if err != nil {
			writeError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, id)))
	})
}

// RequireAdmin must run after Require.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := IdentityFrom(r.Context())
		if !ok {
			writeError(w, model.ErrUnauthorized)
			return
		}
		if !id.IsAdmin() {
			writeError(w, fmt.Errorf("%w: admin role required", model.ErrForbidden))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Parse validates tokenString and returns the identity it carries.
func (a *Authenticator) Parse(tokenString string) (Identity, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return Identity{}, fmt.Errorf("%w: invalid token", model.ErrUnauthorized)
	}
	if claims.Subject == "" {
		return Identity{}, fmt.Errorf("%w: token has no subject", model.ErrUnauthorized)
	}
	return Identity{VolunteerID: claims.Subject, Role: claims.Role}, nil
}

// Issue signs a token for volunteerID valid for ttl.
func (a *Authenticator) Issue(volunteerID, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   volunteerID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}
