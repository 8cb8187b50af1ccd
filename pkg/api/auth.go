package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the bearer-token claims issued by the identity provider.
type Claims struct {
	jwt.RegisteredClaims
	OrgID string   `json:"org_id"`
	Roles []string `json:"roles,omitempty"`
}

// HasRole reports whether the subject carries role.
func (c *Claims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// JWTValidator validates HS256 tokens signed with a secret shared with the
// identity provider.
type JWTValidator struct {
	secret []byte
	leeway time.Duration
}

func NewJWTValidator(secret []byte) (*JWTValidator, error) {
	if len(secret) < 32 {
		return nil, errors.New("jwt secret must be at least 32 bytes")
	}
	return &JWTValidator{secret: secret, leeway: 30 * time.Second}, nil
}

func (v *JWTValidator) Validate(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims,
		func(*jwt.Token) (any, error) { return v.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
	)
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return nil, errors.New("token subject is required")
	}
	if claims.OrgID == "" {
		return nil, errors.New("token org_id is required")
	}
	return claims, nil
}

// Sign issues a token for claims. Used by operators and tests; production
// tokens come from the identity provider.
func (v *JWTValidator) Sign(claims Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

type claimsKey struct{}

// ClaimsFromContext returns the claims attached by Authenticate.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*Claims)
	return c, ok
}

var publicPaths = map[string]bool{
	"/health": true,
}

// Authenticate requires a valid bearer token on every non-public path. A nil
// validator disables authentication.
func Authenticate(v *JWTValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v == nil || publicPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}
			header := r.Header.Get("Authorization")
			if header == "" {
				WriteUnauthorized(w, "Missing Authorization header")
				return
			}
			tokenStr, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || tokenStr == "" {
				WriteUnauthorized(w, "Invalid Authorization header format (expected 'Bearer <token>')")
				return
			}
			claims, err := v.Validate(tokenStr)
			if err != nil {
				WriteUnauthorized(w, "Invalid or expired token")
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
		})
	}
}

// authorizeOrg rejects the request when authentication is on and the caller
// belongs to a different organization than orgID.
func authorizeOrg(w http.ResponseWriter, r *http.Request, orgID string) bool {
	c, ok := ClaimsFromContext(r.Context())
	if !ok {
		return true
	}
	if c.OrgID != orgID {
		WriteErrorR(w, r, http.StatusForbidden, "Forbidden",
			fmt.Sprintf("caller organization %q may not act for organization %q", c.OrgID, orgID))
		return false
	}
	return true
}
