// Package auth verifies caller identity for gateway requests.
package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is the authenticated caller.
type Identity struct {
	UserID string
	Email  string
}

type ctxKey struct{}

func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

func IdentityFrom(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(*Identity)
	return id, ok && id != nil
}

// ParseBearer extracts the bearer token from an Authorization header.
func ParseBearer(r *http.Request) (string, bool) {
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if authz == "" {
		return "", false
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(authz, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authz, prefix))
	if token == "" {
		return "", false
	}
	return token, true
}

// Verifier resolves a bearer token to an identity.
type Verifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

// Claims is the only supported JWT claims shape for this service.
// Token issuance happens in the account service; the gateway only verifies.
type Claims struct {
	jwt.RegisteredClaims

	UserID string `json:"user_id,omitempty"`
	Email  string `json:"email,omitempty"`
}

// JWTVerifier verifies HS256 bearer tokens. When a Directory is set,
// the token subject must resolve to a known user.
type JWTVerifier struct {
	secret    []byte
	directory Directory
}

func NewJWTVerifier(secret string, directory Directory) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret), directory: directory}
}

func (v *JWTVerifier) Verify(ctx context.Context, token string) (*Identity, error) {
	var claims Claims

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if _, err := parser.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}); err != nil {
		return nil, err
	}

	userID := claims.UserID
	if userID == "" {
		userID = claims.Subject
	}
	if userID == "" {
		return nil, jwt.ErrTokenInvalidClaims
	}

	id := &Identity{UserID: userID, Email: claims.Email}
	if v.directory != nil {
		user, err := v.directory.LookupUser(ctx, userID)
		if err != nil {
			return nil, err
		}
		if id.Email == "" {
			id.Email = user.Email
		}
	}
	return id, nil
}

// StaticVerifier maps fixed tokens onto identities. Test and
// auth-disabled use only.
type StaticVerifier map[string]Identity

func (s StaticVerifier) Verify(ctx context.Context, token string) (*Identity, error) {
	id, ok := s[token]
	if !ok {
		return nil, jwt.ErrTokenMalformed
	}
	return &id, nil
}
