package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/example/roadassist/internal/apperr"
)

type Role string

const (
	RoleCustomer Role = "customer"
	RoleProvider Role = "provider"
	RoleAdmin    Role = "admin"
)

func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleCustomer, RoleProvider, RoleAdmin:
		return Role(s), true
	}
	return "", false
}

// Identity is the authenticated caller every operation receives.
type Identity struct {
	UserID string
	Role   Role
}

type Claims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// Gate validates bearer tokens. Token issuance belongs to the identity
// service; only the consumption contract lives here.
type Gate struct {
	secret []byte
	expiry time.Duration
}

func NewGate(secret string, expiry time.Duration) *Gate {
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	return &Gate{secret: []byte(secret), expiry: expiry}
}

// Authenticate decodes and verifies a bearer token. Expired, malformed, or
// wrongly-signed tokens all surface as ErrUnauthorized.
func (g *Gate) Authenticate(token string) (Identity, error) {
	const op = "auth.Authenticate"
	if token == "" {
		return Identity{}, apperr.Wrap(op, apperr.ErrUnauthorized)
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, apperr.ErrUnauthorized
		}
		return g.secret, nil
	})
	if err != nil || !parsed.Valid {
		return Identity{}, apperr.Wrap(op, apperr.ErrUnauthorized)
	}
	role, ok := ParseRole(claims.Role)
	if !ok || claims.UserID == "" {
		return Identity{}, apperr.Wrap(op, apperr.ErrUnauthorized)
	}
	return Identity{UserID: claims.UserID, Role: role}, nil
}

// Issue mints a token for the given identity. Used by tests and the local
// dev bootstrap; the production issuer lives elsewhere.
func (g *Gate) Issue(userID string, role Role) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID: userID,
		Role:   string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(g.expiry)),
			Issuer:    "roadassist",
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.secret)
}
