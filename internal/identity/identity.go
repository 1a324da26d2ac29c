package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type Role string

const (
	RoleProvider  Role = "provider"
	RoleRequester Role = "requester"
)

// ParseRole accepts the portal's own names as well (doctor, patient).
func ParseRole(raw string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "provider", "doctor":
		return RoleProvider, nil
	case "requester", "patient":
		return RoleRequester, nil
	}
	return "", fmt.Errorf("unknown role %q", raw)
}

// Principal is the acting user as vouched for by the identity service.
type Principal struct {
	UserID uuid.UUID
	Role   Role
}

func (p Principal) IsProvider() bool  { return p.Role == RoleProvider }
func (p Principal) IsRequester() bool { return p.Role == RoleRequester }

type contextKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(contextKey{}).(Principal)
	return p, ok
}

var ErrInvalidToken = errors.New("invalid token")

type Claims struct {
	jwt.RegisteredClaims
	UserRole string `json:"user_role"`
}

// ParseToken verifies an HS256 token and extracts the principal from sub and user_role.
func ParseToken(tokenStr string, secret []byte) (Principal, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return Principal{}, ErrInvalidToken
	}
	return principalFrom(claims.Subject, claims.UserRole)
}

// IssueToken signs a token for p. Used by tools and tests; production tokens
// come from the identity service.
func IssueToken(p Principal, secret []byte, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UserID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		UserRole: string(p.Role),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func principalFrom(subject, role string) (Principal, error) {
	id, err := uuid.Parse(subject)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: subject is not a user id", ErrInvalidToken)
	}
	r, err := ParseRole(role)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return Principal{UserID: id, Role: r}, nil
}
