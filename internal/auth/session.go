package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/everyskill/relay/internal/model"
)

// SessionCookie is the cookie carrying the session token for browser requests.
const SessionCookie = "relay_session"

// ErrInvalidSession covers any token that fails parsing or verification.
var ErrInvalidSession = errors.New("invalid session")

// SessionClaims is the JWT payload issued by the web front end.
type SessionClaims struct {
	TenantID string `json:"tid"`
	Email    string `json:"email,omitempty"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// IssueSession signs an HS256 session token for s valid for ttl.
func IssueSession(secret string, s model.Session, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := SessionClaims{
		TenantID: s.TenantID,
		Email:    s.Email,
		Role:     s.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign session: %w", err)
	}
	return token, nil
}

// ParseSession verifies an HS256 session token and returns its principal.
func ParseSession(secret, token string) (*model.Session, error) {
	if secret == "" || token == "" {
		return nil, ErrInvalidSession
	}

	var claims SessionClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidSession
	}
	if claims.Subject == "" || claims.TenantID == "" {
		return nil, ErrInvalidSession
	}

	role := claims.Role
	if role != model.RoleAdmin {
		role = model.RoleMember
	}
	return &model.Session{
		UserID:   claims.Subject,
		TenantID: claims.TenantID,
		Email:    claims.Email,
		Role:     role,
	}, nil
}
