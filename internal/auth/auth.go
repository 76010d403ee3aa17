package auth

// Package auth verifies connection credentials and produces the identity
// claim a session carries for its whole lifetime.

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/aichat/relay/internal/config"
)

// Role of an authenticated identity.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Claims is the identity attached to a connection at handshake. Immutable
// for the connection's lifetime.
type Claims struct {
	SubjectID   string
	DisplayName string
	Role        Role
}

var (
	ErrMissingToken = errors.New("auth: missing token")
	ErrInvalidToken = errors.New("auth: invalid token")
)

// Verifier validates an opaque credential and yields an identity claim.
type Verifier interface {
	Verify(token string) (Claims, error)
}

// JWTVerifier verifies HMAC-signed JWTs carrying user_id/username/role
// claims, the shape issued by the credential service.
type JWTVerifier struct {
	secret []byte
	issuer string
}

// NewJWTVerifier creates a verifier from the auth configuration.
func NewJWTVerifier(cfg config.AuthConfig) *JWTVerifier {
	return &JWTVerifier{secret: []byte(cfg.JWTSecret), issuer: cfg.Issuer}
}

type tokenClaims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Verify parses and validates the token and extracts the identity claim.
func (v *JWTVerifier) Verify(token string) (Claims, error) {
	if token == "" {
		return Claims{}, ErrMissingToken
	}

	var tc tokenClaims
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	parsed, err := jwt.ParseWithClaims(token, &tc, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if tc.UserID == "" {
		return Claims{}, fmt.Errorf("%w: empty user_id claim", ErrInvalidToken)
	}

	role := Role(tc.Role)
	if role != RoleAdmin {
		role = RoleUser
	}
	return Claims{SubjectID: tc.UserID, DisplayName: tc.Username, Role: role}, nil
}

// Sign issues a token for the given claims. Used by the credential service
// and by tests; the relay itself only verifies.
func (v *JWTVerifier) Sign(claims Claims, ttl time.Duration) (string, error) {
	now := time.Now()
	tc := tokenClaims{
		UserID:   claims.SubjectID,
		Username: claims.DisplayName,
		Role:     string(claims.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, tc).SignedString(v.secret)
}
