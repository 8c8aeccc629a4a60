package services

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	adminRole      = "admin"
	adminIssuer    = "shopaway"
	minSecretBytes = 32
)

var (
	ErrAdminTokenInvalid = errors.New("invalid admin token")
	ErrAdminTokenMissing = errors.New("admin token is required")
)

// AdminClaims are the claims carried by admin bearer tokens.
type AdminClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// AdminAuth issues and verifies HS256 admin tokens.
type AdminAuth struct {
	secret []byte
	now    func() time.Time
}

func NewAdminAuth(secret string) (*AdminAuth, error) {
	if len(secret) < minSecretBytes {
		return nil, fmt.Errorf("admin jwt secret must be at least %d bytes", minSecretBytes)
	}
	return &AdminAuth{secret: []byte(secret), now: time.Now}, nil
}

func (a *AdminAuth) IssueToken(subject string, ttl time.Duration) (string, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", fmt.Errorf("token subject is required")
	}
	if ttl <= 0 {
		return "", fmt.Errorf("token ttl must be positive")
	}

	now := a.now()
	claims := AdminClaims{
		Role: adminRole,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    adminIssuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign admin token: %w", err)
	}
	return signed, nil
}

// VerifyToken parses raw and returns its claims when it is a valid, unexpired admin token.
func (a *AdminAuth) VerifyToken(raw string) (*AdminClaims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrAdminTokenMissing
	}

	claims := &AdminClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	},
		jwt.WithIssuer(adminIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrAdminTokenInvalid, err)
	}
	if claims.Role != adminRole {
		return nil, fmt.Errorf("%w: role %q", ErrAdminTokenInvalid, claims.Role)
	}
	return claims, nil
}
