package security

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenType discriminates access and refresh claims payloads.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

var (
	// ErrInvalidToken indicates the token is malformed, carries a bad signature,
	// or fails type/claim validation. All parser internals normalize to this.
	ErrInvalidToken = errors.New("jwt: invalid token")
	// ErrExpiredToken indicates the token elapsed its exp claim.
	ErrExpiredToken = errors.New("jwt: token expired")
)

// Claims is the signed payload carried by access and refresh tokens.
// Field names form the wire contract consumed by downstream services and
// must not change.
type Claims struct {
	Email        string    `json:"email"`
	Role         string    `json:"role"`
	TenantID     *string   `json:"tenantId"`
	TenantAccess []string  `json:"tenantAccess"`
	SessionID    string    `json:"sessionId"`
	TokenType    TokenType `json:"type"`
	jwt.RegisteredClaims
}

// UserID returns the subject claim.
func (c *Claims) UserID() string {
	return c.Subject
}

// TokenCodec signs and verifies HS256 tokens with a shared secret and issuer.
type TokenCodec struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewTokenCodec constructs a codec. The secret must be non-empty; issuance is
// refused otherwise (fail closed).
func NewTokenCodec(secret, issuer string) (*TokenCodec, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("jwt: signing secret is required")
	}
	return &TokenCodec{
		secret: []byte(secret),
		issuer: issuer,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// WithClock overrides the codec clock for deterministic tests.
func (c *TokenCodec) WithClock(clock func() time.Time) {
	if clock != nil {
		c.now = clock
	}
}

// Sign produces a signed token for the supplied claims with the given TTL.
// Issuer, iat, and exp are stamped here; callers provide everything else.
func (c *TokenCodec) Sign(claims Claims, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		return "", fmt.Errorf("jwt: ttl must be positive")
	}
	if claims.TokenType != TokenTypeAccess && claims.TokenType != TokenTypeRefresh {
		return "", fmt.Errorf("jwt: unknown token type %q", claims.TokenType)
	}

	now := c.now()
	claims.Issuer = c.issuer
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &claims)
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("jwt: sign token: %w", err)
	}

	return signed, nil
}

// Parse validates signature, issuer, and expiry, and enforces the expected
// token type. Signature and structural failures normalize to ErrInvalidToken.
func (c *TokenCodec) Parse(token string, expected TokenType) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return c.secret, nil
	}, jwt.WithTimeFunc(c.now), jwt.WithIssuer(c.issuer))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	if parsed == nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.TokenType != expected {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
