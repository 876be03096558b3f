// Package jwt validates producer bearer tokens.
//
// Tokens are HS256 JWTs issued by the marketplace auth service. The subject
// is the user id and the "role" claim is one of anon, authenticated or
// service_role.
package jwt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bissquit/market-courier/internal/domain"
	gojwt "github.com/golang-jwt/jwt/v5"
)

// Token validation errors.
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrUnknownRole  = errors.New("unknown role claim")
)

// Config holds token validation settings.
type Config struct {
	SecretKey string
	Issuer    string
	Audience  string
	Leeway    time.Duration
}

// Claims are the token claims the service reads.
type Claims struct {
	Role string `json:"role"`
	gojwt.RegisteredClaims
}

// Authenticator validates and issues HS256 tokens.
type Authenticator struct {
	config Config
	parser *gojwt.Parser
}

// NewAuthenticator creates a token authenticator.
func NewAuthenticator(config Config) (*Authenticator, error) {
	if config.SecretKey == "" {
		return nil, errors.New("jwt: secret key is required")
	}

	opts := []gojwt.ParserOption{
		gojwt.WithValidMethods([]string{gojwt.SigningMethodHS256.Alg()}),
		gojwt.WithExpirationRequired(),
		gojwt.WithLeeway(config.Leeway),
	}
	if config.Issuer != "" {
		opts = append(opts, gojwt.WithIssuer(config.Issuer))
	}
	if config.Audience != "" {
		opts = append(opts, gojwt.WithAudience(config.Audience))
	}

	return &Authenticator{config: config, parser: gojwt.NewParser(opts...)}, nil
}

// ValidateToken parses token and returns its subject and role.
func (a *Authenticator) ValidateToken(_ context.Context, token string) (string, domain.Role, error) {
	var claims Claims
	_, err := a.parser.ParseWithClaims(token, &claims, func(*gojwt.Token) (any, error) {
		return []byte(a.config.SecretKey), nil
	})
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	role := domain.Role(claims.Role)
	switch role {
	case domain.RoleAuthenticated, domain.RoleService, domain.RoleAnon:
	default:
		return "", "", fmt.Errorf("%w: %q", ErrUnknownRole, claims.Role)
	}

	return claims.Subject, role, nil
}

// IssueToken signs a token for subject with role, valid for ttl.
func (a *Authenticator) IssueToken(subject string, role domain.Role, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: string(role),
		RegisteredClaims: gojwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    a.config.Issuer,
			IssuedAt:  gojwt.NewNumericDate(now),
			ExpiresAt: gojwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if a.config.Audience != "" {
		claims.Audience = gojwt.ClaimStrings{a.config.Audience}
	}

	signed, err := gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims).SignedString([]byte(a.config.SecretKey))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
