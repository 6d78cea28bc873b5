// Package auth verifies bearer tokens issued by the studio's identity provider.
package auth

import (
	"context"
	"strings"
	"time"

	"studiobook/internal/config"
	"studiobook/internal/models"
	"studiobook/internal/service"

	"github.com/cockroachdb/errors"
	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.Mark(errors.New("invalid token"), service.ErrUnauthenticated)
	ErrExpiredToken = errors.Mark(errors.New("token expired"), service.ErrUnauthenticated)
)

type Claims struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Verifier validates HS256 tokens and maps their claims to an identity.
type Verifier struct {
	secretKey []byte
	issuer    string
	audience  string
	adminIDs  map[string]struct{}
}

func NewVerifier(cfg config.AuthConfig) *Verifier {
	admins := make(map[string]struct{}, len(cfg.AdminIDs))
	for _, id := range cfg.AdminIDs {
		admins[id] = struct{}{}
	}
	return &Verifier{
		secretKey: []byte(cfg.JWTSecret),
		issuer:    cfg.Issuer,
		audience:  cfg.Audience,
		adminIDs:  admins,
	}
}

func (v *Verifier) Verify(_ context.Context, tokenString string) (models.Identity, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return models.Identity{}, ErrInvalidToken
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		return v.secretKey, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return models.Identity{}, ErrExpiredToken
		}
		return models.Identity{}, errors.Wrap(ErrInvalidToken, err.Error())
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return models.Identity{}, ErrInvalidToken
	}

	_, listed := v.adminIDs[claims.Subject]
	return models.Identity{
		UserID:      claims.Subject,
		DisplayName: displayName(claims),
		Email:       claims.Email,
		Role:        claims.Role,
		Admin:       listed,
	}, nil
}

// Issue signs a token for identity. Used by the token CLI and tests.
func (v *Verifier) Issue(identity models.Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Name:  identity.DisplayName,
		Email: identity.Email,
		Role:  identity.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.UserID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if v.audience != "" {
		claims.Audience = jwt.ClaimStrings{v.audience}
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secretKey)
}

func displayName(c *Claims) string {
	if name := strings.TrimSpace(c.Name); name != "" {
		return name
	}
	if c.Email != "" {
		return c.Email
	}
	return models.AnonymousName
}
