package tokengenerator

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenLifetime is the validity of every issued token
const TokenLifetime = time.Hour

var ErrMissingSecret = errors.New("jwt signing key is required")

// TokenGenerator issues bearer tokens for resolved users
type TokenGenerator interface {
	GenerateToken(userID, email, provider string) (string, error)
}

// Claims struct for JWT claims
type Claims struct {
	Email    string `json:"email"`
	Provider string `json:"provider"`
	jwt.RegisteredClaims
}

// JwtTokenGenerator signs tokens with a single HMAC-SHA256 key
type JwtTokenGenerator struct {
	secret   []byte
	Issuer   string
	Audience string

	// now is swapped in tests
	now func() time.Time
}

// NewJwtTokenGenerator creates a new JwtTokenGenerator. An empty secret is a
// configuration error and is reported here rather than on first use.
func NewJwtTokenGenerator(secret, issuer, audience string) (*JwtTokenGenerator, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	return &JwtTokenGenerator{
		secret:   []byte(secret),
		Issuer:   issuer,
		Audience: audience,
		now:      time.Now,
	}, nil
}

// GenerateToken creates a signed token carrying the user id as subject plus
// the email and originating provider, expiring TokenLifetime from now.
func (g *JwtTokenGenerator) GenerateToken(userID, email, provider string) (string, error) {
	issuedAt := g.now().UTC()
	claims := Claims{
		Email:    email,
		Provider: provider,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    g.Issuer,
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(TokenLifetime)),
			ID:        uuid.New().String(),
		},
	}
	if g.Audience != "" {
		claims.Audience = jwt.ClaimStrings{g.Audience}
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	ss, err := token.SignedString(g.secret)
	if err != nil {
		slog.Error("Failed sign JWT Claim string!", "err", err)
		return "", err
	}
	return ss, nil
}

// ParseToken verifies signature, expiry, issuer and audience and returns the claims
func (g *JwtTokenGenerator) ParseToken(tokenStr string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(g.now),
	}
	if g.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(g.Issuer))
	}
	if g.Audience != "" {
		opts = append(opts, jwt.WithAudience(g.Audience))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		return g.secret, nil
	}, opts...)
	if err != nil {
		slog.Error("Failed parse JWT string!", "err", err)
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("failed_parse_token_claims")
	}
	return claims, nil
}
