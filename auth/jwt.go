// Package auth validates the session tokens issued by the wallet platform.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/basedlink/basedlink-pay/utils"
)

var (
	ErrMissingToken = errors.New("session token required")
	ErrInvalidToken = errors.New("invalid session token")
)

// Identity is the seller a session token was issued to.
type Identity struct {
	Email         string
	WalletAddress string
}

// Claims is the session token payload.
type Claims struct {
	Email         string `json:"email"`
	WalletAddress string `json:"wallet_address"`
	jwt.RegisteredClaims
}

// Verifier checks HS256 session tokens against a shared secret.
type Verifier struct {
	secret []byte
	issuer string
	leeway time.Duration
}

type VerifierOption func(*Verifier)

// WithIssuer requires the iss claim to match.
func WithIssuer(iss string) VerifierOption {
	return func(v *Verifier) {
		v.issuer = iss
	}
}

// WithLeeway tolerates clock skew on exp and nbf.
func WithLeeway(d time.Duration) VerifierOption {
	return func(v *Verifier) {
		v.leeway = d
	}
}

func NewVerifier(secret string, opts ...VerifierOption) (*Verifier, error) {
	if len(secret) < 32 {
		return nil, errors.New("jwt secret must be at least 32 bytes")
	}
	v := &Verifier{secret: []byte(secret)}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Verify parses a token and returns the identity it carries. Every failure
// wraps ErrInvalidToken.
func (v *Verifier) Verify(tokenString string) (*Identity, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return nil, ErrMissingToken
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
	}
	if v.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(v.issuer))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, parserOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !utils.IsValidAddress(claims.WalletAddress) {
		return nil, fmt.Errorf("%w: wallet_address claim is missing or malformed", ErrInvalidToken)
	}
	return &Identity{
		Email:         strings.ToLower(claims.Email),
		WalletAddress: claims.WalletAddress,
	}, nil
}

// Issue signs a session token for id. The wallet platform issues real
// sessions; this serves local tooling.
func (v *Verifier) Issue(id Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Email:         id.Email,
		WalletAddress: id.WalletAddress,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strings.ToLower(id.WalletAddress),
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
