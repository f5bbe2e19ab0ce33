package fakebackend

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	issuer      = "siraat-fakebackend"
	typeAccess  = "access"
	typeRefresh = "refresh"
)

var errTokenType = errors.New("wrong token type")

// AccessClaims are the claims of an issued access token. Gen is the token
// generation; ExpireAccessTokens bumps the server generation so every token
// issued before it is rejected.
type AccessClaims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	Gen    int64  `json:"gen"`
	Type   string `json:"typ"`
	jwt.RegisteredClaims
}

// RefreshClaims are the claims of an issued refresh token.
type RefreshClaims struct {
	UserID string `json:"user_id"`
	Type   string `json:"typ"`
	jwt.RegisteredClaims
}

func (c *AccessClaims) tokenType() string  { return c.Type }
func (c *RefreshClaims) tokenType() string { return c.Type }

type typedClaims interface {
	jwt.Claims
	tokenType() string
}

// Signer issues and verifies the HS256 tokens the fake backend hands out.
type Signer struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewSigner creates a Signer. Tokens carry a fresh jti, so two tokens issued
// in the same second still differ.
func NewSigner(secret string, accessTTL, refreshTTL time.Duration) *Signer {
	return &Signer{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *Signer) registered(subject string, ttl time.Duration) jwt.RegisteredClaims {
	now := s.now()
	return jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   subject,
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
}

func (s *Signer) sign(claims jwt.Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Access signs an access token for u at generation gen.
func (s *Signer) Access(u User, gen int64) (string, error) {
	token, err := s.sign(&AccessClaims{
		UserID:           u.ID,
		Email:            u.Email,
		Role:             u.Role,
		Gen:              gen,
		Type:             typeAccess,
		RegisteredClaims: s.registered(u.ID, s.accessTTL),
	})
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return token, nil
}

// Refresh signs a refresh token for userID and returns it with its jti.
func (s *Signer) Refresh(userID string) (token, id string, err error) {
	claims := &RefreshClaims{
		UserID:           userID,
		Type:             typeRefresh,
		RegisteredClaims: s.registered(userID, s.refreshTTL),
	}
	token, err = s.sign(claims)
	if err != nil {
		return "", "", fmt.Errorf("sign refresh token: %w", err)
	}
	return token, claims.ID, nil
}

// VerifyAccess checks an access token's signature, issuer, expiry and type.
func (s *Signer) VerifyAccess(token string) (*AccessClaims, error) {
	return verify(s, token, typeAccess, &AccessClaims{})
}

// VerifyRefresh checks a refresh token's signature, issuer, expiry and type.
func (s *Signer) VerifyRefresh(token string) (*RefreshClaims, error) {
	return verify(s, token, typeRefresh, &RefreshClaims{})
}

func verify[C typedClaims](s *Signer, token, want string, claims C) (C, error) {
	var zero C
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithIssuer(issuer), jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return zero, fmt.Errorf("parse %s token: %w", want, err)
	}
	if claims.tokenType() != want {
		return zero, fmt.Errorf("parse %s token: %w", want, errTokenType)
	}
	return claims, nil
}
