package utils

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"

	AccessTokenTTL  = 15 * time.Minute
	RefreshTokenTTL = 7 * 24 * time.Hour
)

// ErrMissingSubject is returned for identity tokens without a sub claim
var ErrMissingSubject = errors.New("identity token has no subject")

// Claims represents the server's own session token
type Claims struct {
	AccountID string `json:"accountId"`
	Type      string `json:"type"`
	jwt.RegisteredClaims
}

// IdentityClaims is what the identity provider puts in its token. Subject
// is required; name and picture seed the account profile.
type IdentityClaims struct {
	Name    string `json:"name,omitempty"`
	Picture string `json:"picture,omitempty"`
	jwt.RegisteredClaims
}

// TokenManager issues and validates HS256 tokens
type TokenManager struct {
	secret         []byte
	identitySecret []byte
}

// NewTokenManager creates a manager. identitySecret verifies provider
// tokens and defaults to secret.
func NewTokenManager(secret, identitySecret string) *TokenManager {
	if identitySecret == "" {
		identitySecret = secret
	}
	return &TokenManager{secret: []byte(secret), identitySecret: []byte(identitySecret)}
}

// GenerateToken generates an access token for an account
func (m *TokenManager) GenerateToken(accountID, subject string) (string, error) {
	return m.sign(accountID, subject, TokenTypeAccess, AccessTokenTTL)
}

// GenerateRefreshToken generates a refresh token for an account
func (m *TokenManager) GenerateRefreshToken(accountID, subject string) (string, error) {
	return m.sign(accountID, subject, TokenTypeRefresh, RefreshTokenTTL)
}

func (m *TokenManager) sign(accountID, subject, typ string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		AccountID: accountID,
		Type:      typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// ValidateToken validates and parses a session token
func (m *TokenManager) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}

	if !token.Valid {
		return nil, jwt.ErrSignatureInvalid
	}

	return claims, nil
}

// ParseIdentityToken validates a token from the identity provider
func (m *TokenManager) ParseIdentityToken(tokenString string) (*IdentityClaims, error) {
	claims := &IdentityClaims{}

	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return m.identitySecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, ErrMissingSubject
	}

	return claims, nil
}
