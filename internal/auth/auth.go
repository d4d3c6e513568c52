// Package auth issues and validates the JWTs API principals authenticate with,
// and hashes their API keys.
package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/zeus-ia/zeus/internal/model"
)

// Claims extends jwt.RegisteredClaims with the caller's principal.
type Claims struct {
	jwt.RegisteredClaims
	Email     string     `json:"email"`
	CompanyID string     `json:"company_id"`
	Role      model.Role `json:"role"`
}

// issuer is both the iss and the aud of every token.
const issuer = "zeus"

// clockSkew is tolerated on exp, nbf and iat.
const clockSkew = 30 * time.Second

// JWTManager signs and verifies EdDSA tokens.
type JWTManager struct {
	keys       KeyPair
	expiration time.Duration
	now        func() time.Time
	parser     *jwt.Parser
}

// NewJWTManager loads the key pair from PEM files. With either path empty
// it generates an ephemeral pair; tokens then die with the process.
func NewJWTManager(privateKeyPath, publicKeyPath string, expiration time.Duration) (*JWTManager, error) {
	var (
		keys KeyPair
		err  error
	)
	if privateKeyPath == "" || publicKeyPath == "" {
		slog.Warn("auth: no JWT key files configured, using an ephemeral key pair")
		keys, err = GenerateKeyPair()
	} else {
		keys, err = LoadKeyPair(privateKeyPath, publicKeyPath)
	}
	if err != nil {
		return nil, err
	}
	return newManager(keys, expiration, time.Now), nil
}

func newManager(keys KeyPair, expiration time.Duration, now func() time.Time) *JWTManager {
	return &JWTManager{
		keys:       keys,
		expiration: expiration,
		now:        now,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
			jwt.WithIssuer(issuer),
			jwt.WithAudience(issuer),
			jwt.WithExpirationRequired(),
			jwt.WithIssuedAt(),
			jwt.WithLeeway(clockSkew),
			jwt.WithTimeFunc(now),
		),
	}
}

// IssueToken signs a token for p valid for the manager's expiration.
func (m *JWTManager) IssueToken(p model.Principal) (string, time.Time, error) {
	now := m.now().UTC()
	exp := now.Add(m.expiration)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    issuer,
			Subject:   p.Email,
			Audience:  jwt.ClaimStrings{issuer},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Email:     p.Email,
		CompanyID: p.CompanyID,
		Role:      p.Role,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(m.keys.Private)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, exp, nil
}

// ValidateToken verifies signature and registered claims, then checks that
// the token names a known role and a company.
func (m *JWTManager) ValidateToken(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	if _, err := m.parser.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (any, error) {
		return m.keys.Public, nil
	}); err != nil {
		if claims.Issuer != issuer {
			return nil, fmt.Errorf("auth: invalid issuer %q: %w", claims.Issuer, err)
		}
		return nil, fmt.Errorf("auth: validate token: %w", err)
	}

	switch {
	case claims.Email == "" || claims.Subject != claims.Email:
		return nil, fmt.Errorf("auth: invalid subject %q", claims.Subject)
	case model.RoleRank(claims.Role) == 0:
		return nil, fmt.Errorf("auth: unknown role %q", claims.Role)
	case claims.CompanyID == "":
		return nil, errors.New("auth: token carries no company")
	}
	return claims, nil
}
