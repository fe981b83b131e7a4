package apns

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Signing configuration errors. These are precondition failures: the
// delivery attempt is not retried when one is returned.
var (
	ErrMissingSigningKey = errors.New("apns signing key is not configured")
	ErrMissingKeyID      = errors.New("apns key id is not configured")
	ErrMissingTeamID     = errors.New("apns team id is not configured")
	ErrInvalidSigningKey = errors.New("apns signing key is not a valid PEM-encoded EC private key")
)

// TokenSigner mints short-lived provider authentication tokens for the
// push gateway: an ES256 JWT carrying the team identifier as issuer, the
// mint time, and the key identifier in the header.
type TokenSigner struct {
	key    *ecdsa.PrivateKey
	keyID  string
	teamID string
}

// SignerConfig holds the provider credentials.
type SignerConfig struct {
	// AuthKeyPEM is the PEM-encoded .p8 signing key.
	AuthKeyPEM string

	// KeyID is the 10-character key identifier the key was issued under.
	KeyID string

	// TeamID is the developer team identifier, used as the token issuer.
	TeamID string
}

// NewTokenSigner parses the signing key and returns a signer. All
// configuration problems surface here rather than at delivery time.
func NewTokenSigner(cfg SignerConfig) (*TokenSigner, error) {
	if cfg.AuthKeyPEM == "" {
		return nil, ErrMissingSigningKey
	}
	if cfg.KeyID == "" {
		return nil, ErrMissingKeyID
	}
	if cfg.TeamID == "" {
		return nil, ErrMissingTeamID
	}

	key, err := parseECPrivateKey(cfg.AuthKeyPEM)
	if err != nil {
		return nil, err
	}

	return &TokenSigner{
		key:    key,
		keyID:  cfg.KeyID,
		teamID: cfg.TeamID,
	}, nil
}

// Sign mints a fresh provider token. Each delivery attempt may mint its
// own; the gateway accepts tokens up to an hour old.
func (s *TokenSigner) Sign() (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.MapClaims{
		"iss": s.teamID,
		"iat": time.Now().Unix(),
	})
	token.Header["kid"] = s.keyID

	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("signing provider token: %w", err)
	}
	return signed, nil
}

// KeyID returns the configured key identifier.
func (s *TokenSigner) KeyID() string {
	return s.keyID
}

func parseECPrivateKey(pemData string) (*ecdsa.PrivateKey, error) {
	// Secrets managers sometimes hand the key back wrapped in quotes.
	pemData = strings.TrimSpace(pemData)
	pemData = strings.Trim(pemData, `"`)

	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, ErrInvalidSigningKey
	}

	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		ecKey, ok := key.(*ecdsa.PrivateKey)
		if !ok {
			return nil, ErrInvalidSigningKey
		}
		return ecKey, nil
	}

	if key, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	return nil, ErrInvalidSigningKey
}
