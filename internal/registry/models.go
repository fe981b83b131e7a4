// Package registry provides push token storage for live activities. One
// token record exists per live activity; its absence is not an error, it
// just means delivery is skipped.
package registry

import (
	"errors"
	"strings"
	"time"
)

// Repository errors.
var (
	ErrTokenNotFound = errors.New("push token not found")
)

// Environment selects the push gateway a token is valid against.
type Environment string

const (
	EnvironmentAuto        Environment = "auto"
	EnvironmentDevelopment Environment = "development"
	EnvironmentProduction  Environment = "production"
)

// TokenRecord associates a live activity with its device push token.
type TokenRecord struct {
	ActivityID  string
	UserID      string
	PushToken   string
	BundleID    string
	Environment Environment
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TokenLast4 returns the last 4 characters of the push token for display
// purposes.
func (t *TokenRecord) TokenLast4() string {
	if len(t.PushToken) < 4 {
		return t.PushToken
	}
	return t.PushToken[len(t.PushToken)-4:]
}

// PreferredEnvironment derives the delivery environment from the record's
// metadata. Explicit dev/prod markers win; a .dev bundle suffix implies
// development; everything else stays auto so the client falls back across
// both gateways.
func (t *TokenRecord) PreferredEnvironment() Environment {
	switch t.Environment {
	case "dev", EnvironmentDevelopment:
		return EnvironmentDevelopment
	case "prod", EnvironmentProduction:
		return EnvironmentProduction
	}
	if strings.Contains(t.BundleID, ".dev") {
		return EnvironmentDevelopment
	}
	return EnvironmentAuto
}
