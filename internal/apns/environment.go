// Package apns provides an authenticated HTTP/2 client for delivering live
// activity push notifications through the Apple Push Notification service.
package apns

// Environment identifies a push gateway variant. Device tokens are
// environment-specific; a token minted against the sandbox is rejected by
// the production gateway and vice versa.
type Environment string

const (
	EnvironmentDevelopment Environment = "development"
	EnvironmentProduction  Environment = "production"
)

// Gateway hosts per environment.
const (
	DevelopmentHost = "https://api.development.push.apple.com"
	ProductionHost  = "https://api.push.apple.com"
)

// Preference selects which environments a delivery may try.
type Preference string

const (
	PreferenceAuto        Preference = "auto"
	PreferenceDevelopment Preference = "development"
	PreferenceProduction  Preference = "production"
)

// Candidates returns the ordered environments to attempt for a preference.
// An explicit preference pins delivery to that single environment. Auto
// tries the sandbox first and falls back to production, which is the final
// authority when token metadata is ambiguous.
func Candidates(pref Preference) []Environment {
	switch pref {
	case PreferenceDevelopment:
		return []Environment{EnvironmentDevelopment}
	case PreferenceProduction:
		return []Environment{EnvironmentProduction}
	default:
		return []Environment{EnvironmentDevelopment, EnvironmentProduction}
	}
}
