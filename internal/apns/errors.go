package apns

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// FailureKind classifies a rejected delivery so callers can decide what
// to do with the token record and whether another attempt makes sense.
type FailureKind string

const (
	// FailureConfig means the provider credentials or topic are wrong.
	// Retrying with the same configuration cannot succeed.
	FailureConfig FailureKind = "config"

	// FailureTokenGone means the activity token is no longer valid and
	// its registration should be removed.
	FailureTokenGone FailureKind = "token_gone"

	// FailureEnvironmentMismatch means the token likely belongs to the
	// other gateway environment and the alternate host is worth trying.
	FailureEnvironmentMismatch FailureKind = "environment_mismatch"

	// FailureTransport means the request never produced a gateway
	// response (connection refused, timeout, breaker open).
	FailureTransport FailureKind = "transport"

	// FailureDelivery is any other gateway rejection.
	FailureDelivery FailureKind = "delivery"
)

// Rejection reasons that indicate the token was minted for the other
// environment.
var environmentMismatchReasons = map[string]struct{}{
	"BadDeviceToken":           {},
	"InvalidProviderToken":     {},
	"BadEnvironmentKeyInToken": {},
}

// DeliveryError describes a single failed delivery attempt.
type DeliveryError struct {
	Kind        FailureKind
	Environment Environment
	StatusCode  int
	Reason      string
	Err         error
}

func (e *DeliveryError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("apns delivery to %s failed: status %d (%s)", e.Environment, e.StatusCode, e.Reason)
	}
	if e.Err != nil {
		return fmt.Sprintf("apns delivery to %s failed: %v", e.Environment, e.Err)
	}
	return fmt.Sprintf("apns delivery to %s failed: status %d", e.Environment, e.StatusCode)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the alternate environment is worth trying.
func (e *DeliveryError) Retryable() bool {
	return e.Kind == FailureEnvironmentMismatch
}

// AsDeliveryError unwraps err into a DeliveryError if one is present.
func AsDeliveryError(err error) (*DeliveryError, bool) {
	var de *DeliveryError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// classifyResponse maps a gateway rejection to a failure kind. The raw
// reason string is preserved for logging and client responses.
func classifyResponse(env Environment, status int, body []byte) *DeliveryError {
	reason := rejectionReason(body)

	kind := FailureDelivery
	switch {
	case status == http.StatusForbidden:
		kind = FailureConfig
	case status == http.StatusGone:
		kind = FailureTokenGone
	case status == http.StatusBadRequest:
		if _, ok := environmentMismatchReasons[reason]; ok {
			kind = FailureEnvironmentMismatch
		}
	}

	return &DeliveryError{
		Kind:        kind,
		Environment: env,
		StatusCode:  status,
		Reason:      reason,
	}
}

func rejectionReason(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var parsed struct {
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return ""
	}
	return parsed.Reason
}
