package apns

import "encoding/json"

// Priority is the delivery priority header value.
type Priority string

const (
	// PriorityHigh requests immediate delivery.
	PriorityHigh Priority = "10"

	// PriorityLow allows the gateway to coalesce or defer delivery.
	PriorityLow Priority = "5"
)

// Alert is the optional user-visible notification attached to an update.
type Alert struct {
	Title string `json:"title,omitempty"`
	Body  string `json:"body,omitempty"`
	Sound string `json:"sound,omitempty"`
}

// APS is the envelope around a Live Activity event. Timestamps are
// expressed in seconds since the Apple reference epoch.
type APS struct {
	Timestamp      int64          `json:"timestamp"`
	Event          string         `json:"event"`
	ContentState   map[string]any `json:"content-state"`
	StaleDate      *int64         `json:"stale-date,omitempty"`
	DismissalDate  *int64         `json:"dismissal-date,omitempty"`
	RelevanceScore *float64       `json:"relevance-score,omitempty"`
	Alert          *Alert         `json:"alert,omitempty"`
}

// Payload is the full request body posted to the push gateway.
type Payload struct {
	APS APS `json:"aps"`
}

// Encode serializes the payload for the wire.
func (p Payload) Encode() ([]byte, error) {
	return json.Marshal(p)
}
