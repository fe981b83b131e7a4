package models

// ActivityUpdateRequest asks the service to push a content-state update to
// a live activity. PushToken is optional; when omitted the registered
// token for the activity is used.
type ActivityUpdateRequest struct {
	ActivityID            string                 `json:"activityId"`
	ContentState          map[string]interface{} `json:"contentState"`
	PushToken             string                 `json:"pushToken,omitempty"`
	DismissalDate         *Timestamp             `json:"dismissalDate,omitempty"`
	RelevanceScore        *float64               `json:"relevanceScore,omitempty"`
	Alert                 *ActivityAlert         `json:"alert,omitempty"`
	TopicOverride         string                 `json:"topicOverride,omitempty"`
	FrequentPushesEnabled *bool                  `json:"frequentPushesEnabled,omitempty"`
}

// ActivityAlert is an optional alert attached to an update.
type ActivityAlert struct {
	Title string `json:"title,omitempty"`
	Body  string `json:"body,omitempty"`
	Sound string `json:"sound,omitempty"`
}

// ActivityUpdateResponse reports the delivery outcome.
type ActivityUpdateResponse struct {
	Success     bool   `json:"success"`
	ActivityID  string `json:"activityId"`
	Environment string `json:"environment"`
	Host        string `json:"host"`
}

// TokenRegisterRequest persists the push token for a live activity.
type TokenRegisterRequest struct {
	Token       string `json:"token"`
	ActivityID  string `json:"activityId"`
	BundleID    string `json:"bundleId,omitempty"`
	Environment string `json:"environment,omitempty"`
}

// TokenRegisterResponse confirms a registration.
type TokenRegisterResponse struct {
	ActivityID  string    `json:"activityId"`
	TokenLast4  string    `json:"tokenLast4"`
	BundleID    string    `json:"bundleId"`
	Environment string    `json:"environment"`
	UpdatedAt   Timestamp `json:"updatedAt"`
}

// TimerActionRequest applies a timer action for the authenticated user.
type TimerActionRequest struct {
	ActivityID   string                 `json:"activityId"`
	Action       string                 `json:"action"`
	ContentState map[string]interface{} `json:"contentState,omitempty"`
}

// TimerActionResponse reports the applied action.
type TimerActionResponse struct {
	ActivityID string `json:"activityId"`
	Action     string `json:"action"`
	Delivered  bool   `json:"delivered"`
}

// MonitorResponse reports monitor coordinator state.
type MonitorResponse struct {
	ActivityID string `json:"activityId"`
	Running    int    `json:"running"`
}
