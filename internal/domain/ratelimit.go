package domain

// RateLimitWindow describes usage of one quota window.
type RateLimitWindow struct {
	// UsedPercent is the share of the window already consumed, 0-100.
	UsedPercent float64 `json:"used_percent"`
	// WindowMinutes is the window length, when reported.
	WindowMinutes *int64 `json:"window_minutes,omitempty"`
	// ResetsInSeconds is the time until the window resets, when reported.
	ResetsInSeconds *int64 `json:"resets_in_seconds,omitempty"`
}

// RateLimitSnapshot is the rate-limit state reported by the server for one response.
// A nil window means the server sent no data for it, which is distinct from a
// window reporting 0% usage.
type RateLimitSnapshot struct {
	Primary   *RateLimitWindow `json:"primary,omitempty"`
	Secondary *RateLimitWindow `json:"secondary,omitempty"`
}

// IsEmpty reports whether the snapshot carries no window at all.
func (s RateLimitSnapshot) IsEmpty() bool {
	return s.Primary == nil && s.Secondary == nil
}
