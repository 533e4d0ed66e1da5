package models

import "time"

// RateLimitEntry is a fixed-window counter keyed by client+endpoint
type RateLimitEntry struct {
	Count        int64     `json:"count"`
	ResetTime    time.Time `json:"reset_time"`
	FirstRequest time.Time `json:"first_request"`
}

// RateLimitResult is the outcome of counting one request
type RateLimitResult struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetTime time.Time
	// RetryAfter is the time until the window resets, at least a second when blocked
	RetryAfter time.Duration
}
