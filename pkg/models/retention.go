package models

import "time"

// Retention tokens a client may select at upload initiation. The chosen token
// is stored on the session and promoted verbatim to the clip at completion,
// where the clip's expiration is computed from the completion time.
var retentionLadder = map[string]time.Duration{
	"5min":  5 * time.Minute,
	"15min": 15 * time.Minute,
	"30min": 30 * time.Minute,
	"1hr":   time.Hour,
	"6hr":   6 * time.Hour,
	"24hr":  24 * time.Hour,
}

// RetentionDuration resolves a retention token to its duration.
// Returns ErrInvalidRetention for any token outside the ladder.
func RetentionDuration(token string) (time.Duration, error) {
	d, ok := retentionLadder[token]
	if !ok {
		return 0, ErrInvalidRetention
	}
	return d, nil
}

// ValidRetention reports whether the token is a member of the ladder.
func ValidRetention(token string) bool {
	_, ok := retentionLadder[token]
	return ok
}
