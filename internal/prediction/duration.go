package prediction

import "time"

// DefaultDuration is the token used when a request names an unknown one.
const DefaultDuration = "24h"

// ResolveDuration maps a duration token to its canonical token and length.
// Unknown tokens resolve to DefaultDuration without error.
func ResolveDuration(token string) (string, time.Duration) {
	switch token {
	case "1h":
		return token, time.Hour
	case "6h":
		return token, 6 * time.Hour
	case "12h":
		return token, 12 * time.Hour
	case "24h":
		return token, 24 * time.Hour
	default:
		return DefaultDuration, 24 * time.Hour
	}
}

// ExpiryFor returns the absolute expiry of a prediction created at now.
func ExpiryFor(token string, now time.Time) time.Time {
	_, d := ResolveDuration(token)
	return now.Add(d)
}
