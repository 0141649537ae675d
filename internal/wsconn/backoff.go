package wsconn

import "time"

// MaxReconnectAttempts is the attempt count at which an actor in
// Reconnecting gives up and transitions to Error (spec.md §4.4).
const MaxReconnectAttempts = 10

// Backoff returns the reconnect delay for attempt, per spec.md's
// `min(2^attempt, 60)` seconds formula. Attempt 6 and above are always
// capped at 60s.
func Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	var seconds int
	if attempt >= 6 {
		seconds = 60
	} else {
		seconds = 1 << uint(attempt)
		if seconds > 60 {
			seconds = 60
		}
	}
	return time.Duration(seconds) * time.Second
}
