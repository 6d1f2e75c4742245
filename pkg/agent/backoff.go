package agent

import "time"

const maxBackoff = 5 * time.Second

// CalculateBackoff returns the wait before retry number attempt (1-based): base doubled
// for every earlier retry, capped at five seconds. A non-positive base disables waiting.
func CalculateBackoff(attempt int, base time.Duration) time.Duration {
	if base <= 0 || attempt < 1 {
		return 0
	}

	backoff := base
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if backoff >= maxBackoff {
			return maxBackoff
		}
	}
	if backoff > maxBackoff {
		return maxBackoff
	}
	return backoff
}
