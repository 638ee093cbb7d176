package outbox

import "time"

var retryDelays = []time.Duration{
	5 * time.Second,
	30 * time.Second,
	2 * time.Minute,
}

const maxRetryDelay = 5 * time.Minute

// BackoffFor returns how long a FAILED row waits after its last attempt before the next retry.
func BackoffFor(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount < len(retryDelays) {
		return retryDelays[retryCount]
	}
	return maxRetryDelay
}

// DueForRetry reports whether a row last attempted at lastAttempt may be retried at now.
// A row with no recorded attempt is due immediately.
func DueForRetry(retryCount int, lastAttempt *time.Time, now time.Time) bool {
	if lastAttempt == nil {
		return true
	}
	return now.Sub(*lastAttempt) >= BackoffFor(retryCount)
}

// RetrySchedule returns the wait before each retry, indexed by retry count. The last entry
// applies to every later retry.
func RetrySchedule() []time.Duration {
	return append(append([]time.Duration(nil), retryDelays...), maxRetryDelay)
}
