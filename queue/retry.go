package queue

import (
	"fmt"
	"time"
)

// RetryAfterError is returned by a handler to request redelivery after a
// specific delay instead of the broker's default backoff. Detected with
// errors.As by the consumer.
type RetryAfterError struct {
	Delay time.Duration
}

func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("retry after %s", e.Delay)
}

// RetryAfter builds a handler error requesting redelivery after delay.
func RetryAfter(delay time.Duration) error {
	return &RetryAfterError{Delay: delay}
}
