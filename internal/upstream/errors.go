package upstream

import (
	"errors"
	"fmt"
	"time"
)

// ErrNoData reports that the upstream holds no observations for the requested
// range. It is a successful fetch outcome: callers record coverage for the
// window and move on without retrying.
var ErrNoData = errors.New("upstream: no data for requested range")

// RateLimitedError carries the upstream's requested cooldown. RetryAfter is
// zero when the response did not include one.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("upstream: rate limited, retry after %s", e.RetryAfter)
	}
	return "upstream: rate limited"
}

// InvalidRequestError marks a request the upstream rejected as malformed or
// unauthorized. Retrying the same window cannot succeed.
type InvalidRequestError struct {
	Status int
	Detail string
}

func (e *InvalidRequestError) Error() string {
	return fmt.Sprintf("upstream: rejected request (status %d): %s", e.Status, e.Detail)
}
