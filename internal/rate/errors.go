package rate

import "errors"

var (
	// ErrRateLimited signals the attempt budget is exhausted for this window.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable wraps Redis transport failures.
	ErrRedisUnavailable = errors.New("redis unavailable")
)
