package rate

import "errors"

var (
	// ErrRateLimited is returned once an attempt budget is used up.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable wraps Redis failures.
	ErrRedisUnavailable = errors.New("redis unavailable")
)
