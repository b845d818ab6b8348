package session

import "time"

// Record is the persisted form of a session. Timestamps are unix
// milliseconds so expiry comparisons survive the round trip exactly.
type Record struct {
	Ref       string
	UserID    string
	CreatedAt int64
	ExpiresAt int64
}

// ExpiresAtTime returns ExpiresAt as a UTC time.
func (r *Record) ExpiresAtTime() time.Time {
	return time.UnixMilli(r.ExpiresAt).UTC()
}

// CreatedAtTime returns CreatedAt as a UTC time.
func (r *Record) CreatedAtTime() time.Time {
	return time.UnixMilli(r.CreatedAt).UTC()
}

// Expired reports whether now is past the expiry.
func (r *Record) Expired(now time.Time) bool {
	return now.UnixMilli() > r.ExpiresAt
}
