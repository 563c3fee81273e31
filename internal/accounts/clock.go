package accounts

import "time"

// Clock abstracts wall time so throttle, QR timer and cache-freshness tests
// can advance virtual time deterministically.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
