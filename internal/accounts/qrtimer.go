package accounts

import (
	"sync"
	"time"
)

// DefaultQRWindow is how long a freshly issued QR code stays scannable.
const DefaultQRWindow = 120 * time.Second

// QRTimer is the single shared countdown for "time remaining to scan the
// currently displayed QR". It is display-only: reaching zero never mutates
// account state (expiry is the server's call via a qr-expired event). The
// countdown is deadline arithmetic over an injectable clock, so nothing
// needs cancelling on shutdown.
type QRTimer struct {
	mu       sync.Mutex
	clock    Clock
	deadline time.Time
}

func NewQRTimer(clock Clock) *QRTimer {
	if clock == nil {
		clock = SystemClock{}
	}
	return &QRTimer{clock: clock}
}

// Reset (re)starts the countdown at d; called on every new qr-code event.
func (t *QRTimer) Reset(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.deadline = t.clock.Now().Add(d)
}

// Stop zeroes the countdown.
func (t *QRTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.deadline = time.Time{}
}

// Remaining returns whole seconds left, floored at zero.
func (t *QRTimer) Remaining() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.deadline.IsZero() {
		return 0
	}
	left := t.deadline.Sub(t.clock.Now())
	if left <= 0 {
		return 0
	}
	return int(left.Round(time.Second) / time.Second)
}

// Active reports whether a countdown is running.
func (t *QRTimer) Active() bool {
	return t.Remaining() > 0
}
