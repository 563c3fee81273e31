package accounts

// EventKind names a normalized realtime or locally-synthesized lifecycle
// event.
type EventKind string

const (
	EventQRCode            EventKind = "qr-code"
	EventConnected         EventKind = "connected"
	EventDisconnected      EventKind = "disconnected"
	EventQRExpired         EventKind = "qr-expired"
	EventConnectionTimeout EventKind = "connection-timeout"
	EventSessionReset      EventKind = "session-reset"
)

// Event is a normalized account lifecycle event. AccountID may be either of
// the two id fields of the target account; QRCode is already normalized.
type Event struct {
	Kind         EventKind
	AccountID    string
	AccountName  string
	QRCode       string
	PhoneNumber  string
	AttemptCount int
}

// Transition applies one lifecycle event to the current account value and
// returns the next value. It is a pure function; every state-machine rule
// lives in this switch. Applying the same event twice yields the same result.
func Transition(cur Account, ev Event) Account {
	next := cur
	switch ev.Kind {
	case EventQRCode:
		next.Status = StatusConnecting
		next.QRCode = ev.QRCode
	case EventConnected:
		next.Status = StatusConnected
		if ev.PhoneNumber != "" {
			next.PhoneNumber = ev.PhoneNumber
		}
		next.JustConnected = true
	case EventDisconnected:
		if ev.AttemptCount >= DisconnectAttemptCeiling {
			next.Status = StatusError
		} else {
			next.Status = StatusDisconnected
		}
	case EventQRExpired:
		// The server invalidated the displayed QR; the user must retry.
		if cur.Status == StatusConnecting {
			next.Status = StatusDisconnected
		}
	case EventConnectionTimeout:
		// Only a pending pairing can time out; a stale timeout arriving
		// after a connected event must not flap the account into error.
		if cur.Status == StatusConnecting {
			next.Status = StatusError
		}
	case EventSessionReset:
		next.Status = StatusDisconnected
	}
	return clampInvariants(next)
}

// clampInvariants enforces the field/state invariants: a QR code exists only
// while connecting, a phone number only while connected, and the
// just-connected flag only while connected.
func clampInvariants(a Account) Account {
	if a.Status != StatusConnecting {
		a.QRCode = ""
	}
	if a.Status != StatusConnected {
		a.PhoneNumber = ""
		a.JustConnected = false
	}
	return a
}
