package accounts

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransitionQRCode(t *testing.T) {
	cur := Account{ID: "a1", AccountID: "wa-1", Status: StatusDisconnected}
	next := Transition(cur, Event{Kind: EventQRCode, AccountID: "wa-1", QRCode: "2@abc"})

	assert.Equal(t, StatusConnecting, next.Status)
	assert.Equal(t, "2@abc", next.QRCode)
	assert.Empty(t, next.PhoneNumber)
}

func TestTransitionConnected(t *testing.T) {
	cur := Account{ID: "a1", AccountID: "wa-1", Status: StatusConnecting, QRCode: "2@abc"}
	next := Transition(cur, Event{Kind: EventConnected, AccountID: "wa-1", PhoneNumber: "+5511999990000"})

	assert.Equal(t, StatusConnected, next.Status)
	assert.Equal(t, "+5511999990000", next.PhoneNumber)
	assert.True(t, next.JustConnected)
	assert.Empty(t, next.QRCode, "QR must be cleared outside connecting")
}

func TestTransitionConnectedKeepsPhoneWhenEventOmitsIt(t *testing.T) {
	cur := Account{AccountID: "wa-1", Status: StatusConnected, PhoneNumber: "+5511999990000"}
	next := Transition(cur, Event{Kind: EventConnected, AccountID: "wa-1"})
	assert.Equal(t, "+5511999990000", next.PhoneNumber)
}

func TestTransitionDisconnected(t *testing.T) {
	cur := Account{AccountID: "wa-1", Status: StatusConnected, PhoneNumber: "+55", JustConnected: true}
	next := Transition(cur, Event{Kind: EventDisconnected, AccountID: "wa-1", AttemptCount: 2})

	assert.Equal(t, StatusDisconnected, next.Status)
	assert.Empty(t, next.PhoneNumber)
	assert.False(t, next.JustConnected)
}

func TestTransitionDisconnectedAtAttemptCeiling(t *testing.T) {
	cur := Account{AccountID: "wa-1", Status: StatusConnected}
	next := Transition(cur, Event{Kind: EventDisconnected, AccountID: "wa-1", AttemptCount: DisconnectAttemptCeiling})
	assert.Equal(t, StatusError, next.Status)

	next = Transition(cur, Event{Kind: EventDisconnected, AccountID: "wa-1", AttemptCount: DisconnectAttemptCeiling + 3})
	assert.Equal(t, StatusError, next.Status)
}

func TestTransitionQRExpired(t *testing.T) {
	connecting := Account{AccountID: "wa-1", Status: StatusConnecting, QRCode: "2@abc"}
	next := Transition(connecting, Event{Kind: EventQRExpired, AccountID: "wa-1"})
	assert.Equal(t, StatusDisconnected, next.Status)
	assert.Empty(t, next.QRCode)

	// a stale expiry after the account already connected must not regress it
	connected := Account{AccountID: "wa-1", Status: StatusConnected, PhoneNumber: "+55"}
	next = Transition(connected, Event{Kind: EventQRExpired, AccountID: "wa-1"})
	assert.Equal(t, StatusConnected, next.Status)
	assert.Equal(t, "+55", next.PhoneNumber)
}

func TestTransitionConnectionTimeoutOnlyFromConnecting(t *testing.T) {
	connecting := Account{AccountID: "wa-1", Status: StatusConnecting}
	next := Transition(connecting, Event{Kind: EventConnectionTimeout, AccountID: "wa-1"})
	assert.Equal(t, StatusError, next.Status)

	connected := Account{AccountID: "wa-1", Status: StatusConnected, PhoneNumber: "+55"}
	next = Transition(connected, Event{Kind: EventConnectionTimeout, AccountID: "wa-1"})
	assert.Equal(t, StatusConnected, next.Status)
}

func TestTransitionSessionReset(t *testing.T) {
	cur := Account{AccountID: "wa-1", Status: StatusConnected, PhoneNumber: "+55"}
	next := Transition(cur, Event{Kind: EventSessionReset, AccountID: "wa-1"})

	assert.Equal(t, StatusDisconnected, next.Status)
	assert.Empty(t, next.PhoneNumber)
	assert.Empty(t, next.QRCode)
}

func TestTransitionIdempotent(t *testing.T) {
	cur := Account{AccountID: "wa-1", Status: StatusDisconnected}
	ev := Event{Kind: EventQRCode, AccountID: "wa-1", QRCode: "2@abc"}

	once := Transition(cur, ev)
	twice := Transition(once, ev)
	assert.Equal(t, once, twice)
}
