package accounts

import (
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

// Realtime event names as emitted by the backend, scoped to the owning
// user's room.
const (
	WireEventQRCode            = "whatsapp-qr-code"
	WireEventConnected         = "whatsapp-connected"
	WireEventDisconnected      = "whatsapp-disconnected"
	WireEventQRExpired         = "whatsapp-qr-expired"
	WireEventConnectionTimeout = "whatsapp-connection-timeout"
	WireEventSessionReset      = "whatsapp-session-reset"
)

// ErrUnknownEvent is returned for event names outside the whatsapp-* set.
var ErrUnknownEvent = errors.New("unknown realtime event")

var wireKinds = map[string]EventKind{
	WireEventQRCode:            EventQRCode,
	WireEventConnected:         EventConnected,
	WireEventDisconnected:      EventDisconnected,
	WireEventQRExpired:         EventQRExpired,
	WireEventConnectionTimeout: EventConnectionTimeout,
	WireEventSessionReset:      EventSessionReset,
}

// eventWire mirrors every field spelling the backend has been observed to
// use. Selection and priority rules are applied after decoding.
type eventWire struct {
	AccountIDCamel string `mapstructure:"accountId"`
	AccountIDSnake string `mapstructure:"account_id"`
	ID             string `mapstructure:"id"`

	AccountName string `mapstructure:"accountName"`
	Name        string `mapstructure:"name"`

	QR         string `mapstructure:"qr"`
	QRCode     string `mapstructure:"qrCode"`
	Code       string `mapstructure:"code"`

	PhoneCamel string `mapstructure:"phoneNumber"`
	PhoneSnake string `mapstructure:"phone_number"`

	AttemptCount int `mapstructure:"attemptCount"`
	Attempts     int `mapstructure:"attempts"`
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// NormalizeQR reduces a raw QR payload to the canonical encoding: the bare
// pairing string, trimmed, with any data-URL envelope stripped. The result
// is a fixed point — normalizing twice yields identical output.
func NormalizeQR(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ","); i >= 0 {
			s = strings.TrimSpace(s[i+1:])
		}
	}
	return s
}

// ExtractQR pulls the QR value out of a loosely-shaped payload, checking the
// alternate field names in fixed priority order: qr, qrCode, code, then the
// payload itself when it is a bare string. The result is normalized; empty
// output means no usable QR was present.
func ExtractQR(payload interface{}) string {
	switch v := payload.(type) {
	case string:
		return NormalizeQR(v)
	case map[string]interface{}:
		var w eventWire
		if err := decodeWire(v, &w); err != nil {
			return ""
		}
		return NormalizeQR(firstNonEmpty(w.QR, w.QRCode, w.Code))
	}
	return ""
}

func decodeWire(payload map[string]interface{}, out *eventWire) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return dec.Decode(payload)
}

// DecodeEvent normalizes one inbound realtime message into an Event. The
// payload may be a JSON object or, for QR events, a bare string. Unknown
// event names return ErrUnknownEvent; malformed payloads yield an Event with
// whatever could be extracted (handlers treat an empty QR as a no-op).
func DecodeEvent(name string, payload interface{}) (Event, error) {
	kind, ok := wireKinds[name]
	if !ok {
		return Event{}, errors.Wrap(ErrUnknownEvent, name)
	}

	ev := Event{Kind: kind}

	switch v := payload.(type) {
	case string:
		if kind == EventQRCode {
			ev.QRCode = NormalizeQR(v)
		}
	case map[string]interface{}:
		var w eventWire
		if err := decodeWire(v, &w); err != nil {
			return ev, errors.Wrap(err, "decode realtime payload")
		}
		ev.AccountID = firstNonEmpty(w.AccountIDCamel, w.AccountIDSnake, w.ID)
		ev.AccountName = firstNonEmpty(w.AccountName, w.Name)
		ev.PhoneNumber = firstNonEmpty(w.PhoneCamel, w.PhoneSnake)
		ev.QRCode = NormalizeQR(firstNonEmpty(w.QR, w.QRCode, w.Code))
		ev.AttemptCount = w.AttemptCount
		if ev.AttemptCount == 0 {
			ev.AttemptCount = w.Attempts
		}
	case nil:
		// events like qr-expired may carry no payload at all
	default:
		return ev, errors.Errorf("unsupported payload type %T", payload)
	}

	return ev, nil
}
