package accounts

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeQRIdempotent(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{"  2@abcdef==  ", "2@abcdef=="},
		{"data:image/png;base64,iVBORw0KGgo=", "iVBORw0KGgo="},
		{"data:text/plain,2@raw", "2@raw"},
		{"2@plain", "2@plain"},
		{"", ""},
	}
	for _, tc := range cases {
		once := NormalizeQR(tc.raw)
		assert.Equal(t, tc.want, once)
		assert.Equal(t, once, NormalizeQR(once), "normalization must be a fixed point")
	}
}

func TestExtractQRPriority(t *testing.T) {
	// qr wins over qrCode wins over code
	got := ExtractQR(map[string]interface{}{
		"qr":     "2@first",
		"qrCode": "2@second",
		"code":   "2@third",
	})
	assert.Equal(t, "2@first", got)

	got = ExtractQR(map[string]interface{}{
		"qrCode": "2@second",
		"code":   "2@third",
	})
	assert.Equal(t, "2@second", got)

	got = ExtractQR(map[string]interface{}{"code": "2@third"})
	assert.Equal(t, "2@third", got)

	assert.Equal(t, "2@bare", ExtractQR("  2@bare "))
	assert.Empty(t, ExtractQR(map[string]interface{}{"unrelated": true}))
	assert.Empty(t, ExtractQR(42))
}

func TestDecodeEventUnknownName(t *testing.T) {
	_, err := DecodeEvent("whatsapp-message-received", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownEvent))
}

func TestDecodeEventObjectPayload(t *testing.T) {
	ev, err := DecodeEvent(WireEventConnected, map[string]interface{}{
		"account_id":   "wa-1",
		"name":         "sales",
		"phone_number": "+5511999990000",
	})
	require.NoError(t, err)
	assert.Equal(t, EventConnected, ev.Kind)
	assert.Equal(t, "wa-1", ev.AccountID)
	assert.Equal(t, "sales", ev.AccountName)
	assert.Equal(t, "+5511999990000", ev.PhoneNumber)
}

func TestDecodeEventAltSpellings(t *testing.T) {
	ev, err := DecodeEvent(WireEventDisconnected, map[string]interface{}{
		"accountId": "wa-2",
		"attempts":  "4", // weakly typed: string number
	})
	require.NoError(t, err)
	assert.Equal(t, "wa-2", ev.AccountID)
	assert.Equal(t, 4, ev.AttemptCount)
}

func TestDecodeEventStringQRPayload(t *testing.T) {
	ev, err := DecodeEvent(WireEventQRCode, "data:image/png;base64,2@abc")
	require.NoError(t, err)
	assert.Equal(t, "2@abc", ev.QRCode)
	assert.Empty(t, ev.AccountID)
}

func TestDecodeEventNilPayload(t *testing.T) {
	ev, err := DecodeEvent(WireEventQRExpired, nil)
	require.NoError(t, err)
	assert.Equal(t, EventQRExpired, ev.Kind)
}
