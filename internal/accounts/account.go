package accounts

import (
	"strings"
	"time"
)

// Status is the lifecycle state of one WhatsApp account connection.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

// ParseStatus maps a wire status string to a Status. Unknown or empty
// values fold to disconnected, the safe default for a channel whose state
// cannot be determined.
func ParseStatus(s string) Status {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case StatusConnected:
		return StatusConnected
	case StatusConnecting:
		return StatusConnecting
	case StatusError:
		return StatusError
	default:
		return StatusDisconnected
	}
}

// DisconnectAttemptCeiling is the attempt count at which a disconnected
// event is treated as a hard error instead of a plain disconnect.
const DisconnectAttemptCeiling = 5

// Account is the registry view of one messaging-channel connection. The
// backend may expose both an internal row id (ID) and a channel-specific id
// (AccountID); both are equivalent matching keys for the same logical
// account.
type Account struct {
	ID          string    `json:"id"`
	AccountID   string    `json:"account_id"`
	Name        string    `json:"name"`
	Status      Status    `json:"status"`
	PhoneNumber string    `json:"phone_number,omitempty"`
	QRCode      string    `json:"qr_code,omitempty"`
	// JustConnected is a transient signal set by a connected event so UI
	// consumers can auto-close a QR dialog. Cleared on the next transition.
	JustConnected bool      `json:"just_connected,omitempty"`
	CreatedAt     time.Time `json:"created_at,omitempty"`
	UpdatedAt     time.Time `json:"updated_at,omitempty"`
}

// Key returns the canonical identifier, preferring the channel-specific id.
func (a Account) Key() string {
	if a.AccountID != "" {
		return a.AccountID
	}
	return a.ID
}

// Matches reports whether id refers to this account under the tolerant
// matching rule: it equals either the row id or the channel id. An empty id
// never matches.
func (a Account) Matches(id string) bool {
	if strings.TrimSpace(id) == "" {
		return false
	}
	return id == a.ID || id == a.AccountID
}

// AccountPatch is a partial mutation applied through Registry.Upsert. ID and
// AccountID locate the target entry; nil fields are left untouched.
type AccountPatch struct {
	ID          string
	AccountID   string
	Name        *string
	Status      *Status
	PhoneNumber *string
	QRCode      *string
}

func strptr(s string) *string { return &s }

func statusptr(s Status) *Status { return &s }

// PatchName builds a rename patch for the given id.
func PatchName(id, name string) AccountPatch {
	return AccountPatch{ID: id, AccountID: id, Name: strptr(name)}
}

// PatchStatus builds a status patch for the given id.
func PatchStatus(id string, st Status) AccountPatch {
	return AccountPatch{ID: id, AccountID: id, Status: statusptr(st)}
}
