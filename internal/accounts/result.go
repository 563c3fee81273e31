package accounts

import "strings"

// ConnectResult is the interpreted body of a connect / regenerate-qr call.
// The backend signals "channel was already linked" in several alternative
// ways; any one of them means the client must transition the account to
// connected immediately and must not wait for a realtime event (none will be
// emitted for an already-connected channel).
type ConnectResult struct {
	Success          bool   `json:"success"`
	Message          string `json:"message,omitempty"`
	AlreadyConnected bool   `json:"alreadyConnected,omitempty"`
	Status           string `json:"status,omitempty"`
	ConnectionStatus string `json:"connectionStatus,omitempty"`
	PhoneNumber      string `json:"phoneNumber,omitempty"`
}

// alreadyConnectedPhrases are the known backend message wordings, in the
// deployment's languages. Substring matching is the last-resort fallback;
// structured fields are always checked first.
var alreadyConnectedPhrases = []string{
	"already connected",
	"já conectado",
	"já conectada",
	"ja conectado",
	"ja conectada",
	"já está conectado",
	"já está conectada",
}

// Connected reports whether the response carries any recognized
// already-connected signal.
func (r ConnectResult) Connected() bool {
	if r.AlreadyConnected {
		return true
	}
	if strings.EqualFold(r.Status, string(StatusConnected)) {
		return true
	}
	if strings.EqualFold(r.ConnectionStatus, string(StatusConnected)) {
		return true
	}
	msg := strings.ToLower(r.Message)
	for _, p := range alreadyConnectedPhrases {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
