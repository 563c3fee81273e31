package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inlinesoft/whatsdesk/internal/accounts"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{
		BaseURL:        srv.URL,
		UserID:         "user-1",
		OrganizationID: "org-1",
	}, StaticToken("tok-123"))
}

func TestListAccountsDecodesAlternateFieldNames(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/whatsapp-accounts", r.URL.Path)
		assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))
		assert.Equal(t, "user-1", r.Header.Get("X-User-Id"))
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"accounts": []map[string]interface{}{
				{
					"id":          "row-1",
					"accountId":   "wa-1",
					"name":        "sales",
					"status":      "CONNECTED",
					"phoneNumber": "+5511999990000",
					"created_at":  "2025-05-01T10:00:00Z",
				},
				{
					"id":           "row-2",
					"account_id":   "wa-2",
					"name":         "support",
					"status":       "connecting",
					"qr_code":      "data:image/png;base64,2@abc",
					"phone_number": "",
				},
				{
					// no channel id at all: row id doubles as the key
					"id":     "row-3",
					"name":   "billing",
					"status": "weird-status",
				},
			},
		})
	})

	list, err := c.ListAccounts(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 3)

	assert.Equal(t, "wa-1", list[0].AccountID)
	assert.Equal(t, accounts.StatusConnected, list[0].Status)
	assert.Equal(t, "+5511999990000", list[0].PhoneNumber)
	assert.False(t, list[0].CreatedAt.IsZero())

	assert.Equal(t, "wa-2", list[1].AccountID)
	assert.Equal(t, accounts.StatusConnecting, list[1].Status)
	assert.Equal(t, "2@abc", list[1].QRCode, "QR is normalized on ingest")

	assert.Equal(t, "row-3", list[2].AccountID)
	assert.Equal(t, accounts.StatusDisconnected, list[2].Status, "unknown status folds to disconnected")
}

func TestListAccountsErrorStatus(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"success": false, "message": "boom"})
	})

	_, err := c.ListAccounts(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestConnectAccountAlreadyConnectedBody(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/whatsapp-accounts/wa-1/connect", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		// some deployments use a 409 with a message body for this case
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"success":     false,
			"message":     "Conta já conectada",
			"phoneNumber": "+5511999990000",
		})
	})

	res, err := c.ConnectAccount(context.Background(), "wa-1")
	require.NoError(t, err)
	assert.True(t, res.Connected())
	assert.Equal(t, "+5511999990000", res.PhoneNumber)
}

func TestConnectAccountAccepted(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"success": true})
	})

	res, err := c.ConnectAccount(context.Background(), "wa-1")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.False(t, res.Connected())
}

func TestCreateAccount(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		assert.Equal(t, "fresh", body["name"])
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"account": map[string]interface{}{"id": "row-9", "accountId": "wa-9", "name": "fresh", "status": "disconnected"},
		})
	})

	acct, err := c.CreateAccount(context.Background(), accounts.CreateAccountRequest{Name: "fresh", Mode: "assistant"})
	require.NoError(t, err)
	assert.Equal(t, "wa-9", acct.AccountID)
	assert.Equal(t, "fresh", acct.Name)
}

func TestPendingReconnects(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/whatsapp-reconnect/pending", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"tokens": []map[string]interface{}{
				{"account_id": "wa-1"},
				{"account_id": ""},
				{"account_id": "wa-3"},
			},
		})
	})

	ids, err := c.PendingReconnects(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"wa-1", "wa-3"}, ids)
}

func TestDisconnectAll(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/whatsapp-accounts/disconnect-all", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"success":           true,
			"disconnectedCount": 3,
		})
	})

	n, err := c.DisconnectAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}
