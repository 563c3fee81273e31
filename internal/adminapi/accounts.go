package adminapi

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/inlinesoft/whatsdesk/internal/accounts"
	"github.com/inlinesoft/whatsdesk/internal/webserver"
)

func registerAccountRoutes() {
	webserver.ApiGET("/whatsapp/accounts", listAccounts)
	webserver.ApiPOST("/whatsapp/accounts", createAccount)
	webserver.ApiPOST("/whatsapp/accounts/disconnect-all", disconnectAllAccounts)
	webserver.ApiPOST("/whatsapp/accounts/reconnect-all", reconnectAllAccounts)
	webserver.ApiPOST("/whatsapp/accounts/:id/connect", connectAccount)
	webserver.ApiPOST("/whatsapp/accounts/:id/regenerate-qr", regenerateAccountQR)
	webserver.ApiPOST("/whatsapp/accounts/:id/disconnect", disconnectAccount)
	webserver.ApiPUT("/whatsapp/accounts/:id", updateAccount)
	webserver.ApiDELETE("/whatsapp/accounts/:id", deleteAccount)
	webserver.ApiGET("/whatsapp/qr", getActiveQR)
	webserver.ApiGET("/whatsapp/status", getConnectionStatus)
	webserver.ApiGET("/whatsapp/pending", listPendingReconnects)
	webserver.ApiPOST("/whatsapp/pending/refresh", refreshPendingReconnects)
	webserver.ApiPOST("/whatsapp/pending/notify", notifyPendingReconnects)
}

// listAccounts returns the mirrored account set. force=true bypasses the
// cache and always hits the backend.
func listAccounts(c echo.Context) error {
	svc := GetService(c)
	force := strings.EqualFold(c.QueryParam("force"), "true")
	list, err := svc.Fetch(c.Request().Context(), force, true)
	if err != nil {
		// stale data beats an error page when the backend is unreachable
		cached := svc.Accounts()
		if len(cached) > 0 {
			zap.L().Warn("adminapi: serving cached accounts after fetch failure", zap.Error(err))
			return ok(c, map[string]interface{}{"accounts": cached, "stale": true})
		}
		return fail(c, http.StatusBadGateway, "BACKEND_ERROR", "Failed to fetch accounts", err.Error())
	}
	return ok(c, map[string]interface{}{"accounts": list, "stale": false})
}

func createAccount(c echo.Context) error {
	var payload accounts.CreateAccountRequest
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request", err.Error())
	}
	if strings.TrimSpace(payload.Name) == "" {
		return fail(c, http.StatusBadRequest, "MISSING_FIELDS", "name is required", nil)
	}
	acct, err := GetService(c).CreateAccount(c.Request().Context(), payload)
	if err != nil {
		return fail(c, http.StatusBadGateway, "CREATE_FAILED", "Failed to create account", err.Error())
	}
	return ok(c, map[string]interface{}{"account": acct})
}

func connectAccount(c echo.Context) error {
	return doConnect(c, false)
}

func regenerateAccountQR(c echo.Context) error {
	return doConnect(c, true)
}

func doConnect(c echo.Context, regenerate bool) error {
	id := c.Param("id")
	if id == "" {
		return fail(c, http.StatusBadRequest, "MISSING_FIELDS", "account id required", nil)
	}
	svc := GetService(c)
	var err error
	if regenerate {
		err = svc.RegenerateQR(c.Request().Context(), id)
	} else {
		err = svc.ConnectAccount(c.Request().Context(), id)
	}
	if err != nil {
		if accounts.IsThrottled(err) {
			return fail(c, http.StatusTooManyRequests, "RECONNECT_THROTTLED", "Reconnect attempted too soon", err.Error())
		}
		return fail(c, http.StatusBadGateway, "CONNECT_FAILED", "Failed to start connection", err.Error())
	}
	return ok(c, map[string]interface{}{"started": true})
}

func disconnectAccount(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return fail(c, http.StatusBadRequest, "MISSING_FIELDS", "account id required", nil)
	}
	if err := GetService(c).DisconnectAccount(c.Request().Context(), id); err != nil {
		return fail(c, http.StatusBadGateway, "DISCONNECT_FAILED", "Failed to disconnect account", err.Error())
	}
	return ok(c, map[string]interface{}{"disconnected": true})
}

func disconnectAllAccounts(c echo.Context) error {
	n, err := GetService(c).DisconnectAllAccounts(c.Request().Context())
	if err != nil {
		return fail(c, http.StatusBadGateway, "DISCONNECT_FAILED", "Failed to disconnect accounts", err.Error())
	}
	return ok(c, map[string]interface{}{"disconnected_count": n})
}

func reconnectAllAccounts(c echo.Context) error {
	n, err := GetService(c).ReconnectAllAccounts(c.Request().Context())
	if err != nil {
		return fail(c, http.StatusBadGateway, "RECONNECT_FAILED", "Some reconnects failed", err.Error())
	}
	return ok(c, map[string]interface{}{"attempted": n})
}

func updateAccount(c echo.Context) error {
	id := c.Param("id")
	var payload struct {
		Name string `json:"name"`
	}
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request", err.Error())
	}
	if id == "" || strings.TrimSpace(payload.Name) == "" {
		return fail(c, http.StatusBadRequest, "MISSING_FIELDS", "id and name are required", nil)
	}
	if err := GetService(c).UpdateAccount(c.Request().Context(), id, payload.Name); err != nil {
		return fail(c, http.StatusBadGateway, "UPDATE_FAILED", "Failed to update account", err.Error())
	}
	return ok(c, map[string]interface{}{"updated": true})
}

func deleteAccount(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return fail(c, http.StatusBadRequest, "MISSING_FIELDS", "account id required", nil)
	}
	if err := GetService(c).DeleteAccount(c.Request().Context(), id); err != nil {
		return fail(c, http.StatusBadGateway, "DELETE_FAILED", "Failed to delete account", err.Error())
	}
	return ok(c, map[string]interface{}{"removed": true})
}

// getActiveQR returns the QR currently awaiting a scan plus the seconds left
// in its validity window.
func getActiveQR(c echo.Context) error {
	accountID, code, remaining := GetService(c).QRState()
	return ok(c, map[string]interface{}{
		"account_id":     accountID,
		"code":           code,
		"has_qr":         code != "",
		"expires_in_sec": remaining,
	})
}

// getConnectionStatus summarizes the registry by state.
func getConnectionStatus(c echo.Context) error {
	svc := GetService(c)
	reg := svc.Registry()
	return ok(c, map[string]interface{}{
		"total":        reg.Len(),
		"connected":    reg.CountByStatus(accounts.StatusConnected),
		"connecting":   reg.CountByStatus(accounts.StatusConnecting),
		"disconnected": reg.CountByStatus(accounts.StatusDisconnected),
		"error":        reg.CountByStatus(accounts.StatusError),
		"loading":      svc.Loading(),
	})
}

func listPendingReconnects(c echo.Context) error {
	return ok(c, map[string]interface{}{
		"pending": GetService(c).Pending().List(),
	})
}

func refreshPendingReconnects(c echo.Context) error {
	if err := GetService(c).RefreshPending(c.Request().Context()); err != nil {
		return fail(c, http.StatusBadGateway, "REFRESH_FAILED", "Failed to refresh pending reconnects", err.Error())
	}
	return ok(c, map[string]interface{}{
		"pending": GetService(c).Pending().List(),
	})
}

func notifyPendingReconnects(c echo.Context) error {
	if !GetApp(c).GetSettingsBoolValue("notify", "ReconnectMailEnabled") {
		return fail(c, http.StatusForbidden, "NOTIFY_DISABLED", "Reconnect emails are disabled in settings", nil)
	}
	sent, err := GetService(c).SendReconnectEmails(c.Request().Context())
	if err != nil && sent == 0 {
		return fail(c, http.StatusInternalServerError, "NOTIFY_FAILED", "Failed to send reconnect notices", err.Error())
	}
	return ok(c, map[string]interface{}{"sent": sent})
}
