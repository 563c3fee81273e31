package backend

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/guonaihong/gout"
	"github.com/guonaihong/gout/dataflow"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/inlinesoft/whatsdesk/internal/accounts"
)

// AuthProvider yields the bearer token for backend calls. The token can be
// rotated at runtime; the client asks before every request.
type AuthProvider interface {
	BearerToken() string
}

// StaticToken is an AuthProvider for a fixed API token.
type StaticToken string

func (t StaticToken) BearerToken() string { return string(t) }

// Config carries the backend connection settings.
type Config struct {
	BaseURL        string
	UserID         string
	OrganizationID string
	Timeout        time.Duration
}

// Client talks to the hosted CRM REST API. It implements accounts.Backend.
type Client struct {
	cfg  Config
	auth AuthProvider
	gt   *dataflow.Gout
}

var _ accounts.Backend = (*Client)(nil)

func NewClient(cfg Config, auth AuthProvider) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Client{
		cfg:  cfg,
		auth: auth,
		gt:   gout.New(&http.Client{Timeout: cfg.Timeout}),
	}
}

func (c *Client) url(path string) string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + path
}

func (c *Client) headers() gout.H {
	return gout.H{
		"Authorization":     "Bearer " + c.auth.BearerToken(),
		"X-User-Id":         c.cfg.UserID,
		"X-Organization-Id": c.cfg.OrganizationID,
		"Accept":            "application/json",
	}
}

// apiError turns a non-2xx status plus optional body message into an error.
func apiError(op string, code int, message string) error {
	if message != "" {
		return errors.Errorf("%s: backend status %d: %s", op, code, message)
	}
	return errors.Errorf("%s: backend status %d", op, code)
}

// wireAccount is the backend's account representation. Historical API
// versions disagree on field names, so both spellings of each field are
// accepted and merged.
type wireAccount struct {
	ID           string `json:"id"`
	AccountID    string `json:"accountId"`
	AccountIDAlt string `json:"account_id"`
	Name         string `json:"name"`
	Status       string `json:"status"`
	Phone        string `json:"phoneNumber"`
	PhoneAlt     string `json:"phone_number"`
	QRCode       string `json:"qrCode"`
	QRCodeAlt    string `json:"qr_code"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

func firstOf(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func parseWireTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := dateparse.ParseAny(s)
	if err != nil {
		zap.L().Debug("backend: unparseable timestamp", zap.String("value", s))
		return time.Time{}
	}
	return t
}

func (w wireAccount) toAccount() accounts.Account {
	a := accounts.Account{
		ID:          w.ID,
		AccountID:   firstOf(w.AccountID, w.AccountIDAlt),
		Name:        w.Name,
		Status:      accounts.ParseStatus(w.Status),
		PhoneNumber: firstOf(w.Phone, w.PhoneAlt),
		QRCode:      accounts.NormalizeQR(firstOf(w.QRCode, w.QRCodeAlt)),
		CreatedAt:   parseWireTime(w.CreatedAt),
		UpdatedAt:   parseWireTime(w.UpdatedAt),
	}
	if a.AccountID == "" {
		a.AccountID = a.ID
	}
	return a
}

type listResponse struct {
	Success  bool          `json:"success"`
	Message  string        `json:"message"`
	Accounts []wireAccount `json:"accounts"`
}

// ListAccounts fetches the full account set for the configured user.
func (c *Client) ListAccounts(ctx context.Context) ([]accounts.Account, error) {
	var (
		resp listResponse
		code int
	)
	err := c.gt.GET(c.url("/api/whatsapp-accounts")).
		WithContext(ctx).
		SetHeader(c.headers()).
		Code(&code).
		BindJSON(&resp).
		Do()
	if err != nil {
		return nil, errors.Wrap(err, "list accounts")
	}
	if code != http.StatusOK || !resp.Success {
		return nil, apiError("list accounts", code, resp.Message)
	}
	out := make([]accounts.Account, 0, len(resp.Accounts))
	for _, w := range resp.Accounts {
		out = append(out, w.toAccount())
	}
	return out, nil
}

type createResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Account wireAccount `json:"account"`
}

// CreateAccount provisions a new channel.
func (c *Client) CreateAccount(ctx context.Context, req accounts.CreateAccountRequest) (accounts.Account, error) {
	var (
		resp createResponse
		code int
	)
	err := c.gt.POST(c.url("/api/whatsapp-accounts")).
		WithContext(ctx).
		SetHeader(c.headers()).
		SetJSON(req).
		Code(&code).
		BindJSON(&resp).
		Do()
	if err != nil {
		return accounts.Account{}, errors.Wrap(err, "create account")
	}
	if code != http.StatusOK && code != http.StatusCreated || !resp.Success {
		return accounts.Account{}, apiError("create account", code, resp.Message)
	}
	return resp.Account.toAccount(), nil
}

// connectResponse matches both connect and regenerate-qr.
type connectResponse struct {
	Success          bool   `json:"success"`
	Message          string `json:"message"`
	AlreadyConnected bool   `json:"alreadyConnected"`
	Status           string `json:"status"`
	ConnectionStatus string `json:"connectionStatus"`
	PhoneNumber      string `json:"phoneNumber"`
}

func (r connectResponse) toResult() accounts.ConnectResult {
	return accounts.ConnectResult{
		Success:          r.Success,
		Message:          r.Message,
		AlreadyConnected: r.AlreadyConnected,
		Status:           r.Status,
		ConnectionStatus: r.ConnectionStatus,
		PhoneNumber:      r.PhoneNumber,
	}
}

func (c *Client) connectCall(ctx context.Context, op, path string) (accounts.ConnectResult, error) {
	var (
		resp connectResponse
		code int
	)
	err := c.gt.POST(c.url(path)).
		WithContext(ctx).
		SetHeader(c.headers()).
		Code(&code).
		BindJSON(&resp).
		Do()
	if err != nil {
		return accounts.ConnectResult{}, errors.Wrap(err, op)
	}
	// Non-2xx still carries a meaningful body (already-connected is reported
	// with success=false by some deployments), so the result is returned as
	// long as the body decoded.
	if code >= http.StatusInternalServerError {
		return accounts.ConnectResult{}, apiError(op, code, resp.Message)
	}
	return resp.toResult(), nil
}

// ConnectAccount asks the backend to start pairing.
func (c *Client) ConnectAccount(ctx context.Context, id string) (accounts.ConnectResult, error) {
	return c.connectCall(ctx, "connect account",
		fmt.Sprintf("/api/whatsapp-accounts/%s/connect", id))
}

// RegenerateQR asks the backend for a fresh pairing QR.
func (c *Client) RegenerateQR(ctx context.Context, id string) (accounts.ConnectResult, error) {
	return c.connectCall(ctx, "regenerate qr",
		fmt.Sprintf("/api/whatsapp-accounts/%s/regenerate-qr", id))
}

type okResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// DisconnectAccount unlinks the channel server-side.
func (c *Client) DisconnectAccount(ctx context.Context, id string) error {
	var (
		resp okResponse
		code int
	)
	err := c.gt.POST(c.url(fmt.Sprintf("/api/whatsapp-accounts/%s/disconnect", id))).
		WithContext(ctx).
		SetHeader(c.headers()).
		Code(&code).
		BindJSON(&resp).
		Do()
	if err != nil {
		return errors.Wrap(err, "disconnect account")
	}
	if code != http.StatusOK || !resp.Success {
		return apiError("disconnect account", code, resp.Message)
	}
	return nil
}

// DeleteAccount removes the channel.
func (c *Client) DeleteAccount(ctx context.Context, id string) error {
	var (
		resp okResponse
		code int
	)
	err := c.gt.DELETE(c.url("/api/whatsapp-accounts/" + id)).
		WithContext(ctx).
		SetHeader(c.headers()).
		Code(&code).
		BindJSON(&resp).
		Do()
	if err != nil {
		return errors.Wrap(err, "delete account")
	}
	if code != http.StatusOK || !resp.Success {
		return apiError("delete account", code, resp.Message)
	}
	return nil
}

// UpdateAccount renames the channel.
func (c *Client) UpdateAccount(ctx context.Context, id, name string) error {
	var (
		resp okResponse
		code int
	)
	err := c.gt.PUT(c.url("/api/whatsapp-accounts/" + id)).
		WithContext(ctx).
		SetHeader(c.headers()).
		SetJSON(gout.H{"name": name}).
		Code(&code).
		BindJSON(&resp).
		Do()
	if err != nil {
		return errors.Wrap(err, "update account")
	}
	if code != http.StatusOK || !resp.Success {
		return apiError("update account", code, resp.Message)
	}
	return nil
}

type disconnectAllResponse struct {
	Success           bool   `json:"success"`
	Message           string `json:"message"`
	DisconnectedCount int    `json:"disconnectedCount"`
}

// DisconnectAll unlinks every channel of the user in one call.
func (c *Client) DisconnectAll(ctx context.Context) (int, error) {
	var (
		resp disconnectAllResponse
		code int
	)
	err := c.gt.POST(c.url("/api/whatsapp-accounts/disconnect-all")).
		WithContext(ctx).
		SetHeader(c.headers()).
		Code(&code).
		BindJSON(&resp).
		Do()
	if err != nil {
		return 0, errors.Wrap(err, "disconnect all")
	}
	if code != http.StatusOK || !resp.Success {
		return 0, apiError("disconnect all", code, resp.Message)
	}
	return resp.DisconnectedCount, nil
}

type pendingResponse struct {
	Tokens []struct {
		AccountID string `json:"account_id"`
	} `json:"tokens"`
}

// PendingReconnects fetches the server-side set of accounts with an
// outstanding reconnect notification.
func (c *Client) PendingReconnects(ctx context.Context) ([]string, error) {
	var (
		resp pendingResponse
		code int
	)
	err := c.gt.GET(c.url("/api/whatsapp-reconnect/pending")).
		WithContext(ctx).
		SetHeader(c.headers()).
		Code(&code).
		BindJSON(&resp).
		Do()
	if err != nil {
		return nil, errors.Wrap(err, "fetch pending reconnects")
	}
	if code != http.StatusOK {
		return nil, apiError("fetch pending reconnects", code, "")
	}
	ids := make([]string, 0, len(resp.Tokens))
	for _, t := range resp.Tokens {
		if t.AccountID != "" {
			ids = append(ids, t.AccountID)
		}
	}
	return ids, nil
}
