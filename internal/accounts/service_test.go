package accounts

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	mu           sync.Mutex
	accounts     []Account
	listErr      error
	listCalls    int
	connectRes   ConnectResult
	connectErr   error
	connectCalls int
	pending      []string
	disconnected []string
	deleted      []string
}

func (f *fakeBackend) ListAccounts(ctx context.Context) ([]Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]Account, len(f.accounts))
	copy(out, f.accounts)
	return out, nil
}

func (f *fakeBackend) CreateAccount(ctx context.Context, req CreateAccountRequest) (Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := Account{ID: "row-new", AccountID: "wa-new", Name: req.Name, Status: StatusDisconnected}
	f.accounts = append(f.accounts, a)
	return a, nil
}

func (f *fakeBackend) ConnectAccount(ctx context.Context, id string) (ConnectResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectCalls++
	return f.connectRes, f.connectErr
}

func (f *fakeBackend) RegenerateQR(ctx context.Context, id string) (ConnectResult, error) {
	return f.ConnectAccount(ctx, id)
}

func (f *fakeBackend) DisconnectAccount(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected = append(f.disconnected, id)
	return nil
}

func (f *fakeBackend) DeleteAccount(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeBackend) UpdateAccount(ctx context.Context, id, name string) error { return nil }

func (f *fakeBackend) DisconnectAll(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.accounts), nil
}

func (f *fakeBackend) PendingReconnects(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.pending))
	copy(out, f.pending)
	return out, nil
}

func (f *fakeBackend) setListErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listErr = err
}

func (f *fakeBackend) setAccounts(list []Account) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts = list
}

func (f *fakeBackend) setConnectRes(res ConnectResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectRes = res
}

func newTestService(b *fakeBackend) (*Service, *fakeClock) {
	svc := NewService(ServiceConfig{UserID: "user-1", OrgID: "org-1"}, b)
	clock := newFakeClock()
	svc.SetClock(clock)
	return svc, clock
}

func TestServiceConnectHappyPath(t *testing.T) {
	b := &fakeBackend{
		accounts:   []Account{{ID: "row-1", AccountID: "wa-1", Name: "sales", Status: StatusDisconnected}},
		connectRes: ConnectResult{Success: true},
	}
	svc, _ := newTestService(b)

	_, err := svc.Fetch(context.Background(), true, false)
	require.NoError(t, err)

	require.NoError(t, svc.ConnectAccount(context.Background(), "wa-1"))
	a, ok := svc.Registry().Find("wa-1")
	require.True(t, ok)
	assert.Equal(t, StatusConnecting, a.Status)

	// QR arrives over the realtime feed
	svc.HandleEvent(Event{Kind: EventQRCode, AccountID: "wa-1", QRCode: "2@abc"})
	a, _ = svc.Registry().Find("wa-1")
	assert.Equal(t, StatusConnecting, a.Status)
	assert.Equal(t, "2@abc", a.QRCode)

	accountID, code, remaining := svc.QRState()
	assert.Equal(t, "wa-1", accountID)
	assert.Equal(t, "2@abc", code)
	assert.Equal(t, 120, remaining)

	// scan completes
	svc.HandleEvent(Event{Kind: EventConnected, AccountID: "wa-1", PhoneNumber: "+5511999990000"})
	a, _ = svc.Registry().Find("wa-1")
	assert.Equal(t, StatusConnected, a.Status)
	assert.Equal(t, "+5511999990000", a.PhoneNumber)
	assert.Empty(t, a.QRCode)
	assert.True(t, a.JustConnected)

	_, code, remaining = svc.QRState()
	assert.Empty(t, code)
	assert.Zero(t, remaining)
	assert.False(t, svc.Throttle().Tracked("wa-1"))
}

func TestServiceConnectAlreadyConnected(t *testing.T) {
	b := &fakeBackend{
		accounts:   []Account{{ID: "row-1", AccountID: "wa-1", Status: StatusDisconnected}},
		connectRes: ConnectResult{Success: false, Message: "Conta já conectada"},
	}
	svc, _ := newTestService(b)
	_, err := svc.Fetch(context.Background(), true, false)
	require.NoError(t, err)

	require.NoError(t, svc.ConnectAccount(context.Background(), "wa-1"))

	a, _ := svc.Registry().Find("wa-1")
	assert.Equal(t, StatusConnected, a.Status)
	assert.Empty(t, a.QRCode, "no QR is ever shown for an already linked channel")
	assert.False(t, svc.Throttle().Tracked("wa-1"))
}

func TestServiceConnectThrottled(t *testing.T) {
	b := &fakeBackend{
		accounts:   []Account{{ID: "row-1", AccountID: "wa-1", Status: StatusDisconnected}},
		connectRes: ConnectResult{Success: true},
	}
	svc, clock := newTestService(b)
	_, err := svc.Fetch(context.Background(), true, false)
	require.NoError(t, err)

	require.NoError(t, svc.ConnectAccount(context.Background(), "wa-1"))

	err = svc.ConnectAccount(context.Background(), "wa-1")
	require.Error(t, err)
	assert.True(t, IsThrottled(err))
	assert.Equal(t, 1, b.connectCalls, "throttled attempt must not reach the backend")

	clock.Advance(11 * time.Second)
	assert.NoError(t, svc.ConnectAccount(context.Background(), "wa-1"))
	assert.Equal(t, 2, b.connectCalls)
}

func TestServiceReconcileUpgradesMissedConnect(t *testing.T) {
	b := &fakeBackend{
		accounts:   []Account{{ID: "row-1", AccountID: "wa-1", Status: StatusDisconnected}},
		connectRes: ConnectResult{Success: true},
	}
	svc, _ := newTestService(b)
	_, err := svc.Fetch(context.Background(), true, false)
	require.NoError(t, err)
	require.NoError(t, svc.ConnectAccount(context.Background(), "wa-1"))

	// the connected event is lost; the server already shows connected
	b.setAccounts([]Account{{ID: "row-1", AccountID: "wa-1", Status: StatusConnected, PhoneNumber: "+55"}})
	svc.ReconcileTick(context.Background())

	a, _ := svc.Registry().Find("wa-1")
	assert.Equal(t, StatusConnected, a.Status)
	assert.Equal(t, "+55", a.PhoneNumber)
	assert.False(t, svc.Throttle().Tracked("wa-1"))
}

func TestServiceReconcileSkipsWhenNothingConnecting(t *testing.T) {
	b := &fakeBackend{
		accounts: []Account{{ID: "row-1", AccountID: "wa-1", Status: StatusConnected, PhoneNumber: "+55"}},
	}
	svc, _ := newTestService(b)
	_, err := svc.Fetch(context.Background(), true, false)
	require.NoError(t, err)
	before := b.listCalls

	svc.ReconcileTick(context.Background())
	assert.Equal(t, before, b.listCalls, "no fetch when no entry is mid-pairing")
}

func TestServiceQRExpiredAndAttemptCeiling(t *testing.T) {
	b := &fakeBackend{
		accounts:   []Account{{ID: "row-1", AccountID: "wa-1", Status: StatusDisconnected}},
		connectRes: ConnectResult{Success: true},
	}
	svc, _ := newTestService(b)
	_, err := svc.Fetch(context.Background(), true, false)
	require.NoError(t, err)
	require.NoError(t, svc.ConnectAccount(context.Background(), "wa-1"))
	svc.HandleEvent(Event{Kind: EventQRCode, AccountID: "wa-1", QRCode: "2@abc"})

	svc.HandleEvent(Event{Kind: EventQRExpired, AccountID: "wa-1"})
	a, _ := svc.Registry().Find("wa-1")
	assert.Equal(t, StatusDisconnected, a.Status)
	assert.Empty(t, a.QRCode)
	_, code, _ := svc.QRState()
	assert.Empty(t, code)

	// repeated failures push the account into error once the ceiling hits
	svc.HandleEvent(Event{Kind: EventDisconnected, AccountID: "wa-1", AttemptCount: DisconnectAttemptCeiling})
	a, _ = svc.Registry().Find("wa-1")
	assert.Equal(t, StatusError, a.Status)
}

func TestServiceEmptyQRIsNoop(t *testing.T) {
	b := &fakeBackend{
		accounts: []Account{{ID: "row-1", AccountID: "wa-1", Status: StatusDisconnected}},
	}
	svc, _ := newTestService(b)
	_, err := svc.Fetch(context.Background(), true, false)
	require.NoError(t, err)

	svc.HandleEvent(Event{Kind: EventQRCode, AccountID: "wa-1"})
	a, _ := svc.Registry().Find("wa-1")
	assert.Equal(t, StatusDisconnected, a.Status)
	assert.Empty(t, a.QRCode)
}

func TestServiceFetchFailurePreservesRegistry(t *testing.T) {
	b := &fakeBackend{
		accounts: []Account{{ID: "row-1", AccountID: "wa-1", Status: StatusConnected, PhoneNumber: "+55"}},
	}
	svc, _ := newTestService(b)
	_, err := svc.Fetch(context.Background(), true, false)
	require.NoError(t, err)

	b.setListErr(errors.New("backend down"))
	list, err := svc.Fetch(context.Background(), true, false)
	require.Error(t, err)
	assert.Empty(t, list, "failed fetch yields an empty result, never a partial one")

	// readers going through the registry still see the last good state
	assert.Equal(t, 1, len(svc.Accounts()))
}

func TestServiceFetchServesCache(t *testing.T) {
	b := &fakeBackend{
		accounts: []Account{{ID: "row-1", AccountID: "wa-1", Status: StatusConnected, PhoneNumber: "+55"}},
	}
	svc, _ := newTestService(b)
	_, err := svc.Fetch(context.Background(), true, false)
	require.NoError(t, err)

	// the cached set is served even when the backend starts failing
	b.setListErr(errors.New("backend down"))
	list, err := svc.Fetch(context.Background(), false, false)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestServiceSessionReset(t *testing.T) {
	b := &fakeBackend{
		accounts: []Account{{ID: "row-1", AccountID: "wa-1", Status: StatusConnected, PhoneNumber: "+55"}},
		pending:  []string{},
	}
	svc, _ := newTestService(b)
	_, err := svc.Fetch(context.Background(), true, false)
	require.NoError(t, err)
	svc.Pending().SyncFromServer([]string{"wa-1"})

	svc.HandleEvent(Event{Kind: EventSessionReset, AccountID: "wa-1"})
	a, _ := svc.Registry().Find("wa-1")
	assert.Equal(t, StatusDisconnected, a.Status)
	assert.Empty(t, a.PhoneNumber)
	assert.False(t, svc.Pending().HasID("wa-1"))
}

func TestServiceConnectedClearsBookkeeping(t *testing.T) {
	b := &fakeBackend{
		accounts:   []Account{{ID: "row-1", AccountID: "wa-1", Status: StatusDisconnected}},
		connectRes: ConnectResult{Success: true},
	}
	svc, _ := newTestService(b)
	_, err := svc.Fetch(context.Background(), true, false)
	require.NoError(t, err)
	require.NoError(t, svc.ConnectAccount(context.Background(), "wa-1"))
	svc.Pending().SyncFromServer([]string{"wa-1", "wa-2"})

	svc.HandleEvent(Event{Kind: EventConnected, AccountID: "wa-1", PhoneNumber: "+55"})

	assert.False(t, svc.Throttle().Tracked("wa-1"))
	assert.False(t, svc.Pending().HasID("wa-1"))
	assert.True(t, svc.Pending().HasID("wa-2"))
}

func TestServiceDeleteAccount(t *testing.T) {
	b := &fakeBackend{
		accounts:   []Account{{ID: "row-1", AccountID: "wa-1", Status: StatusDisconnected}},
		connectRes: ConnectResult{Success: true},
	}
	svc, _ := newTestService(b)
	_, err := svc.Fetch(context.Background(), true, false)
	require.NoError(t, err)
	require.NoError(t, svc.ConnectAccount(context.Background(), "wa-1"))

	require.NoError(t, svc.DeleteAccount(context.Background(), "row-1"))
	_, ok := svc.Registry().Find("wa-1")
	assert.False(t, ok)
	assert.False(t, svc.Throttle().Tracked("wa-1"))
	assert.Equal(t, []string{"row-1"}, b.deleted)
}

func TestServiceReconnectAllSkipsThrottled(t *testing.T) {
	b := &fakeBackend{
		accounts: []Account{
			{ID: "row-1", AccountID: "wa-1", Status: StatusDisconnected},
			{ID: "row-2", AccountID: "wa-2", Status: StatusError},
			{ID: "row-3", AccountID: "wa-3", Status: StatusConnected, PhoneNumber: "+55"},
		},
		connectRes: ConnectResult{Success: true},
	}
	svc, _ := newTestService(b)
	_, err := svc.Fetch(context.Background(), true, false)
	require.NoError(t, err)

	// wa-1 recently attempted: its throttle record is warm
	require.NoError(t, svc.ConnectAccount(context.Background(), "wa-1"))
	calls := b.connectCalls

	n, err := svc.ReconnectAllAccounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only wa-2 is eligible")
	assert.Equal(t, calls+1, b.connectCalls)
}

func TestServiceAlreadyConnectedClearsQRDisplay(t *testing.T) {
	b := &fakeBackend{
		accounts:   []Account{{ID: "row-1", AccountID: "wa-1", Name: "sales", Status: StatusDisconnected}},
		connectRes: ConnectResult{Success: true},
	}
	svc, clock := newTestService(b)
	_, err := svc.Fetch(context.Background(), true, false)
	require.NoError(t, err)

	require.NoError(t, svc.ConnectAccount(context.Background(), "wa-1"))
	svc.HandleEvent(Event{Kind: EventQRCode, AccountID: "wa-1", QRCode: "2@abc"})
	_, code, remaining := svc.QRState()
	require.Equal(t, "2@abc", code)
	require.Equal(t, 120, remaining)

	// the channel got linked elsewhere; the retry comes back already connected
	b.setConnectRes(ConnectResult{Success: false, AlreadyConnected: true, PhoneNumber: "+55"})
	clock.Advance(11 * time.Second)
	require.NoError(t, svc.ConnectAccount(context.Background(), "wa-1"))

	a, _ := svc.Registry().Find("wa-1")
	assert.Equal(t, StatusConnected, a.Status)
	accountID, code, remaining := svc.QRState()
	assert.Empty(t, accountID)
	assert.Empty(t, code, "a dead QR must not stay on display")
	assert.Zero(t, remaining)
}

func TestServiceDisconnectAllClearsQRDisplay(t *testing.T) {
	b := &fakeBackend{
		accounts:   []Account{{ID: "row-1", AccountID: "wa-1", Status: StatusDisconnected}},
		connectRes: ConnectResult{Success: true},
	}
	svc, _ := newTestService(b)
	_, err := svc.Fetch(context.Background(), true, false)
	require.NoError(t, err)

	require.NoError(t, svc.ConnectAccount(context.Background(), "wa-1"))
	svc.HandleEvent(Event{Kind: EventQRCode, AccountID: "wa-1", QRCode: "2@abc"})
	_, code, _ := svc.QRState()
	require.Equal(t, "2@abc", code)

	_, err = svc.DisconnectAllAccounts(context.Background())
	require.NoError(t, err)

	a, _ := svc.Registry().Find("wa-1")
	assert.Equal(t, StatusDisconnected, a.Status)
	_, code, remaining := svc.QRState()
	assert.Empty(t, code)
	assert.Zero(t, remaining)
}

type fakeNotifier struct {
	mu      sync.Mutex
	batches [][]ReconnectNotice
	err     error
}

func (f *fakeNotifier) SendReconnectNotices(ctx context.Context, notices []ReconnectNotice) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, notices)
	if f.err != nil {
		return 0, f.err
	}
	return len(notices), nil
}

func TestServiceSendReconnectEmailsBatches(t *testing.T) {
	b := &fakeBackend{
		accounts: []Account{{ID: "row-1", AccountID: "wa-1", Name: "sales", Status: StatusDisconnected}},
	}
	svc, _ := newTestService(b)
	_, err := svc.Fetch(context.Background(), true, false)
	require.NoError(t, err)

	n := &fakeNotifier{}
	svc.SetNotifier(n)
	svc.Pending().SyncFromServer([]string{"wa-1", "wa-2"})

	sent, err := svc.SendReconnectEmails(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sent)

	require.Len(t, n.batches, 1, "the pending set goes out as one batch")
	batch := n.batches[0]
	require.Len(t, batch, 2)
	assert.Equal(t, ReconnectNotice{AccountID: "wa-1", AccountName: "sales"}, batch[0])
	assert.Equal(t, ReconnectNotice{AccountID: "wa-2", AccountName: "wa-2"}, batch[1])
}

func TestConfigFromSettings(t *testing.T) {
	cfg := ConfigFromSettings("user-1", "org-1", 30, 60, 5)
	svc := NewService(cfg, &fakeBackend{})
	assert.Equal(t, 30*time.Second, svc.Config().ReconnectCooldown)
	assert.Equal(t, 60*time.Second, svc.Config().QRWindow)
	assert.Equal(t, 5*time.Second, svc.Config().ReconcileInterval)

	// unseeded settings read as zero and fall back to the reference values
	svc = NewService(ConfigFromSettings("user-1", "org-1", 0, 0, 0), &fakeBackend{})
	assert.Equal(t, DefaultReconnectCooldown, svc.Config().ReconnectCooldown)
	assert.Equal(t, DefaultQRWindow, svc.Config().QRWindow)
	assert.Equal(t, DefaultReconcileInterval, svc.Config().ReconcileInterval)
}

func TestServiceCreateAccountOptimistic(t *testing.T) {
	b := &fakeBackend{}
	svc, _ := newTestService(b)

	acct, err := svc.CreateAccount(context.Background(), CreateAccountRequest{Name: "fresh", Mode: "assistant"})
	require.NoError(t, err)
	assert.Equal(t, StatusConnecting, acct.Status)

	got, ok := svc.Registry().Find("wa-new")
	require.True(t, ok)
	assert.Equal(t, "fresh", got.Name)
}
