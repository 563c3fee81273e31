package accounts

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Reference behavior intervals.
const (
	DefaultCacheTTL          = 30 * time.Second
	DefaultReconcileInterval = 10 * time.Second
)

// TopicAccountState is published on the in-process bus after every applied
// transition, with the updated Account as payload.
const TopicAccountState = "whatsdesk:account-state"

// CreateAccountRequest is the create-account payload.
type CreateAccountRequest struct {
	Name        string `json:"name"`
	AssistantID string `json:"assistant_id,omitempty"`
	FlowID      string `json:"flow_id,omitempty"`
	Mode        string `json:"mode"`
}

// Backend is the hosted CRM API the agent mirrors. Implemented by
// backend.Client; tests substitute fakes.
type Backend interface {
	ListAccounts(ctx context.Context) ([]Account, error)
	CreateAccount(ctx context.Context, req CreateAccountRequest) (Account, error)
	ConnectAccount(ctx context.Context, id string) (ConnectResult, error)
	RegenerateQR(ctx context.Context, id string) (ConnectResult, error)
	DisconnectAccount(ctx context.Context, id string) error
	DeleteAccount(ctx context.Context, id string) error
	UpdateAccount(ctx context.Context, id, name string) error
	DisconnectAll(ctx context.Context) (int, error)
	PendingReconnects(ctx context.Context) ([]string, error)
}

// Recorder persists the audit trail and account snapshots. Implementations
// must never block the caller on failure.
type Recorder interface {
	RecordEvent(accountID, accountName, source, event, fromStatus, toStatus, detail string)
	SaveSnapshot(userID, orgID string, accts []Account)
}

// ReconnectNotice identifies one account awaiting a manual reconnect.
type ReconnectNotice struct {
	AccountID   string
	AccountName string
}

// Notifier dispatches reconnect notification emails. Implementations send
// the whole batch and report how many went out.
type Notifier interface {
	SendReconnectNotices(ctx context.Context, notices []ReconnectNotice) (int, error)
}

// SnapshotStore warms the registry across restarts.
type SnapshotStore interface {
	Save(userID string, accts []Account, fetchedAt time.Time) error
	Load(userID string) ([]Account, time.Time, error)
}

// Bus is the in-process publish side (satisfied by EventBus).
type Bus interface {
	Publish(topic string, args ...interface{})
}

// ServiceConfig carries identity and tuning for one mirrored user session.
type ServiceConfig struct {
	UserID            string
	OrgID             string
	CacheTTL          time.Duration
	ReconcileInterval time.Duration
	QRWindow          time.Duration
	ReconnectCooldown time.Duration
}

// ConfigFromSettings builds a ServiceConfig from the runtime settings table
// values (seconds). Non-positive values fall back to the reference defaults.
func ConfigFromSettings(userID, orgID string, cooldownSecs, qrWindowSecs, reconcileSecs int64) ServiceConfig {
	cfg := ServiceConfig{UserID: userID, OrgID: orgID}
	if cooldownSecs > 0 {
		cfg.ReconnectCooldown = time.Duration(cooldownSecs) * time.Second
	}
	if qrWindowSecs > 0 {
		cfg.QRWindow = time.Duration(qrWindowSecs) * time.Second
	}
	if reconcileSecs > 0 {
		cfg.ReconcileInterval = time.Duration(reconcileSecs) * time.Second
	}
	return cfg
}

func (c *ServiceConfig) fill() {
	if c.CacheTTL <= 0 {
		c.CacheTTL = DefaultCacheTTL
	}
	if c.ReconcileInterval <= 0 {
		c.ReconcileInterval = DefaultReconcileInterval
	}
	if c.QRWindow <= 0 {
		c.QRWindow = DefaultQRWindow
	}
	if c.ReconnectCooldown <= 0 {
		c.ReconnectCooldown = DefaultReconnectCooldown
	}
}

// Service is the connection-state reconciliation engine: it owns the
// registry and folds three divergent sources of truth into it — REST
// fetches, realtime push events and optimistic local updates.
type Service struct {
	cfg      ServiceConfig
	backend  Backend
	registry *Registry
	throttle *ReconnectThrottle
	qrTimer  *QRTimer
	pending  *PendingTracker
	clock    Clock

	recorder Recorder
	notifier Notifier
	store    SnapshotStore
	bus      Bus

	sf        singleflight.Group
	fetchMu   sync.Mutex
	fetchedAt time.Time
	loading   int32

	// activeQR tracks which account owns the currently displayed QR.
	qrMu        sync.Mutex
	activeQRID  string
	activeQRVal string
}

func NewService(cfg ServiceConfig, backend Backend) *Service {
	cfg.fill()
	clock := Clock(SystemClock{})
	return &Service{
		cfg:      cfg,
		backend:  backend,
		clock:    clock,
		registry: NewRegistry(),
		throttle: NewReconnectThrottle(cfg.ReconnectCooldown, clock),
		qrTimer:  NewQRTimer(clock),
		pending:  NewPendingTracker(),
	}
}

// SetClock swaps the time source; tests install a manual clock before use.
func (s *Service) SetClock(clock Clock) {
	s.clock = clock
	s.throttle = NewReconnectThrottle(s.cfg.ReconnectCooldown, clock)
	s.qrTimer = NewQRTimer(clock)
}

func (s *Service) SetRecorder(r Recorder)       { s.recorder = r }
func (s *Service) SetNotifier(n Notifier)       { s.notifier = n }
func (s *Service) SetSnapshotStore(st SnapshotStore) { s.store = st }
func (s *Service) SetBus(b Bus)                 { s.bus = b }

// Registry exposes the canonical account view.
func (s *Service) Registry() *Registry { return s.registry }

// Pending exposes the pending-reconnect tracker.
func (s *Service) Pending() *PendingTracker { return s.pending }

// Throttle exposes the reconnect throttle.
func (s *Service) Throttle() *ReconnectThrottle { return s.throttle }

// Loading reports whether a foreground fetch is in progress.
func (s *Service) Loading() bool { return atomic.LoadInt32(&s.loading) == 1 }

// Config returns the effective service configuration.
func (s *Service) Config() ServiceConfig { return s.cfg }

func (s *Service) record(accountID, accountName, source, event, from, to, detail string) {
	if s.recorder != nil {
		s.recorder.RecordEvent(accountID, accountName, source, event, from, to, detail)
	}
}

func (s *Service) publish(a Account) {
	if s.bus != nil {
		s.bus.Publish(TopicAccountState, a)
	}
}

// resolveKey maps any id the caller used onto the canonical registry key so
// throttle bookkeeping stays consistent across id spellings.
func (s *Service) resolveKey(id string) string {
	if a, ok := s.registry.Find(id); ok {
		return a.Key()
	}
	return id
}

// WarmStart seeds the registry from the last persisted snapshot so the local
// API can answer before the first backend fetch completes.
func (s *Service) WarmStart() {
	if s.store == nil {
		return
	}
	accts, fetchedAt, err := s.store.Load(s.cfg.UserID)
	if err != nil {
		zap.L().Debug("accounts: no warm-start snapshot", zap.Error(err))
		return
	}
	if len(accts) == 0 {
		return
	}
	s.registry.Replace(accts)
	s.fetchMu.Lock()
	s.fetchedAt = fetchedAt
	s.fetchMu.Unlock()
	zap.L().Info("accounts: registry warmed from snapshot",
		zap.Int("count", len(accts)), zap.Time("fetched_at", fetchedAt))
}

func (s *Service) cacheFresh() bool {
	s.fetchMu.Lock()
	defer s.fetchMu.Unlock()
	return !s.fetchedAt.IsZero() && s.clock.Now().Sub(s.fetchedAt) < s.cfg.CacheTTL
}

// Fetch returns the full account set for the mirrored user. A fresh cache is
// served immediately (with a background refresh kicked off) unless
// forceRefresh is set. Failures return an empty set, never a partial one;
// the previous registry contents stay in place for readers going through
// Accounts().
func (s *Service) Fetch(ctx context.Context, forceRefresh, showLoading bool) ([]Account, error) {
	if showLoading {
		atomic.StoreInt32(&s.loading, 1)
		defer atomic.StoreInt32(&s.loading, 0)
	}

	if !forceRefresh && s.cacheFresh() {
		go func() {
			if _, err := s.fetchRemote(context.Background()); err != nil {
				zap.L().Debug("accounts: background refresh failed", zap.Error(err))
			}
		}()
		return s.registry.List(), nil
	}

	list, err := s.fetchRemote(ctx)
	if err != nil {
		zap.L().Warn("accounts: fetch failed", zap.Error(err))
		return []Account{}, err
	}
	return list, nil
}

// fetchRemote performs the authoritative list call, collapsed per user via
// singleflight, and replaces the registry on success.
func (s *Service) fetchRemote(ctx context.Context) ([]Account, error) {
	v, err, _ := s.sf.Do("fetch:"+s.cfg.UserID, func() (interface{}, error) {
		list, err := s.backend.ListAccounts(ctx)
		if err != nil {
			return nil, err
		}
		s.registry.Replace(list)
		now := s.clock.Now()
		s.fetchMu.Lock()
		s.fetchedAt = now
		s.fetchMu.Unlock()
		if s.store != nil {
			if err := s.store.Save(s.cfg.UserID, list, now); err != nil {
				zap.L().Debug("accounts: snapshot save failed", zap.Error(err))
			}
		}
		if s.recorder != nil {
			s.recorder.SaveSnapshot(s.cfg.UserID, s.cfg.OrgID, list)
		}
		return s.registry.List(), nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Account), nil
}

// Accounts returns the current registry view without touching the network.
func (s *Service) Accounts() []Account {
	return s.registry.List()
}

// ReconcileTick re-fetches authoritative state and upgrades entries stuck in
// connecting whose server counterpart already shows connected. It covers
// missed realtime events and never surfaces errors; a failed tick leaves
// state as last known until the next one. The fetch is skipped while no
// entry is connecting, since the tick can only ever upgrade connecting
// entries.
func (s *Service) ReconcileTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			zap.S().Error("accounts: reconcile panic: ", r)
		}
	}()
	if s.registry.CountByStatus(StatusConnecting) == 0 {
		return
	}
	server, err := s.backend.ListAccounts(ctx)
	if err != nil {
		zap.L().Debug("accounts: reconcile fetch failed", zap.Error(err))
		return
	}
	for _, a := range s.registry.ReconcileServer(server) {
		s.record(a.Key(), a.Name, "reconcile", string(EventConnected),
			string(StatusConnecting), string(a.Status), "upgraded from server state")
		s.throttle.Clear(a.Key())
		s.clearActiveQR(a)
		s.publish(a)
	}
}

// CreateAccount provisions a new channel and applies the optimistic local
// entry from the server response. A freshly created account starts in
// connecting — the create flow immediately attempts pairing — unless the
// server already reports it connected.
func (s *Service) CreateAccount(ctx context.Context, req CreateAccountRequest) (Account, error) {
	acct, err := s.backend.CreateAccount(ctx, req)
	if err != nil {
		return Account{}, errors.Wrap(err, "create account")
	}
	if acct.Status != StatusConnected {
		acct.Status = StatusConnecting
	}
	if acct.Name == "" {
		acct.Name = req.Name
	}
	out := s.registry.UpsertAccount(acct)
	s.record(out.Key(), out.Name, "action", "create", "", string(out.Status), "")
	s.publish(out)
	return out, nil
}

// ConnectAccount starts (or restarts) pairing for an account, guarded by the
// reconnect throttle.
func (s *Service) ConnectAccount(ctx context.Context, id string) error {
	return s.connect(ctx, id, false)
}

// RegenerateQR requests a fresh QR for an account mid-pairing.
func (s *Service) RegenerateQR(ctx context.Context, id string) error {
	return s.connect(ctx, id, true)
}

func (s *Service) connect(ctx context.Context, id string, regenerate bool) error {
	key := s.resolveKey(id)
	action := "connect"
	if regenerate {
		action = "regenerate-qr"
	}

	if err := s.throttle.Acquire(key); err != nil {
		s.record(key, "", "action", "throttle-reject", "", "", err.Error())
		zap.L().Info("accounts: connect throttled",
			zap.String("account_id", key), zap.String("reason", err.Error()))
		return err
	}
	// cleared on every exit path; a leaked in-flight flag would block the
	// account until restart
	defer s.throttle.Release(key)

	var (
		res ConnectResult
		err error
	)
	if regenerate {
		res, err = s.backend.RegenerateQR(ctx, id)
	} else {
		res, err = s.backend.ConnectAccount(ctx, id)
	}
	if err != nil {
		s.record(key, "", "action", action, "", "", err.Error())
		return errors.Wrapf(err, "%s %s", action, key)
	}

	if res.Connected() {
		// Already-connected shortcut: no realtime event will follow, so the
		// transition happens here, and no QR is ever shown.
		_, after, _ := s.registry.Apply(Event{
			Kind:        EventConnected,
			AccountID:   key,
			PhoneNumber: res.PhoneNumber,
		}, true)
		s.throttle.Clear(key)
		s.pending.ClearLocal(after.AccountID)
		s.pending.ClearLocal(after.ID)
		s.clearActiveQR(after)
		s.record(key, after.Name, "rest", string(EventConnected), "", string(after.Status), "already connected")
		s.publish(after)
		return nil
	}

	if !res.Success {
		detail := res.Message
		if detail == "" {
			detail = "backend rejected the request"
		}
		s.record(key, "", "action", action, "", "", detail)
		return errors.New(detail)
	}

	// Accepted: the QR flow starts server-side, optimistic connecting until
	// the realtime qr-code event lands.
	before, after, _ := s.registry.Apply(Event{Kind: EventQRCode, AccountID: key}, true)
	s.record(key, after.Name, "action", action, string(before.Status), string(after.Status), "")
	s.publish(after)
	return nil
}

// DisconnectAccount unlinks the channel.
func (s *Service) DisconnectAccount(ctx context.Context, id string) error {
	key := s.resolveKey(id)
	if err := s.backend.DisconnectAccount(ctx, id); err != nil {
		return errors.Wrapf(err, "disconnect %s", key)
	}
	before, after, _ := s.registry.Apply(Event{Kind: EventDisconnected, AccountID: key}, false)
	s.record(key, after.Name, "action", "disconnect", string(before.Status), string(after.Status), "")
	s.clearActiveQR(after)
	s.publish(after)
	return nil
}

// DisconnectAllAccounts proxies the bulk disconnect and folds every entry to
// disconnected.
func (s *Service) DisconnectAllAccounts(ctx context.Context) (int, error) {
	n, err := s.backend.DisconnectAll(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "disconnect all")
	}
	for _, a := range s.registry.List() {
		_, after, _ := s.registry.Apply(Event{Kind: EventDisconnected, AccountID: a.Key()}, false)
		s.clearActiveQR(after)
		s.publish(after)
	}
	s.record("", "", "action", "disconnect-all", "", string(StatusDisconnected), "")
	return n, nil
}

// DeleteAccount removes the channel server-side and locally.
func (s *Service) DeleteAccount(ctx context.Context, id string) error {
	key := s.resolveKey(id)
	if err := s.backend.DeleteAccount(ctx, id); err != nil {
		return errors.Wrapf(err, "delete %s", key)
	}
	if a, ok := s.registry.Find(key); ok {
		s.clearActiveQR(a)
	}
	s.registry.Remove(key)
	s.throttle.Clear(key)
	s.pending.ClearLocal(key)
	s.record(key, "", "action", "delete", "", "", "")
	return nil
}

// UpdateAccount renames the account.
func (s *Service) UpdateAccount(ctx context.Context, id, name string) error {
	key := s.resolveKey(id)
	if err := s.backend.UpdateAccount(ctx, id, name); err != nil {
		return errors.Wrapf(err, "update %s", key)
	}
	a := s.registry.Upsert(PatchName(key, name))
	s.record(key, name, "action", "update", "", string(a.Status), "")
	return nil
}

// ReconnectAllAccounts attempts a throttled connect for every account not
// currently connected. Throttle rejections are skipped, not errors. The
// number of attempts actually issued is returned.
func (s *Service) ReconnectAllAccounts(ctx context.Context) (int, error) {
	var issued int
	var firstErr error
	for _, a := range s.registry.List() {
		if a.Status == StatusConnected || a.Status == StatusConnecting {
			continue
		}
		err := s.ConnectAccount(ctx, a.Key())
		switch {
		case err == nil:
			issued++
		case IsThrottled(err):
			// deliberate rejection, try again next round
		case firstErr == nil:
			firstErr = err
		}
	}
	return issued, firstErr
}

// RefreshPending pulls the authoritative pending-reconnect set.
func (s *Service) RefreshPending(ctx context.Context) error {
	ids, err := s.backend.PendingReconnects(ctx)
	if err != nil {
		return errors.Wrap(err, "fetch pending reconnects")
	}
	s.pending.SyncFromServer(ids)
	return nil
}

// SendReconnectEmails dispatches one notification per account still in the
// pending set, handed to the notifier as a single batch. Returns how many
// notices actually went out.
func (s *Service) SendReconnectEmails(ctx context.Context) (int, error) {
	if s.notifier == nil {
		return 0, errors.New("no notifier configured")
	}
	ids := s.pending.List()
	notices := make([]ReconnectNotice, 0, len(ids))
	for _, id := range ids {
		name := id
		if a, ok := s.registry.Find(id); ok {
			name = a.Name
		}
		notices = append(notices, ReconnectNotice{AccountID: id, AccountName: name})
	}
	sent, err := s.notifier.SendReconnectNotices(ctx, notices)
	if err != nil {
		zap.L().Warn("accounts: reconnect notices failed",
			zap.Int("sent", sent), zap.Int("requested", len(notices)), zap.Error(err))
	}
	s.record("", "", "action", "reconnect-emails", "", "", "")
	return sent, err
}

// HandleEvent folds one normalized realtime event into the registry. It
// never returns an error: there is no caller to propagate to, so internal
// failures are logged and swallowed. Handlers are idempotent — at-least-once
// delivery is assumed.
func (s *Service) HandleEvent(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			zap.S().Error("accounts: event handler panic: ", r)
		}
	}()

	switch ev.Kind {
	case EventQRCode:
		if ev.QRCode == "" {
			// expected transient noise, not an error
			zap.L().Debug("accounts: qr event without usable code",
				zap.String("account_id", ev.AccountID))
			return
		}
		_, after, _ := s.registry.Apply(ev, true)
		s.setActiveQR(after.Key(), after.QRCode)
		s.qrTimer.Reset(s.cfg.QRWindow)
		s.applyRecord(ev, after)
		go func() {
			if err := s.RefreshPending(context.Background()); err != nil {
				zap.L().Debug("accounts: pending refresh failed", zap.Error(err))
			}
		}()

	case EventConnected:
		_, after, _ := s.registry.Apply(ev, true)
		s.throttle.Clear(after.Key())
		s.throttle.Clear(ev.AccountID)
		s.pending.ClearLocal(after.AccountID)
		s.pending.ClearLocal(after.ID)
		s.clearActiveQR(after)
		s.applyRecord(ev, after)

	case EventDisconnected:
		s.throttle.Release(s.resolveKey(ev.AccountID))
		_, after, applied := s.registry.Apply(ev, false)
		if !applied {
			return
		}
		s.clearActiveQR(after)
		s.applyRecord(ev, after)

	case EventQRExpired:
		_, after, applied := s.registry.Apply(ev, false)
		if !applied {
			return
		}
		s.clearActiveQR(after)
		s.applyRecord(ev, after)

	case EventConnectionTimeout:
		_, after, applied := s.registry.Apply(ev, false)
		if !applied {
			return
		}
		s.clearActiveQR(after)
		s.applyRecord(ev, after)

	case EventSessionReset:
		_, after, applied := s.registry.Apply(ev, false)
		if applied {
			s.clearActiveQR(after)
			s.applyRecord(ev, after)
		}
		s.pending.ClearLocal(ev.AccountID)
		go func() {
			if err := s.RefreshPending(context.Background()); err != nil {
				zap.L().Debug("accounts: pending refresh failed", zap.Error(err))
			}
		}()

	default:
		zap.L().Debug("accounts: ignoring event", zap.String("kind", string(ev.Kind)))
	}
}

func (s *Service) applyRecord(ev Event, after Account) {
	s.record(after.Key(), after.Name, "realtime", string(ev.Kind), "", string(after.Status), "")
	s.publish(after)
}

func (s *Service) setActiveQR(accountID, code string) {
	s.qrMu.Lock()
	defer s.qrMu.Unlock()
	s.activeQRID = accountID
	s.activeQRVal = code
}

// clearActiveQR drops the shared QR display when the owning account leaves
// the connecting state.
func (s *Service) clearActiveQR(a Account) {
	s.qrMu.Lock()
	defer s.qrMu.Unlock()
	if s.activeQRID == "" {
		return
	}
	if a.Matches(s.activeQRID) || s.activeQRID == a.Key() {
		s.activeQRID = ""
		s.activeQRVal = ""
		s.qrTimer.Stop()
	}
}

// QRState returns the currently displayed QR payload, its owning account id
// and the seconds remaining to scan it.
func (s *Service) QRState() (accountID, code string, remaining int) {
	s.qrMu.Lock()
	accountID, code = s.activeQRID, s.activeQRVal
	s.qrMu.Unlock()
	return accountID, code, s.qrTimer.Remaining()
}
