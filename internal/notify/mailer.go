package notify

import (
	"context"
	"fmt"
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	gomail "gopkg.in/gomail.v2"

	"github.com/inlinesoft/whatsdesk/internal/accounts"
)

// Config holds SMTP settings for reconnect notifications.
type Config struct {
	SmtpHost string
	SmtpPort int
	SmtpUser string
	SmtpPwd  string
	From     string
	To       []string
}

func (c Config) valid() bool {
	return c.SmtpHost != "" && c.From != "" && len(c.To) > 0
}

// sender is the SMTP dial-and-send seam (satisfied by *gomail.Dialer).
type sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// Mailer sends reconnect notices over SMTP. Batches fan out over a bounded
// worker pool so a slow relay cannot stall the caller beyond the pool width.
type Mailer struct {
	cfg  Config
	send sender
	pool *ants.Pool
}

var _ accounts.Notifier = (*Mailer)(nil)

// NewMailer builds a Mailer with a pool of poolSize senders.
func NewMailer(cfg Config, poolSize int) (*Mailer, error) {
	if !cfg.valid() {
		return nil, errors.New("notify: smtp host, from and to are required")
	}
	if poolSize <= 0 {
		poolSize = 4
	}
	pool, err := ants.NewPool(poolSize, ants.WithNonblocking(false))
	if err != nil {
		return nil, errors.Wrap(err, "notify: create worker pool")
	}
	port := cfg.SmtpPort
	if port == 0 {
		port = 587
	}
	return &Mailer{
		cfg:  cfg,
		send: gomail.NewDialer(cfg.SmtpHost, port, cfg.SmtpUser, cfg.SmtpPwd),
		pool: pool,
	}, nil
}

// Release tears down the worker pool.
func (m *Mailer) Release() {
	if m.pool != nil {
		m.pool.Release()
	}
}

func (m *Mailer) message(subject, body string) *gomail.Message {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.cfg.From)
	msg.SetHeader("To", m.cfg.To...)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", body)
	return msg
}

func (m *Mailer) reconnectMessage(n accounts.ReconnectNotice) *gomail.Message {
	subject := fmt.Sprintf("WhatsApp account %s needs reconnection", n.AccountName)
	body := fmt.Sprintf(
		"Account %s (%s) has been flagged for reconnection.\n\n"+
			"Open the whatsdesk console and scan a fresh QR code to restore it.\n",
		n.AccountName, n.AccountID)
	return m.message(subject, body)
}

// SendReconnectNotices emails the operator about every account in the batch,
// one message per account, dispatched over the pool. The count of delivered
// messages and the first failure are returned. Implements accounts.Notifier.
func (m *Mailer) SendReconnectNotices(ctx context.Context, notices []accounts.ReconnectNotice) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		sent     int
		firstErr error
	)
	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
	}

	for _, n := range notices {
		n := n
		msg := m.reconnectMessage(n)
		wg.Add(1)
		err := m.pool.Submit(func() {
			defer wg.Done()
			if err := m.send.DialAndSend(msg); err != nil {
				zap.L().Warn("notify: reconnect notice failed",
					zap.String("account_id", n.AccountID), zap.Error(err))
				fail(errors.Wrapf(err, "send reconnect notice for %s", n.AccountID))
				return
			}
			mu.Lock()
			sent++
			mu.Unlock()
		})
		if err != nil {
			wg.Done()
			fail(errors.Wrap(err, "notify: submit to pool"))
		}
	}
	wg.Wait()
	return sent, firstErr
}
