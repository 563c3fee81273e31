package realtime

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/inlinesoft/whatsdesk/internal/accounts"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Sink receives every decoded account lifecycle event, in arrival order.
type Sink interface {
	HandleEvent(ev accounts.Event)
}

// Dialer opens one event stream. The production dialer speaks SSE over
// HTTP; tests hand back canned streams.
type Dialer interface {
	Dial(ctx context.Context) (io.ReadCloser, error)
}

// Config tunes the listener's reconnect behavior.
type Config struct {
	// ReconnectMin/ReconnectMax bound the backoff between dial attempts.
	ReconnectMin time.Duration
	ReconnectMax time.Duration
}

func (c *Config) fill() {
	if c.ReconnectMin <= 0 {
		c.ReconnectMin = 2 * time.Second
	}
	if c.ReconnectMax < c.ReconnectMin {
		c.ReconnectMax = 30 * time.Second
	}
}

// Listener consumes the backend's push feed and forwards normalized account
// events into the sink. It owns its reconnect loop; a broken stream is
// re-dialed with capped exponential backoff.
type Listener struct {
	cfg    Config
	dialer Dialer
	sink   Sink
}

func NewListener(cfg Config, dialer Dialer, sink Sink) *Listener {
	cfg.fill()
	return &Listener{cfg: cfg, dialer: dialer, sink: sink}
}

// Run blocks until ctx is cancelled.
func (l *Listener) Run(ctx context.Context) {
	backoff := l.cfg.ReconnectMin
	for {
		if ctx.Err() != nil {
			return
		}
		stream, err := l.dialer.Dial(ctx)
		if err != nil {
			zap.L().Warn("realtime: dial failed",
				zap.Error(err), zap.Duration("retry_in", backoff))
			if !sleepCtx(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff, l.cfg.ReconnectMax)
			continue
		}

		zap.L().Info("realtime: stream connected")
		backoff = l.cfg.ReconnectMin
		err = l.consume(ctx, stream)
		stream.Close()
		if ctx.Err() != nil {
			return
		}
		zap.L().Warn("realtime: stream dropped",
			zap.Error(err), zap.Duration("retry_in", backoff))
		if !sleepCtx(ctx, backoff) {
			return
		}
		backoff = nextBackoff(backoff, l.cfg.ReconnectMax)
	}
}

func nextBackoff(cur, max time.Duration) time.Duration {
	cur *= 2
	if cur > max {
		cur = max
	}
	return cur
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// consume parses one SSE stream until it ends. Frame format: optional
// "event:" line naming the event, one or more "data:" lines with the JSON
// payload, blank line terminates the frame. Comment lines (":") are
// keepalives and ignored.
func (l *Listener) consume(ctx context.Context, stream io.Reader) error {
	scanner := bufio.NewScanner(stream)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var eventName string
	var data strings.Builder

	flush := func() {
		if eventName == "" && data.Len() == 0 {
			return
		}
		l.dispatch(eventName, data.String())
		eventName = ""
		data.Reset()
	}

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Text()
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, ":"):
			// keepalive
		case strings.HasPrefix(line, "event:"):
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	flush()
	if err := scanner.Err(); err != nil {
		return err
	}
	return errors.New("stream closed by server")
}

// dispatch decodes one frame and hands it to the sink. Unknown event names
// and undecodable payloads are logged at debug level and dropped; the feed
// multiplexes event types this agent does not care about.
func (l *Listener) dispatch(name, payload string) {
	var body interface{}
	if payload != "" {
		if err := json.UnmarshalFromString(payload, &body); err != nil {
			// plain-string payloads (a bare QR value) are legal
			body = payload
		}
	}
	ev, err := accounts.DecodeEvent(name, body)
	if err != nil {
		if !errors.Is(err, accounts.ErrUnknownEvent) {
			zap.L().Debug("realtime: dropping event",
				zap.String("event", name), zap.Error(err))
		}
		return
	}
	l.sink.HandleEvent(ev)
}

// HTTPDialer dials the backend SSE endpoint with bearer auth.
type HTTPDialer struct {
	URL    string
	Token  string
	UserID string
	Client *http.Client
}

func (d *HTTPDialer) Dial(ctx context.Context) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.URL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build stream request")
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if d.Token != "" {
		req.Header.Set("Authorization", "Bearer "+d.Token)
	}
	if d.UserID != "" {
		req.Header.Set("X-User-Id", d.UserID)
	}

	client := d.Client
	if client == nil {
		// no overall timeout: the stream is long-lived
		client = &http.Client{}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "dial event stream")
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, errors.Errorf("event stream status %d", resp.StatusCode)
	}
	return resp.Body, nil
}
