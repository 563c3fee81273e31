package realtime

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inlinesoft/whatsdesk/internal/accounts"
)

type collectSink struct {
	mu     sync.Mutex
	events []accounts.Event
}

func (s *collectSink) HandleEvent(ev accounts.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *collectSink) list() []accounts.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]accounts.Event, len(s.events))
	copy(out, s.events)
	return out
}

type scriptDialer struct {
	mu      sync.Mutex
	streams []string
	dials   int
}

func (d *scriptDialer) Dial(ctx context.Context) (io.ReadCloser, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if len(d.streams) == 0 {
		return nil, errors.New("no more streams")
	}
	s := d.streams[0]
	d.streams = d.streams[1:]
	return io.NopCloser(strings.NewReader(s)), nil
}

func (d *scriptDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestListenerParsesFrames(t *testing.T) {
	stream := strings.Join([]string{
		": keepalive",
		"event: whatsapp-qr-code",
		`data: {"accountId":"wa-1","qr":"data:image/png;base64,2@abc"}`,
		"",
		"event: whatsapp-connected",
		`data: {"account_id":"wa-1","phone_number":"+5511999990000"}`,
		"",
		"event: message-created",
		`data: {"unrelated":true}`,
		"",
		"event: whatsapp-qr-expired",
		"data: ",
		"",
	}, "\n") + "\n"

	sink := &collectSink{}
	dialer := &scriptDialer{streams: []string{stream}}
	l := NewListener(Config{ReconnectMin: 5 * time.Millisecond, ReconnectMax: 10 * time.Millisecond}, dialer, sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	waitFor(t, func() bool { return len(sink.list()) >= 3 })
	cancel()

	events := sink.list()[:3]
	assert.Equal(t, accounts.EventQRCode, events[0].Kind)
	assert.Equal(t, "wa-1", events[0].AccountID)
	assert.Equal(t, "2@abc", events[0].QRCode, "QR normalized during decode")

	assert.Equal(t, accounts.EventConnected, events[1].Kind)
	assert.Equal(t, "+5511999990000", events[1].PhoneNumber)

	// the unrelated event is dropped; the expiry frame with empty data survives
	assert.Equal(t, accounts.EventQRExpired, events[2].Kind)
}

func TestListenerStringPayload(t *testing.T) {
	stream := "event: whatsapp-qr-code\n" +
		"data: \"2@part-one\"\n\n"

	sink := &collectSink{}
	dialer := &scriptDialer{streams: []string{stream}}
	l := NewListener(Config{ReconnectMin: 5 * time.Millisecond, ReconnectMax: 10 * time.Millisecond}, dialer, sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	waitFor(t, func() bool { return len(sink.list()) >= 1 })
	cancel()

	require.NotEmpty(t, sink.list())
	assert.Equal(t, "2@part-one", sink.list()[0].QRCode)
}

func TestListenerReconnectsAfterStreamEnds(t *testing.T) {
	frame := "event: whatsapp-connected\ndata: {\"accountId\":\"wa-1\"}\n\n"

	sink := &collectSink{}
	dialer := &scriptDialer{streams: []string{frame, frame}}
	l := NewListener(Config{ReconnectMin: 5 * time.Millisecond, ReconnectMax: 10 * time.Millisecond}, dialer, sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	waitFor(t, func() bool { return len(sink.list()) >= 2 })
	cancel()

	assert.GreaterOrEqual(t, dialer.dialCount(), 2)
}
