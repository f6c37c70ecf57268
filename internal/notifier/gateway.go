package notifier

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"lendwatch/internal/clock"
	"lendwatch/internal/domain"
	"lendwatch/internal/eventbus"
	"lendwatch/internal/users"
	logx "lendwatch/pkg/logx"
)

const DefaultSendTimeout = 10 * time.Second

// UserLookup resolves recipients.
type UserLookup interface {
	Get(id string) (users.User, error)
}

// Gateway checks preferences, delivers and records notifications.
type Gateway struct {
	users   UserLookup
	prefs   *Preferences
	history *History
	clock   clock.Clock
	bus     eventbus.Bus
	log     logx.Logger

	// mu serializes delivery and history append so history order is send order.
	mu      sync.Mutex
	sink    Sink
	timeout time.Duration
}

type Option func(*Gateway)

func WithPreferences(p *Preferences) Option { return func(g *Gateway) { g.prefs = p } }
func WithHistory(h *History) Option         { return func(g *Gateway) { g.history = h } }
func WithClock(c clock.Clock) Option        { return func(g *Gateway) { g.clock = c } }
func WithBus(b eventbus.Bus) Option         { return func(g *Gateway) { g.bus = b } }
func WithLogger(l logx.Logger) Option       { return func(g *Gateway) { g.log = l } }

// WithSendTimeout bounds each sink delivery. d <= 0 keeps the default.
func WithSendTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.timeout = d
		}
	}
}

func NewGateway(lookup UserLookup, sink Sink, opts ...Option) *Gateway {
	g := &Gateway{
		users:   lookup,
		sink:    sink,
		timeout: DefaultSendTimeout,
	}
	for _, o := range opts {
		o(g)
	}
	if g.prefs == nil {
		g.prefs = NewPreferences()
	}
	if g.history == nil {
		g.history = NewHistory()
	}
	if g.clock == nil {
		g.clock = clock.NewSystem()
	}
	if g.bus == nil {
		g.bus = eventbus.Nop()
	}
	if g.log.IsZero() {
		g.log = logx.Nop()
	}
	if g.sink == nil {
		g.sink = NewLogSink(g.log)
	}
	return g
}

func (g *Gateway) Preferences() *Preferences { return g.prefs }
func (g *Gateway) History() *History         { return g.history }

func (g *Gateway) Sink() Sink {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sink
}

// SetSink swaps the delivery transport. In-flight sends finish on the old one.
func (g *Gateway) SetSink(s Sink, timeout time.Duration) {
	if s == nil {
		return
	}
	g.mu.Lock()
	g.sink = s
	if timeout > 0 {
		g.timeout = timeout
	}
	g.mu.Unlock()
}

// SendText classifies text by its leading marker and sends it.
func (g *Gateway) SendText(ctx context.Context, userID, text string) error {
	return g.Send(ctx, userID, Message{Level: Classify(text), Text: text})
}

// TrySendText is SendText that also reports whether the sink was reached.
// delivered is false with a nil error when a preference suppressed it.
func (g *Gateway) TrySendText(ctx context.Context, userID, text string) (delivered bool, err error) {
	return g.send(ctx, userID, Message{Level: Classify(text), Text: text})
}

// Send delivers msg to userID unless the user disabled msg.Level.
// A suppressed message returns nil.
func (g *Gateway) Send(ctx context.Context, userID string, msg Message) error {
	_, err := g.send(ctx, userID, msg)
	return err
}

func (g *Gateway) send(ctx context.Context, userID string, msg Message) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if strings.TrimSpace(msg.Text) == "" {
		return false, fmt.Errorf("empty notification text: %w", domain.ErrInvalidOperation)
	}
	u, err := g.users.Get(userID)
	if err != nil {
		return false, err
	}

	ev := NotificationEvent{UserID: u.ID, Level: msg.Level.String(), Text: msg.Text}
	if !g.prefs.Enabled(u.ID, msg.Level) {
		ev.At = g.clock.Now()
		g.bus.Publish(eventbus.Event{Type: eventbus.TypeNotificationSuppressed, Time: ev.At, Data: ev})
		g.log.Debug("notification suppressed by preference", logx.String("user", u.ID), logx.String("level", ev.Level))
		return false, nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	ev.Sink = g.sink.Name()
	sctx, cancel := context.WithTimeout(ctx, g.timeout)
	err = g.sink.Deliver(sctx, u, msg)
	cancel()
	ev.At = g.clock.Now()
	if err != nil {
		ev.Error = err.Error()
		g.bus.Publish(eventbus.Event{Type: eventbus.TypeNotificationFailed, Time: ev.At, Data: ev})
		g.log.Warn("notification delivery failed", logx.String("user", u.ID), logx.String("sink", ev.Sink), logx.Err(err))
		return false, fmt.Errorf("notify %s via %s: %w", u.ID, ev.Sink, err)
	}

	g.history.Append(Entry{At: ev.At, Level: msg.Level, Text: msg.Text, UserID: u.ID, Sink: ev.Sink})
	g.bus.Publish(eventbus.Event{Type: eventbus.TypeNotificationSent, Time: ev.At, Data: ev})
	return true, nil
}
