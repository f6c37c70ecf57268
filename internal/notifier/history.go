package notifier

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	rtsup "lendwatch/internal/runtime/supervisor"
	"lendwatch/internal/storage"
	logx "lendwatch/pkg/logx"
)

const persistQueueSize = 1024

// History is the append-only audit log of delivered notifications. Entries
// are never removed; it grows for the life of the process.
//
// It is safe for concurrent appenders and readers. When a store is
// configured and Start has been called, entries are also mirrored to the
// store on a best-effort basis; a full mirror queue drops the export, never
// the in-memory entry.
type History struct {
	mu      sync.RWMutex
	entries []Entry

	store storage.Store
	log   logx.Logger

	persistCh chan Entry
	sup       *rtsup.Supervisor
}

type HistoryOption func(*History)

func WithStore(st storage.Store) HistoryOption {
	return func(h *History) { h.store = st }
}

func WithHistoryLogger(log logx.Logger) HistoryOption {
	return func(h *History) { h.log = log }
}

func NewHistory(opts ...HistoryOption) *History {
	h := &History{}
	for _, o := range opts {
		o(h)
	}
	if h.log.IsZero() {
		h.log = logx.Nop()
	}
	return h
}

// Append records e. A zero ID or timestamp is filled in.
func (h *History) Append(e Entry) Entry {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}

	h.mu.Lock()
	h.entries = append(h.entries, e)
	if h.persistCh != nil {
		select {
		case h.persistCh <- e:
		default:
			h.log.Warn("history export queue full; dropping", logx.String("id", e.ID.String()))
		}
	}
	h.mu.Unlock()
	return e
}

// Snapshot returns a point-in-time copy, oldest first.
func (h *History) Snapshot() []Entry {
	h.mu.RLock()
	out := append([]Entry(nil), h.entries...)
	h.mu.RUnlock()
	return out
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}

func (h *History) ForUser(userID string) []Entry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []Entry
	for _, e := range h.entries {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out
}

// Start launches the export loop. It is a no-op without a store and is
// idempotent.
func (h *History) Start(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.store == nil || h.persistCh != nil {
		return
	}
	ch := make(chan Entry, persistQueueSize)
	h.persistCh = ch
	// Export outlives ctx so Stop can drain what is queued; Stop cancels it
	// only when its own deadline passes.
	h.sup = rtsup.NewSupervisor(context.WithoutCancel(ctx), rtsup.WithLogger(h.log))
	st := h.store
	h.sup.Go0("history.persist", func(c context.Context) { h.persistLoop(c, ch, st) })
}

// Stop closes intake and waits (until ctx is done) for queued exports.
func (h *History) Stop(ctx context.Context) {
	h.mu.Lock()
	ch, sup := h.persistCh, h.sup
	h.persistCh, h.sup = nil, nil
	h.mu.Unlock()
	if ch == nil {
		return
	}
	close(ch)
	if err := sup.Wait(ctx); err != nil {
		h.log.Warn("history export did not drain", logx.Err(err))
		sup.Cancel()
	}
}

func (h *History) persistLoop(ctx context.Context, ch <-chan Entry, st storage.Store) {
	for e := range ch {
		cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := st.AppendNotification(cctx, storage.NotificationRecord{
			ID:     e.ID.String(),
			At:     e.At,
			Level:  e.Level.String(),
			UserID: e.UserID,
			Text:   e.Text,
			Sink:   e.Sink,
		})
		cancel()
		if err != nil {
			h.log.Debug("history export failed", logx.String("id", e.ID.String()), logx.Err(err))
		}
		if ctx.Err() != nil {
			return
		}
	}
}
