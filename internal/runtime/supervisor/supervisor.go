package supervisor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"

	logx "lendwatch/pkg/logx"
)

// Supervisor owns the app's long-lived goroutines. Every goroutine shares one
// context, panics are turned into errors, and Wait reports which names are
// still running when its deadline passes.
type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	log         logx.Logger
	cancelOnErr bool

	mu      sync.Mutex
	running map[string]int
	started uint64
	errs    []error
	idle    chan struct{} // closed while nothing is running
}

type SupervisorOption func(*Supervisor)

// SupervisorCounters is a point-in-time view for logs and tests.
type SupervisorCounters struct {
	Active  int64  `json:"active"`
	Started uint64 `json:"started"`
}

func WithLogger(log logx.Logger) SupervisorOption {
	return func(s *Supervisor) { s.log = log }
}

// WithCancelOnError cancels the shared context on the first failure.
func WithCancelOnError(enabled bool) SupervisorOption {
	return func(s *Supervisor) { s.cancelOnErr = enabled }
}

func NewSupervisor(parent context.Context, opts ...SupervisorOption) *Supervisor {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	idle := make(chan struct{})
	close(idle)
	s := &Supervisor{
		ctx:     ctx,
		cancel:  cancel,
		running: map[string]int{},
		idle:    idle,
		log:     logx.Nop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Cancel cancels the shared context and returns immediately.
func (s *Supervisor) Cancel() { s.cancel() }

// Err returns the first recorded failure.
func (s *Supervisor) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.errs) == 0 {
		return nil
	}
	return s.errs[0]
}

// Errors returns every recorded failure in arrival order.
func (s *Supervisor) Errors() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]error(nil), s.errs...)
}

func (s *Supervisor) Counters() SupervisorCounters {
	if s == nil {
		return SupervisorCounters{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var active int64
	for _, n := range s.running {
		active += int64(n)
	}
	return SupervisorCounters{Active: active, Started: s.started}
}

// Running lists the names of goroutines that have not returned yet.
func (s *Supervisor) Running() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.running))
	for name := range s.running {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Go runs fn under the shared context. A context.Canceled result is not a failure.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	s.enter(name)
	go func() {
		defer s.leave(name)
		if err := s.call(name, fn); err != nil {
			s.record(err)
		}
	}()
}

// Go0 is Go for loops that only stop on cancellation.
func (s *Supervisor) Go0(name string, fn func(ctx context.Context)) {
	if fn == nil {
		return
	}
	s.Go(name, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

func (s *Supervisor) call(name string, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("goroutine panicked",
				logx.String("name", name),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("panic in %s: %v", name, r)
		}
	}()
	s.log.Debug("goroutine started", logx.String("name", name))
	defer s.log.Debug("goroutine stopped", logx.String("name", name))
	if err := fn(s.ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

func (s *Supervisor) enter(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.total() == 0 {
		s.idle = make(chan struct{})
	}
	s.running[name]++
	s.started++
}

func (s *Supervisor) leave(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[name]--; s.running[name] <= 0 {
		delete(s.running, name)
	}
	if s.total() == 0 {
		close(s.idle)
	}
}

// total must be called with mu held.
func (s *Supervisor) total() int {
	n := 0
	for _, c := range s.running {
		n += c
	}
	return n
}

func (s *Supervisor) record(err error) {
	s.mu.Lock()
	s.errs = append(s.errs, err)
	s.mu.Unlock()
	if s.cancelOnErr {
		s.cancel()
	}
}

// Stop cancels the shared context and waits for every goroutine.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	return s.Wait(ctx)
}

// Wait blocks until nothing is running or ctx ends. On timeout the error
// names the goroutines that are still alive.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.mu.Lock()
	idle := s.idle
	s.mu.Unlock()

	select {
	case <-idle:
		return s.Err()
	case <-ctx.Done():
		return fmt.Errorf("%w (still running: %s)", ctx.Err(), strings.Join(s.Running(), ", "))
	}
}
