package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"lendwatch/internal/eventbus"
	logx "lendwatch/pkg/logx"
)

func (s *Service) trigger(d *scheduleDef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enqueueLocked(d)
}

func (s *Service) enqueueLocked(d *scheduleDef) {
	if s.queue == nil {
		return
	}
	if d.running.Load() {
		s.skipped.Add(1)
		s.log.Debug("run skipped (previous run still running)", logx.String("task", d.name))
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeTaskSkipped, Data: TaskEvent{Name: d.name, Started: time.Now()}})
		return
	}
	select {
	case s.queue <- task{def: d}:
	default:
		s.dropped.Add(1)
		s.log.Warn("scheduler queue full; dropping run", logx.String("task", d.name), logx.Int("queue_cap", cap(s.queue)))
	}
}

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue <-chan task, idx int) {
	s.log.Debug("worker started", logx.Int("worker", idx))
	defer s.log.Debug("worker stopped", logx.Int("worker", idx))
	for {
		// A closed stopCh wins over queued work.
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case t := <-queue:
			s.execOne(ctx, t.def)
		}
	}
}

func (s *Service) execOne(ctx context.Context, d *scheduleDef) {
	// Overlap guard: a tick queued behind a running run is dropped here.
	if !d.running.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		return
	}
	defer d.running.Store(false)

	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	timeout := d.timeout
	if timeout <= 0 {
		timeout = cfg.DefaultTimeout
	}
	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	err := s.runSafe(runCtx, d)
	dur := time.Since(start)

	item := HistoryItem{Name: d.name, Started: start, Duration: dur}
	ev := TaskEvent{Name: d.name, Started: start, Duration: dur}
	if err != nil {
		item.Error = err.Error()
		ev.Error = item.Error
		if s.failLog.Allow() {
			s.log.Warn("task failed", logx.String("task", d.name), logx.Err(err), logx.Duration("dur", dur))
		} else {
			s.log.Debug("task failed", logx.String("task", d.name), logx.Err(err), logx.Duration("dur", dur))
		}
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeTaskFailed, Data: ev})
	} else {
		s.log.Debug("task completed", logx.String("task", d.name), logx.Duration("dur", dur))
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeTaskFinished, Data: ev})
	}
	s.record(item, cfg.HistorySize)
}

func (s *Service) runSafe(ctx context.Context, d *scheduleDef) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic in scheduled task", logx.String("task", d.name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return d.job(ctx)
}

func (s *Service) record(item HistoryItem, size int) {
	if size <= 0 {
		size = DefaultHistorySize
	}
	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.history = append(s.history, item)
	if len(s.history) > size {
		s.history = append([]HistoryItem(nil), s.history[len(s.history)-size:]...)
	}
}
