package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "lendwatch/pkg/logx"
)

func TestParseScheduleVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		raw    string
		kind   SpecKind
		source string
		cron   string
	}{
		{name: "cron", raw: "0 8 * * *", kind: SpecCron, source: "cron", cron: "0 8 * * *"},
		{name: "descriptor", raw: "@hourly", kind: SpecCron, source: "cron", cron: "@hourly"},
		{name: "prefixed cron", raw: "cron:0 0 * * *", kind: SpecCron, source: "cron", cron: "0 0 * * *"},
		{name: "duration", raw: "1h", kind: SpecInterval, source: "duration", cron: "@every 1h0m0s"},
		{name: "prefixed interval", raw: "every:45s", kind: SpecInterval, source: "duration", cron: "@every 45s"},
		{name: "hhmm", raw: "01:30", kind: SpecInterval, source: "hhmm", cron: "@every 1h30m0s"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseSchedule(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, got.Kind)
			assert.Equal(t, tt.source, got.Source)
			assert.Equal(t, tt.cron, got.CronSpec())
		})
	}

	for _, bad := range []string{"", "soon", "00:75", "-5m", "every:"} {
		_, err := ParseSchedule(bad)
		assert.Error(t, err, bad)
	}
}

func TestValidateSchedule(t *testing.T) {
	t.Parallel()
	require.NoError(t, ValidateSchedule("30m"))
	require.NoError(t, ValidateSchedule("0 */2 * * *"))
	assert.Error(t, ValidateSchedule("61 * * * *"))
	assert.Error(t, ValidateSchedule("@fortnightly"))
	assert.Error(t, ValidateSchedule("later"))
}

func newTestService(t *testing.T, cfg Config) *Service {
	t.Helper()
	cfg.Enabled = true
	s := New(cfg, logx.Nop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func TestRunOnStartRunsJobsConcurrently(t *testing.T) {
	t.Parallel()
	s := newTestService(t, Config{Workers: 2, RunOnStart: true})

	aStarted := make(chan struct{})
	bStarted := make(chan struct{})
	waitFor := func(ch <-chan struct{}) error {
		select {
		case <-ch:
			return nil
		case <-time.After(2 * time.Second):
			return errors.New("peer never started")
		}
	}
	require.NoError(t, s.AddInterval("due-date", time.Hour, 0, func(ctx context.Context) error {
		close(aStarted)
		return waitFor(bStarted)
	}))
	require.NoError(t, s.AddInterval("availability", time.Hour, 0, func(ctx context.Context) error {
		close(bStarted)
		return waitFor(aStarted)
	}))
	require.NoError(t, s.Start(context.Background()))

	require.Eventually(t, func() bool { return len(s.Snapshot().History) == 2 }, 3*time.Second, 10*time.Millisecond)
	for _, h := range s.Snapshot().History {
		assert.Empty(t, h.Error, h.Name)
	}
}

func TestDisabledStartIsNoop(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: false, RunOnStart: true}, logx.Nop())
	var ran atomic.Bool
	require.NoError(t, s.AddInterval("job", time.Hour, 0, func(context.Context) error { ran.Store(true); return nil }))
	require.NoError(t, s.Start(context.Background()))
	assert.False(t, s.Running())
	time.Sleep(20 * time.Millisecond)
	assert.False(t, ran.Load())
}

func TestPanicIsRecoveredAndSchedulerKeepsRunning(t *testing.T) {
	t.Parallel()
	s := newTestService(t, Config{RunOnStart: true})
	var calls atomic.Int32
	require.NoError(t, s.AddInterval("flaky", time.Hour, 0, func(context.Context) error {
		if calls.Add(1) == 1 {
			panic("boom")
		}
		return nil
	}))
	require.NoError(t, s.Start(context.Background()))

	require.Eventually(t, func() bool { return len(s.Snapshot().History) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "panic: boom", s.Snapshot().History[0].Error)

	require.NoError(t, s.RunNow("flaky"))
	require.Eventually(t, func() bool { return len(s.Snapshot().History) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, s.Snapshot().History[1].Error)
	assert.True(t, s.Running())
}

func TestOverlappingRunIsSkipped(t *testing.T) {
	t.Parallel()
	s := newTestService(t, Config{Workers: 2, RunOnStart: true})
	release := make(chan struct{})
	started := make(chan struct{}, 4)
	require.NoError(t, s.AddInterval("slow", time.Hour, 0, func(ctx context.Context) error {
		started <- struct{}{}
		<-release
		return nil
	}))
	require.NoError(t, s.Start(context.Background()))
	<-started

	require.NoError(t, s.RunNow("slow"))
	assert.Equal(t, uint64(1), s.Snapshot().Skipped)
	close(release)

	require.Eventually(t, func() bool { return len(s.Snapshot().History) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, started, 0)
}

func TestJobTimeout(t *testing.T) {
	t.Parallel()
	s := newTestService(t, Config{RunOnStart: true, DefaultTimeout: 20 * time.Millisecond})
	require.NoError(t, s.AddInterval("stuck", time.Hour, 0, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))
	require.NoError(t, s.Start(context.Background()))

	require.Eventually(t, func() bool { return len(s.Snapshot().History) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, s.Snapshot().History[0].Error, context.DeadlineExceeded.Error())
}

func TestStopCancelsJobsAfterDeadline(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, RunOnStart: true}, logx.Nop())
	canceled := make(chan struct{})
	running := make(chan struct{})
	require.NoError(t, s.AddInterval("long", time.Hour, 0, func(ctx context.Context) error {
		close(running)
		<-ctx.Done()
		close(canceled)
		return ctx.Err()
	}))
	require.NoError(t, s.Start(context.Background()))
	<-running

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	s.Stop(ctx)
	assert.False(t, s.Running())

	select {
	case <-canceled:
	case <-time.After(2 * time.Second):
		t.Fatal("job context was not canceled")
	}
	assert.Error(t, s.RunNow("long"))
}

func TestIntervalTicks(t *testing.T) {
	t.Parallel()
	s := newTestService(t, Config{})
	var runs atomic.Int32
	require.NoError(t, s.AddInterval("tick", time.Second, 0, func(context.Context) error {
		runs.Add(1)
		return nil
	}))
	require.NoError(t, s.Start(context.Background()))

	require.Eventually(t, func() bool { return runs.Load() >= 1 && len(s.Snapshot().History) >= 1 }, 3*time.Second, 20*time.Millisecond)
	snap := s.Snapshot()
	require.Len(t, snap.Schedules, 1)
	assert.Equal(t, "@every 1s", snap.Schedules[0].Spec)
	assert.False(t, snap.Schedules[0].Next.IsZero())
}

func TestApplyTimezone(t *testing.T) {
	t.Parallel()
	s := newTestService(t, Config{Timezone: "UTC"})
	require.NoError(t, s.AddSchedule("daily", "0 8 * * *", 0, func(context.Context) error { return nil }))
	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, "UTC", s.Snapshot().Timezone)

	require.NoError(t, s.Apply(Config{Enabled: true, Timezone: "Europe/Madrid"}))
	assert.Equal(t, "Europe/Madrid", s.Snapshot().Timezone)
	// The cron loop computes Next asynchronously after a restart.
	require.Eventually(t, func() bool {
		snap := s.Snapshot()
		return len(snap.Schedules) == 1 && !snap.Schedules[0].Next.IsZero()
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "Europe/Madrid", s.Snapshot().Schedules[0].Next.Location().String())

	assert.Error(t, s.Apply(Config{Enabled: true, Timezone: "Mars/Olympus"}))
	assert.Equal(t, "Europe/Madrid", s.Location().String())
}

func TestAddRejectsBadInput(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true}, logx.Nop())
	noop := func(context.Context) error { return nil }
	assert.Error(t, s.AddSchedule("x", "not a cron at all", 0, noop))
	assert.Error(t, s.AddInterval("", time.Minute, 0, noop))
	assert.Error(t, s.AddInterval("x", 0, 0, noop))
	assert.Error(t, s.AddInterval("x", time.Minute, 0, nil))

	require.NoError(t, s.AddInterval("x", time.Minute, 0, noop))
	require.NoError(t, s.AddInterval("x", time.Hour, 0, noop))
	assert.Len(t, s.Snapshot().Schedules, 1)
	assert.True(t, s.Remove("x"))
	assert.False(t, s.Remove("x"))
}
