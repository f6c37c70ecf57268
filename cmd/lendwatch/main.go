package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lendwatch/internal/app"
	logx "lendwatch/pkg/logx"
)

func main() {
	var (
		cfgPath string
		once    bool
		grace   time.Duration
	)
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config (json, yaml or toml)")
	flag.BoolVar(&once, "once", false, "run a single alert pass and exit")
	flag.DurationVar(&grace, "shutdown-timeout", 10*time.Second, "max time to wait for a graceful stop")
	flag.Parse()

	// boot logs until the configured logging service exists.
	boot := logx.NewConsole("info").With(logx.String("comp", "main"))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgPath)
	if err != nil {
		boot.Error("config rejected", logx.String("path", cfgPath), logx.Err(err))
		os.Exit(1)
	}

	if once {
		os.Exit(runOnce(ctx, a, grace))
	}

	if err := a.Start(ctx); err != nil {
		a.Logger().Error("start failed", logx.Err(err))
		os.Exit(1)
	}

	reason := app.StopSignal
	select {
	case <-ctx.Done():
	case <-a.Done():
		reason = app.StopFatalError
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), grace)
	defer stopCancel()
	_ = a.Stop(stopCtx, reason)
	if err := a.Err(); err != nil && !errors.Is(err, context.Canceled) {
		boot.Error("fatal", logx.Err(err))
		os.Exit(1)
	}
}

// runOnce runs both evaluators a single time with the scheduler left off.
// The responder still resolves offers according to offers.policy before the
// app stops.
func runOnce(ctx context.Context, a *app.App, grace time.Duration) int {
	if err := a.Start(ctx, app.WithoutScheduler()); err != nil {
		a.Logger().Error("start failed", logx.Err(err))
		return 1
	}
	code := 0
	if err := a.RunPass(ctx); err != nil {
		a.Logger().Error("alert pass finished with errors", logx.Err(err))
		code = 2
	}
	stopCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	_ = a.Stop(stopCtx, app.StopAppStop)
	return code
}
