package app

import (
	"context"
	"strings"
	"time"

	"lendwatch/internal/config"
	"lendwatch/internal/notifier"
	logx "lendwatch/pkg/logx"
)

func (a *App) reloadLoop(c context.Context, sub chan *config.Config) {
	defer a.cfgm.Unsubscribe(sub)
	for {
		select {
		case <-c.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// coalesce bursts: keep only the latest config in the channel
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			notifyReloading(a.log)
			a.apply(c, newCfg)
			notifyReady(a.log)
		}
	}
}

// Reload validates cfg and applies it to the running app. Sections listed
// in config.RestartRequired are recorded but only take effect after a restart.
func (a *App) Reload(ctx context.Context, cfg *config.Config) error {
	if err := validateConfig(ctx, cfg); err != nil {
		return err
	}
	a.apply(ctx, cfg)
	return nil
}

// apply expects a validated config.
func (a *App) apply(c context.Context, newCfg *config.Config) {
	a.mu.Lock()
	lastApplied := a.applied
	a.applied = newCfg
	a.mu.Unlock()

	sections, attrs := config.SummarizeConfigChange(lastApplied, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	for _, s := range sections {
		if config.RestartRequired[s] {
			a.log.Warn("config section changed; restart required for changes to take effect", logx.String("section", s))
		}
	}

	if a.logs != nil {
		if err := a.logs.Apply(mapLogConfig(newCfg)); err != nil {
			a.log.Warn("log file unavailable; using console", logx.Err(err))
		}
	}

	ss, err := mapSchedulerConfig(newCfg)
	if err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
	} else {
		a.applyScheduler(c, ss)
	}

	if ns, err := mapNotifierConfig(newCfg, a.out); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		a.applyNotifier(lastApplied, newCfg, ns)
	}

	if ofs, err := mapOfferConfig(newCfg); err != nil {
		a.log.Warn("invalid offers config; keeping previous", logx.Err(err))
	} else {
		a.responder.SetPolicy(ofs.policy)
		a.offers.SetTTL(ofs.ttl)
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) applyScheduler(c context.Context, ss schedulerSettings) {
	prevEnabled := a.sched.Enabled()
	if err := a.sched.Apply(ss.cfg); err != nil {
		a.log.Warn("scheduler apply failed; keeping previous", logx.Err(err))
		return
	}
	loc := a.sched.Location()
	a.dueDate.SetLocation(loc)
	a.availability.SetLocation(loc)
	if err := a.registerJobs(ss); err != nil {
		a.log.Warn("scheduler jobs not re-registered", logx.Err(err))
	}

	switch {
	case prevEnabled && !ss.cfg.Enabled:
		a.log.Info("scheduler disabled via config")
		stopCtx, cancel := context.WithTimeout(c, 3*time.Second)
		a.sched.Stop(stopCtx)
		cancel()
	case !prevEnabled && ss.cfg.Enabled && a.sup != nil && !a.isManual():
		a.log.Info("scheduler enabled via config")
		if err := a.sched.Start(a.sup.Context()); err != nil {
			a.log.Warn("scheduler start failed", logx.Err(err))
		}
	}
}

// applyPreferences sets only the seeded preferences that differ from the
// previous config, so runtime changes to untouched entries survive a reload.
func (a *App) applyPreferences(oldCfg *config.Config, prefs []preference) {
	type prefKey struct {
		user  string
		level notifier.Level
	}
	seeded := map[prefKey]bool{}
	if oldCfg != nil {
		if old, err := mapNotifierConfig(oldCfg, nil); err == nil {
			for _, p := range old.prefs {
				seeded[prefKey{p.user, p.level}] = p.enabled
			}
		}
	}
	for _, p := range prefs {
		if was, ok := seeded[prefKey{p.user, p.level}]; ok && was == p.enabled {
			continue
		}
		a.prefs.Set(p.user, p.level, p.enabled)
		a.log.Debug("preference seeded", logx.String("user", p.user), logx.String("level", p.level.String()), logx.Bool("enabled", p.enabled))
	}
}

func (a *App) isManual() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.manual
}

func (a *App) applyNotifier(oldCfg, newCfg *config.Config, ns notifierSettings) {
	a.applyPreferences(oldCfg, ns.prefs)
	var on config.NotifierConfig
	if oldCfg != nil {
		on = oldCfg.Notifier
	}
	nn := newCfg.Notifier
	if strings.EqualFold(strings.TrimSpace(on.Sink), strings.TrimSpace(nn.Sink)) &&
		on.Telegram.Token == nn.Telegram.Token &&
		strings.TrimSpace(on.SendTimeout) == strings.TrimSpace(nn.SendTimeout) {
		return
	}
	sink, err := notifier.NewSink(ns.sink, a.base)
	if err != nil {
		a.log.Warn("notifier sink rebuild failed; keeping previous", logx.Err(err))
		return
	}
	a.gateway.SetSink(sink, ns.timeout)
	a.log.Info("notifier sink switched", logx.String("sink", sink.Name()))
}
