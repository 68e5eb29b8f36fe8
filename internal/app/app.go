// Package app wires config, logging, storage, the notifier pipeline, the
// launcher badge, the shell host, reminders and the status server.
package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"msgshell/internal/badge"
	"msgshell/internal/config"
	"msgshell/internal/eventbus"
	"msgshell/internal/notifier"
	"msgshell/internal/observability/status"
	"msgshell/internal/reminder"
	rtsup "msgshell/internal/runtime/supervisor"
	"msgshell/internal/shell"
	"msgshell/internal/storage"
	logx "msgshell/pkg/logx"
)

// Version is set at build time with -ldflags "-X msgshell/internal/app.Version=...".
var Version = "dev"

type App struct {
	cfgm    *config.ConfigManager
	sup     *rtsup.Supervisor
	started time.Time

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	notif  *notifier.Service
	badge  *badge.Service
	host   *shell.Host
	remind *reminder.Service
	status *status.Service

	window shell.Window
}

// CheckConfig parses and validates the file at path without starting anything.
func CheckConfig(path string) (*config.Config, error) {
	cfg, err := config.NewConfigManager(path).Parse()
	if err != nil {
		return nil, err
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	logSvc, root := logx.New(mapLoggingConfig(cfg))
	log := root.With(logx.String("comp", "app"))

	bus := eventbus.New()

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, root.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, err
	}
	notif := notifier.New(ncfg, root, bus, store, buildSinks(cfg, root)...)

	setter := badge.Nop()
	if cfg.Badge.Enabled {
		ps, err := badge.NewPlatform(cfg.Badge.DesktopID)
		if err != nil {
			// Badge is cosmetic; run without it.
			log.Warn("launcher badge unavailable", logx.Err(err))
		} else {
			setter = ps
		}
	}

	stCfg, err := mapStatusConfig(cfg)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfgm:   cfgm,
		log:    log,
		logs:   logSvc,
		bus:    bus,
		store:  store,
		notif:  notif,
		badge:  badge.NewService(setter, root),
		window: mapWindow(cfg),
	}
	a.status = status.New(stCfg, root, a.Report)
	return a, nil
}

// Window is the native window description from the loaded config.
func (a *App) Window() shell.Window { return a.window }

// Host is the page host. It is nil before Start.
func (a *App) Host() *shell.Host { return a.host }

// Context is canceled on Stop or on a fatal supervised error.
func (a *App) Context() context.Context {
	if a.sup == nil {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	return a.sup.Context()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.started = time.Now()
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	runCtx := a.sup.Context()
	cfg := a.cfgm.Get()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, c *config.Config) error { return validateConfig(c) })

	hc, err := mapHostConfig(cfg)
	if err != nil {
		return err
	}
	root := a.logs.Logger()
	a.host, err = shell.NewHost(runCtx, hc, a.notif, a.badge,
		shell.WithLogger(root),
		shell.WithBus(a.bus),
	)
	if err != nil {
		return err
	}

	if a.notif.Enabled() {
		a.notif.Start(runCtx)
	}
	a.sup.Go("badge", a.badge.Run)

	a.remind = reminder.New(mapReminderConfig(cfg), a.host, a.notif, root)
	if err := a.remind.Start(runCtx); err != nil {
		return err
	}
	a.status.Start(runCtx)

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(c, last, next)
				last = next
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Debug("sd_notify ready failed", logx.Err(err))
	} else if ok {
		a.log.Debug("sd_notify ready sent")
	}
	a.log.Info("app started",
		logx.String("version", Version),
		logx.String("url", a.window.URL),
		logx.Any("sinks", a.notif.Sinks()),
	)
	return nil
}

// applyConfig fans a committed config out to the live components.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	changed := func(name string) bool { return slices.Contains(sections, name) }

	for _, s := range []string{"window", "badge", "storage"} {
		if changed(s) {
			a.log.Warn("config section changed; restart required for changes to take effect", logx.String("section", s))
		}
	}

	if changed("logging") {
		a.logs.Apply(mapLoggingConfig(next))
	}

	if changed("tracker") || changed("navigation") {
		if hc, err := mapHostConfig(next); err != nil {
			a.log.Warn("invalid tracker/navigation config; keeping previous", logx.Err(err))
		} else {
			a.host.Apply(hc)
		}
	}

	if changed("telegram") {
		a.notif.SetSinks(buildSinks(next, a.logs.Logger())...)
	}
	if changed("notifier") {
		ncfg, err := mapNotifierConfig(next)
		if err != nil {
			a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
		} else {
			wasEnabled := a.notif.Enabled()
			a.notif.Apply(ncfg)
			switch {
			case wasEnabled && !ncfg.Enabled:
				a.log.Info("notifier disabled via config")
				stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				a.notif.Stop(stopCtx)
				cancel()
			case !wasEnabled && ncfg.Enabled:
				a.log.Info("notifier enabled via config")
				a.notif.Start(ctx)
			}
		}
	}

	if changed("reminder") || changed("tracker") {
		if err := a.remind.Apply(mapReminderConfig(next)); err != nil {
			a.log.Warn("invalid reminder config; keeping previous", logx.Err(err))
		}
	}

	if changed("status") {
		if sc, err := mapStatusConfig(next); err != nil {
			a.log.Warn("invalid status config; keeping previous", logx.Err(err))
		} else {
			a.status.Reconfigure(ctx, sc)
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem < max {
					max = rem
				}
			}
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				if err := <-done; err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err))
				}
			}()
		}
	}

	step("host", time.Second, func(context.Context) error {
		if a.host != nil {
			a.host.Close()
		}
		return nil
	})
	step("status", time.Second, func(c context.Context) error { a.status.Stop(c); return nil })
	step("reminder", time.Second, func(c context.Context) error {
		if a.remind != nil {
			a.remind.Stop(c)
		}
		return nil
	})
	step("notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	// Supervised loops include the badge loop, which clears the badge on exit.
	step("supervisor", 2*time.Second, func(c context.Context) error {
		err := a.sup.Wait(c)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	step("badge", time.Second, func(context.Context) error { return a.badge.Close() })
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
