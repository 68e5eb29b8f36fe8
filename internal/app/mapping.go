package app

import (
	"fmt"
	"strings"
	"time"

	"msgshell/internal/config"
	"msgshell/internal/linkpolicy"
	"msgshell/internal/notifier"
	"msgshell/internal/observability/status"
	"msgshell/internal/reminder"
	"msgshell/internal/shell"
	"msgshell/internal/storage"
	kit "msgshell/internal/transport"
	"msgshell/internal/transport/desktop"
	"msgshell/internal/transport/telegram"
	"msgshell/internal/unread"
	logx "msgshell/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled:   cfg.Logging.File.Enabled,
			Path:      cfg.Logging.File.Path,
			MaxSizeMB: cfg.Logging.File.MaxSizeMB,
		},
	}
}

func mapWindow(cfg *config.Config) shell.Window {
	w := shell.Window{
		Title:  strings.TrimSpace(cfg.Window.Title),
		URL:    strings.TrimSpace(cfg.Window.URL),
		Width:  cfg.Window.Width,
		Height: cfg.Window.Height,
		Debug:  cfg.Window.Debug,
	}
	if w.Title == "" {
		w.Title = config.DefaultTitle
	}
	if w.URL == "" {
		w.URL = config.DefaultURL
	}
	if w.Width <= 0 {
		w.Width = config.DefaultWidth
	}
	if w.Height <= 0 {
		w.Height = config.DefaultHeight
	}
	return w
}

func mapTrackerConfig(cfg *config.Config) (unread.Config, error) {
	debounce, err := config.ParseDurationOrDefault("tracker.debounce", cfg.Tracker.Debounce, unread.DefaultDebounce)
	if err != nil {
		return unread.Config{}, err
	}
	policy, err := unread.ParseDedupPolicy(cfg.Tracker.Dedup)
	if err != nil {
		return unread.Config{}, fmt.Errorf("tracker.dedup: %w", err)
	}
	title := strings.TrimSpace(cfg.Tracker.NotificationTitle)
	if title == "" {
		title = unread.DefaultNotificationTitle
	}
	return unread.Config{
		Debounce:          debounce,
		Dedup:             policy,
		NotificationTitle: title,
		Silent:            cfg.Tracker.Silent,
	}, nil
}

// mapHostConfig builds the live shell settings. The window URL's origin is
// always allowed so the start page never opens externally.
func mapHostConfig(cfg *config.Config) (shell.Config, error) {
	tc, err := mapTrackerConfig(cfg)
	if err != nil {
		return shell.Config{}, err
	}
	retry, err := config.ParseDurationOrDefault("tracker.startup_retry", cfg.Tracker.StartupRetry, shell.DefaultStartupRetry)
	if err != nil {
		return shell.Config{}, err
	}
	origins := cfg.Navigation.AllowedOrigins
	if len(origins) == 0 {
		origins = config.DefaultAllowedOrigins
	}
	origins = append(append([]string(nil), origins...), mapWindow(cfg).URL)
	pol, err := linkpolicy.New(origins)
	if err != nil {
		return shell.Config{}, fmt.Errorf("navigation.allowed_origins: %w", err)
	}
	return shell.Config{Tracker: tc, StartupRetry: retry, Policy: pol}, nil
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	n := config.DefaultNotifier()
	if cfg.Notifier != nil {
		n = *cfg.Notifier
	}
	def := config.DefaultNotifier()
	if n.Workers <= 0 {
		n.Workers = def.Workers
	}
	if n.QueueSize <= 0 {
		n.QueueSize = def.QueueSize
	}
	if n.RatePerSec <= 0 {
		n.RatePerSec = def.RatePerSec
	}
	if n.DedupMaxEntries <= 0 {
		n.DedupMaxEntries = def.DedupMaxEntries
	}
	if n.HistorySize <= 0 {
		n.HistorySize = def.HistorySize
	}
	base, err := config.ParseDurationOrDefault("notifier.retry_base", n.RetryBase, 500*time.Millisecond)
	if err != nil {
		return notifier.Config{}, err
	}
	maxDelay, err := config.ParseDurationOrDefault("notifier.retry_max_delay", n.RetryMaxDelay, 5*time.Second)
	if err != nil {
		return notifier.Config{}, err
	}
	window, err := config.ParseDurationOrDefault("notifier.dedup_window", n.DedupWindow, 10*time.Second)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		Enabled:             n.Enabled,
		Workers:             n.Workers,
		QueueSize:           n.QueueSize,
		RatePerSec:          n.RatePerSec,
		RetryMax:            n.RetryMax,
		RetryBase:           base,
		RetryMaxDelay:       maxDelay,
		DedupWindow:         window,
		DedupMaxEntries:     n.DedupMaxEntries,
		PersistDedup:        n.PersistDedup,
		HistorySize:         n.HistorySize,
		SuppressWhenFocused: cfg.Notifier.SuppressFocused(),
	}, nil
}

func mapReminderConfig(cfg *config.Config) reminder.Config {
	title := strings.TrimSpace(cfg.Tracker.NotificationTitle)
	if title == "" {
		title = unread.DefaultNotificationTitle
	}
	return reminder.Config{
		Enabled:  cfg.Reminder.Enabled,
		Schedule: cfg.Reminder.Schedule,
		Timezone: cfg.Reminder.Timezone,
		Title:    title,
	}
}

// mapStorageConfig reports whether storage is enabled.
func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "", "none":
		return storage.Config{}, false, nil
	case "file":
		if path == "" {
			path = "./msgshell_store"
		}
		return storage.Config{Driver: driver, Path: path}, true, nil
	case "sqlite":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapStatusConfig(cfg *config.Config) (status.Config, error) {
	sc := cfg.Status
	read, err := config.ParseDurationOrDefault("status.read_timeout", sc.ReadTimeout, 5*time.Second)
	if err != nil {
		return status.Config{}, err
	}
	// 0 keeps /debug/pprof/profile usable.
	write, err := config.ParseDurationField("status.write_timeout", sc.WriteTimeout)
	if err != nil {
		return status.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("status.idle_timeout", sc.IdleTimeout, 60*time.Second)
	if err != nil {
		return status.Config{}, err
	}
	addr := strings.TrimSpace(sc.Addr)
	if addr == "" {
		addr = status.DefaultAddr
	}
	return status.Config{
		Enabled:       sc.Enabled,
		Addr:          addr,
		Token:         strings.TrimSpace(sc.Token),
		AllowInsecure: sc.AllowInsecure,
		Pprof:         sc.Pprof,
		ReadTimeout:   read,
		WriteTimeout:  write,
		IdleTimeout:   idle,
	}, nil
}

func mapTelegramConfig(cfg *config.Config) (telegram.Config, bool, error) {
	tc := cfg.Telegram
	if !tc.Enabled {
		return telegram.Config{}, false, nil
	}
	timeout, err := config.ParseDurationOrDefault("telegram.timeout", tc.Timeout, 8*time.Second)
	if err != nil {
		return telegram.Config{}, false, err
	}
	return telegram.Config{
		Token:    strings.TrimSpace(tc.Token),
		ChatID:   tc.ChatID,
		ThreadID: tc.ThreadID,
		Timeout:  timeout,
	}, true, nil
}

// buildSinks returns the desktop sink plus the Telegram mirror when enabled.
// A broken mirror is logged and skipped; desktop delivery still works.
func buildSinks(cfg *config.Config, log logx.Logger) []kit.Sink {
	sinks := []kit.Sink{desktop.New("")}
	tc, enabled, err := mapTelegramConfig(cfg)
	if err != nil {
		log.Warn("telegram mirror disabled: invalid config", logx.Err(err))
		return sinks
	}
	if !enabled {
		return sinks
	}
	tg, err := telegram.New(tc, log)
	if err != nil {
		log.Warn("telegram mirror disabled", logx.Err(err))
		return sinks
	}
	return append(sinks, tg)
}

// validateConfig runs every mapper so a bad hot-reload is rejected before
// commit.
func validateConfig(cfg *config.Config) error {
	if _, err := mapHostConfig(cfg); err != nil {
		return err
	}
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	if err := reminder.Validate(mapReminderConfig(cfg)); err != nil {
		return err
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapStatusConfig(cfg); err != nil {
		return err
	}
	_, _, err := mapTelegramConfig(cfg)
	return err
}
