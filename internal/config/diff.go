package config

import (
	"reflect"
	"sort"
	"strings"

	logx "msgshell/pkg/logx"
)

// SummarizeConfigChange returns a sorted list of changed sections and safe
// structured attrs for logging. Secrets (tokens) are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 24)
	mark := func(section string, fields ...logx.Field) {
		changed = append(changed, section)
		attrs = append(attrs, fields...)
	}

	if !reflect.DeepEqual(oldCfg.Window, newCfg.Window) {
		mark("window",
			logx.String("window.url", newCfg.Window.URL),
			logx.Int("window.width", newCfg.Window.Width),
			logx.Int("window.height", newCfg.Window.Height),
		)
	}

	if !reflect.DeepEqual(oldCfg.Navigation, newCfg.Navigation) {
		mark("navigation", logx.Int("navigation.allowed_count", len(newCfg.Navigation.AllowedOrigins)))
	}

	if oldCfg.Tracker != newCfg.Tracker {
		mark("tracker",
			logx.String("tracker.debounce", strings.TrimSpace(newCfg.Tracker.Debounce)),
			logx.String("tracker.dedup", strings.TrimSpace(newCfg.Tracker.Dedup)),
			logx.Bool("tracker.silent", newCfg.Tracker.Silent),
		)
	}

	oldN, newN := notifierOrDefault(oldCfg.Notifier), notifierOrDefault(newCfg.Notifier)
	if !reflect.DeepEqual(oldN, newN) {
		mark("notifier",
			logx.Bool("notifier.enabled", newN.Enabled),
			logx.Int("notifier.workers", newN.Workers),
			logx.Int("notifier.queue_size", newN.QueueSize),
			logx.Int("notifier.rate_per_sec", newN.RatePerSec),
			logx.Int("notifier.retry_max", newN.RetryMax),
			logx.Bool("notifier.persist_dedup", newN.PersistDedup),
			logx.Bool("notifier.suppress_when_focused", newN.SuppressFocused()),
		)
	}

	if oldCfg.Badge != newCfg.Badge {
		mark("badge", logx.Bool("badge.enabled", newCfg.Badge.Enabled))
	}

	if oldCfg.Reminder != newCfg.Reminder {
		mark("reminder",
			logx.Bool("reminder.enabled", newCfg.Reminder.Enabled),
			logx.String("reminder.schedule", strings.TrimSpace(newCfg.Reminder.Schedule)),
			logx.String("reminder.timezone", strings.TrimSpace(newCfg.Reminder.Timezone)),
		)
	}

	// Telegram (never log token)
	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.Enabled != nt.Enabled || ot.ChatID != nt.ChatID || ot.ThreadID != nt.ThreadID ||
		strings.TrimSpace(ot.Timeout) != strings.TrimSpace(nt.Timeout) ||
		strings.TrimSpace(ot.Token) != strings.TrimSpace(nt.Token) {
		mark("telegram",
			logx.Bool("telegram.enabled", newCfg.Telegram.Enabled),
			logx.Bool("telegram.token_set", strings.TrimSpace(newCfg.Telegram.Token) != ""),
			logx.Bool("telegram.thread_set", newCfg.Telegram.ThreadID != 0),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		mark("logging",
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	// Storage: nil means disabled.
	var oDriver, nDriver, oBusy, nBusy, oPath, nPath string
	if s := oldCfg.Storage; s != nil {
		oDriver, oBusy, oPath = strings.TrimSpace(s.Driver), strings.TrimSpace(s.BusyTimeout), strings.TrimSpace(s.Path)
	}
	if s := newCfg.Storage; s != nil {
		nDriver, nBusy, nPath = strings.TrimSpace(s.Driver), strings.TrimSpace(s.BusyTimeout), strings.TrimSpace(s.Path)
	}
	if oDriver != nDriver || oBusy != nBusy || oPath != nPath {
		mark("storage",
			logx.String("storage.driver", nDriver),
			logx.Bool("storage.path_set", nPath != ""),
			logx.String("storage.busy_timeout", nBusy),
		)
	}

	// Status (never log token)
	oSt, ns := oldCfg.Status, newCfg.Status
	tokenChanged := strings.TrimSpace(oSt.Token) != strings.TrimSpace(ns.Token)
	oSt.Token, ns.Token = "", ""
	if oSt != ns || tokenChanged {
		mark("status",
			logx.Bool("status.enabled", ns.Enabled),
			logx.String("status.addr", strings.TrimSpace(ns.Addr)),
			logx.Bool("status.token_set", strings.TrimSpace(newCfg.Status.Token) != ""),
			logx.Bool("status.pprof", ns.Pprof),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// DefaultNotifier is the effective notifier config when the section is omitted.
func DefaultNotifier() NotifierConfig {
	return NotifierConfig{
		Enabled:         true,
		Workers:         1,
		QueueSize:       64,
		RatePerSec:      2,
		RetryMax:        2,
		RetryBase:       "500ms",
		RetryMaxDelay:   "5s",
		DedupWindow:     "10s",
		DedupMaxEntries: 500,
		HistorySize:     100,
	}
}

func notifierOrDefault(n *NotifierConfig) NotifierConfig {
	if n == nil {
		return DefaultNotifier()
	}
	return *n
}
