package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Config is the on-disk shape of the msgshell configuration.
//
// All durations are Go duration strings (e.g. "800ms", "10s", "30m").
type Config struct {
	Window     WindowConfig     `json:"window"`
	Navigation NavigationConfig `json:"navigation"`
	Tracker    TrackerConfig    `json:"tracker"`
	Notifier   *NotifierConfig  `json:"notifier,omitempty"`
	Badge      BadgeConfig      `json:"badge"`
	Reminder   ReminderConfig   `json:"reminder"`
	Telegram   TelegramConfig   `json:"telegram"`
	Logging    LoggingConfig    `json:"logging"`
	Storage    *StorageConfig   `json:"storage,omitempty"`
	Status     StatusConfig     `json:"status,omitempty"`
}

const (
	DefaultURL    = "https://www.messenger.com"
	DefaultTitle  = "Messenger"
	DefaultWidth  = 1100
	DefaultHeight = 760
)

// DefaultAllowedOrigins are the origins kept inside the shell window when
// navigation.allowed_origins is empty.
var DefaultAllowedOrigins = []string{"https://www.messenger.com", "https://www.facebook.com"}

type WindowConfig struct {
	Title  string `json:"title,omitempty"`
	URL    string `json:"url,omitempty"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
	// Debug enables the webview inspector.
	Debug bool `json:"debug,omitempty"`
}

type NavigationConfig struct {
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
}

// TrackerConfig controls unread tracking.
//
// Defaults:
//   - debounce: "800ms"
//   - dedup: "title" (or "count")
//   - notification_title: "New Message"
//   - startup_retry: "1s"
type TrackerConfig struct {
	Debounce          string `json:"debounce,omitempty"`
	Dedup             string `json:"dedup,omitempty"`
	NotificationTitle string `json:"notification_title,omitempty"`
	Silent            bool   `json:"silent,omitempty"`
	StartupRetry      string `json:"startup_retry,omitempty"`
}

// NotifierConfig controls the async notification pipeline.
//
// If the whole section is omitted, the notifier defaults to enabled=true.
type NotifierConfig struct {
	Enabled         bool   `json:"enabled"`
	Workers         int    `json:"workers"`
	QueueSize       int    `json:"queue_size"`
	RatePerSec      int    `json:"rate_per_sec"`
	RetryMax        int    `json:"retry_max"`
	RetryBase       string `json:"retry_base"`
	RetryMaxDelay   string `json:"retry_max_delay"`
	DedupWindow     string `json:"dedup_window"`
	DedupMaxEntries int    `json:"dedup_max_entries"`
	PersistDedup    bool   `json:"persist_dedup,omitempty"`
	HistorySize     int    `json:"history_size,omitempty"`

	// SuppressWhenFocused drops notifications while the shell window has
	// focus. Pointer so an omitted key defaults to true.
	SuppressWhenFocused *bool `json:"suppress_when_focused,omitempty"`
}

func (n *NotifierConfig) SuppressFocused() bool {
	if n == nil || n.SuppressWhenFocused == nil {
		return true
	}
	return *n.SuppressWhenFocused
}

type BadgeConfig struct {
	Enabled bool `json:"enabled"`
	// DesktopID is the .desktop file name announced to the launcher.
	DesktopID string `json:"desktop_id,omitempty"` // default: "msgshell.desktop"
}

// ReminderConfig periodically repeats an unread reminder while the window is
// not focused. Schedule accepts standard 5-field cron and descriptors such as
// "@every 30m".
type ReminderConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

// TelegramConfig configures the optional notification mirror.
type TelegramConfig struct {
	Enabled  bool   `json:"enabled"`
	Token    string `json:"token,omitempty"` // do not log
	ChatID   int64  `json:"chat_id,omitempty"`
	ThreadID int    `json:"thread_id,omitempty"`
	// Timeout is a Go duration string for API calls.
	Timeout string `json:"timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled   bool   `json:"enabled"`
	Path      string `json:"path"`
	MaxSizeMB int    `json:"max_size_mb,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./msgshell_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// StatusConfig controls the optional status HTTP server.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:7077").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type StatusConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:7077"
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	// WriteTimeout defaults to 0 (disabled) so /debug/pprof/profile works.
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// Validate checks cross-field rules that strict decoding cannot express.
// Errors name the dotted key path.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config: nil")
	}
	if c.Window.URL != "" {
		u, err := url.Parse(c.Window.URL)
		if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
			return fmt.Errorf("window.url: must be an absolute http(s) URL")
		}
	}
	if c.Window.Width < 0 || c.Window.Height < 0 {
		return fmt.Errorf("window: width/height must be >= 0")
	}
	for i, o := range c.Navigation.AllowedOrigins {
		u, err := url.Parse(strings.TrimSpace(o))
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("navigation.allowed_origins[%d]: invalid origin %q", i, o)
		}
	}

	if _, err := ParseDurationField("tracker.debounce", c.Tracker.Debounce); err != nil {
		return err
	}
	if _, err := ParseDurationField("tracker.startup_retry", c.Tracker.StartupRetry); err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(c.Tracker.Dedup)) {
	case "", "title", "count":
	default:
		return fmt.Errorf("tracker.dedup: unknown policy %q (want title|count)", c.Tracker.Dedup)
	}

	if n := c.Notifier; n != nil {
		for _, f := range []struct{ path, raw string }{
			{"notifier.retry_base", n.RetryBase},
			{"notifier.retry_max_delay", n.RetryMaxDelay},
			{"notifier.dedup_window", n.DedupWindow},
		} {
			if _, err := ParseDurationField(f.path, f.raw); err != nil {
				return err
			}
		}
		if n.Workers < 0 || n.QueueSize < 0 || n.RatePerSec < 0 || n.RetryMax < 0 {
			return fmt.Errorf("notifier: numeric fields must be >= 0")
		}
	}

	if c.Reminder.Enabled && strings.TrimSpace(c.Reminder.Schedule) == "" {
		return fmt.Errorf("reminder.schedule: required when reminder.enabled")
	}

	if c.Telegram.Enabled {
		if strings.TrimSpace(c.Telegram.Token) == "" {
			return fmt.Errorf("telegram.token: required when telegram.enabled")
		}
		if c.Telegram.ChatID == 0 {
			return fmt.Errorf("telegram.chat_id: required when telegram.enabled")
		}
	}
	if _, err := ParseDurationField("telegram.timeout", c.Telegram.Timeout); err != nil {
		return err
	}

	if s := c.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none", "file", "sqlite":
		default:
			return fmt.Errorf("storage.driver: unknown driver %q", s.Driver)
		}
		if _, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
			return err
		}
	}

	for _, f := range []struct{ path, raw string }{
		{"status.read_timeout", c.Status.ReadTimeout},
		{"status.write_timeout", c.Status.WriteTimeout},
		{"status.idle_timeout", c.Status.IdleTimeout},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}
	return nil
}
