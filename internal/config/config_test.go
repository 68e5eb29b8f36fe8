package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
window:
  url: https://www.messenger.com
  width: 1200
tracker:
  debounce: 500ms
  dedup: count
notifier:
  enabled: true
  workers: 2
  suppress_when_focused: false
reminder:
  enabled: true
  schedule: "@every 30m"
logging:
  level: debug
  console: true
`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	p := writeFile(t, t.TempDir(), "config.yaml", sampleYAML)
	cfg, err := NewConfigManager(p).Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Window.Width != 1200 || cfg.Tracker.Dedup != "count" || cfg.Tracker.Debounce != "500ms" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if cfg.Notifier == nil || cfg.Notifier.Workers != 2 || cfg.Notifier.SuppressFocused() {
		t.Fatalf("unexpected notifier: %+v", cfg.Notifier)
	}
	if !cfg.Reminder.Enabled || cfg.Reminder.Schedule != "@every 30m" {
		t.Fatalf("unexpected reminder: %+v", cfg.Reminder)
	}
}

func TestDecodeRejects(t *testing.T) {
	cases := []struct {
		name string
		path string
		body string
		want string
	}{
		{"unknown field", "c.json", `{"window":{"colour":"red"}}`, "unknown field"},
		{"unknown yaml field", "c.yaml", "tracker:\n  debounse: 1s\n", "unknown field"},
		{"trailing data", "c.json", `{} {}`, "trailing data"},
		{"bad duration", "c.json", `{"tracker":{"debounce":"soon"}}`, "tracker.debounce"},
		{"negative duration", "c.json", `{"tracker":{"debounce":"-1s"}}`, "tracker.debounce"},
		{"bad dedup", "c.json", `{"tracker":{"dedup":"hash"}}`, "tracker.dedup"},
		{"bad url", "c.json", `{"window":{"url":"file:///etc/passwd"}}`, "window.url"},
		{"bad origin", "c.json", `{"navigation":{"allowed_origins":["messenger"]}}`, "navigation.allowed_origins[0]"},
		{"reminder without schedule", "c.json", `{"reminder":{"enabled":true}}`, "reminder.schedule"},
		{"telegram without token", "c.json", `{"telegram":{"enabled":true,"chat_id":1}}`, "telegram.token"},
		{"telegram without chat", "c.json", `{"telegram":{"enabled":true,"token":"x"}}`, "telegram.chat_id"},
		{"storage driver", "c.json", `{"storage":{"driver":"redis"}}`, "storage.driver"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(tc.path, []byte(tc.body))
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err=%q want substring %q", err, tc.want)
			}
		})
	}
}

func TestNotifierSuppressDefault(t *testing.T) {
	var n *NotifierConfig
	if !n.SuppressFocused() {
		t.Fatalf("nil section should suppress")
	}
	cfg, err := Decode("c.json", []byte(`{"notifier":{"enabled":true}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !cfg.Notifier.SuppressFocused() {
		t.Fatalf("omitted key should suppress")
	}
}

func TestResolvePath(t *testing.T) {
	t.Setenv(EnvPath, "/etc/msgshell.yaml")
	if got := ResolvePath("  "); got != "/etc/msgshell.yaml" {
		t.Fatalf("env path: %q", got)
	}
	if got := ResolvePath("./x.json"); got != "./x.json" {
		t.Fatalf("flag path: %q", got)
	}
	t.Setenv(EnvPath, "")
	if got := ResolvePath(""); got != DefaultPath {
		t.Fatalf("default path: %q", got)
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	oldCfg := &Config{Telegram: TelegramConfig{Token: "secret-a"}, Status: StatusConfig{Token: "t1"}}
	newCfg := &Config{
		Tracker:  TrackerConfig{Debounce: "1s"},
		Telegram: TelegramConfig{Token: "secret-b"},
		Status:   StatusConfig{Token: "t2"},
	}
	changed, attrs := SummarizeConfigChange(oldCfg, newCfg)
	want := []string{"status", "telegram", "tracker"}
	if strings.Join(changed, ",") != strings.Join(want, ",") {
		t.Fatalf("changed=%v want %v", changed, want)
	}
	if len(attrs) == 0 {
		t.Fatalf("expected attrs")
	}

	changed, _ = SummarizeConfigChange(nil, &Config{Notifier: func() *NotifierConfig { n := DefaultNotifier(); return &n }()})
	if len(changed) != 0 {
		t.Fatalf("default notifier should not count as a change: %v", changed)
	}
}

func TestSubscribeKeepsLatest(t *testing.T) {
	m := NewConfigManager("unused.json")
	ch := m.Subscribe(1)
	a, b := &Config{}, &Config{}
	m.publish(a)
	m.publish(b)
	if got := <-ch; got != b {
		t.Fatalf("expected latest config")
	}
	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatalf("channel should be closed")
	}
}

func TestWatchPublishesValidChange(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "config.json", `{"tracker":{"debounce":"800ms"}}`)
	m := NewConfigManager(p)
	if _, err := m.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	m.SetValidator(func(ctx context.Context, cfg *Config) error { return nil })
	ch := m.Subscribe(4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()

	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(300 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case cfg := <-ch:
			if cfg.Tracker.Debounce != "2s" {
				t.Fatalf("unexpected reload: %+v", cfg.Tracker)
			}
			if m.Get() != cfg {
				t.Fatalf("published config not committed")
			}
			return
		case <-tick.C:
			// rewrite until the watcher is up and catches a write
			writeFile(t, dir, "config.json", `{"tracker":{"debounce":"2s"}}`)
		case <-deadline:
			t.Fatalf("no reload observed")
		}
	}
}

func TestParseDurationField(t *testing.T) {
	cases := []struct {
		raw     string
		def     time.Duration
		want    time.Duration
		wantErr string
	}{
		{raw: "", def: time.Second, want: time.Second},
		{raw: "0s", def: time.Second, want: time.Second},
		{raw: " 250ms ", want: 250 * time.Millisecond},
		{raw: "soon", wantErr: `tracker.debounce: invalid duration "soon"`},
		{raw: "-1s", wantErr: "tracker.debounce: must not be negative"},
	}
	for _, tc := range cases {
		got, err := ParseDurationOrDefault("tracker.debounce", tc.raw, tc.def)
		if tc.wantErr != "" {
			if err == nil || err.Error() != tc.wantErr {
				t.Fatalf("%q: err=%v want %q", tc.raw, err, tc.wantErr)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("%q: got %v err=%v want %v", tc.raw, got, err, tc.want)
		}
	}
}
