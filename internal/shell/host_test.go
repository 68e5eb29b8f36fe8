package shell

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"msgshell/internal/eventbus"
	"msgshell/internal/linkpolicy"
	kit "msgshell/internal/transport"
	"msgshell/internal/unread"
	logx "msgshell/pkg/logx"
)

// manualClock runs pending callbacks only when flush is called.
type manualClock struct {
	mu      sync.Mutex
	pending []*manualTimer
}

type manualTimer struct {
	fn      func()
	stopped bool
}

func (t *manualTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

func (c *manualClock) AfterFunc(_ time.Duration, f func()) unread.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{fn: f}
	c.pending = append(c.pending, t)
	return t
}

func (c *manualClock) flush() {
	c.mu.Lock()
	due := c.pending
	c.pending = nil
	c.mu.Unlock()
	for _, t := range due {
		if !t.stopped {
			t.stopped = true
			t.fn()
		}
	}
}

type fakeNotifier struct {
	mu      sync.Mutex
	got     []kit.Notification
	focused bool
	err     error
}

func (f *fakeNotifier) Notify(_ context.Context, n kit.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, n)
	return f.err
}

func (f *fakeNotifier) SetFocused(v bool) {
	f.mu.Lock()
	f.focused = v
	f.mu.Unlock()
}

type fakeBadge struct{ values []int }

func (f *fakeBadge) SetBadge(n int) { f.values = append(f.values, n) }

func (f *fakeBadge) last() int {
	if len(f.values) == 0 {
		return -1
	}
	return f.values[len(f.values)-1]
}

type hostFixture struct {
	host   *Host
	clock  *manualClock
	notif  *fakeNotifier
	badge  *fakeBadge
	opened []string
}

func newFixture(t *testing.T, opts ...Option) *hostFixture {
	t.Helper()
	pol, err := linkpolicy.New([]string{"https://www.messenger.com"})
	if err != nil {
		t.Fatalf("policy: %v", err)
	}
	f := &hostFixture{clock: &manualClock{}, notif: &fakeNotifier{}, badge: &fakeBadge{}}
	opts = append([]Option{
		WithLogger(logx.Nop()),
		WithTrackerOptions(unread.WithClock(f.clock)),
		WithOpener(func(u string) error {
			f.opened = append(f.opened, u)
			return nil
		}),
	}, opts...)
	h, err := NewHost(context.Background(), Config{Policy: pol}, f.notif, f.badge, opts...)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	f.host = h
	return f
}

func TestHostEndToEnd(t *testing.T) {
	f := newFixture(t)
	h := f.host

	h.Attach("Messenger")
	if f.badge.last() != 0 {
		t.Fatalf("attach should publish the initial badge, got %v", f.badge.values)
	}
	h.Blur()

	h.Title("(3) Messenger")
	f.clock.flush()

	if f.badge.last() != 3 {
		t.Fatalf("badge=%v want 3", f.badge.values)
	}
	if len(f.notif.got) != 1 {
		t.Fatalf("notifications=%d want 1", len(f.notif.got))
	}
	n := f.notif.got[0]
	if n.Title != unread.DefaultNotificationTitle || n.Body != "You have 3 new messages" {
		t.Fatalf("notification=%+v", n)
	}
	st, ok := h.Snapshot()
	if !ok || n.Session != st.Session {
		t.Fatalf("notification session %q, live session %q", n.Session, st.Session)
	}
	if h.Backlog() != 3 {
		t.Fatalf("backlog=%d", h.Backlog())
	}

	h.Title("(0) Messenger")
	f.clock.flush()
	h.Focus()
	if !f.notif.focused || !h.Focused() {
		t.Fatalf("focus not propagated")
	}
	if h.Backlog() != 0 || f.badge.last() != 0 {
		t.Fatalf("focus should reset to live count, backlog=%d badge=%v", h.Backlog(), f.badge.values)
	}
}

func TestHostReattachStartsNewSession(t *testing.T) {
	bus := eventbus.New()
	events, unsub := bus.Subscribe(32)
	defer unsub()
	f := newFixture(t, WithBus(bus))

	f.host.Attach("(2) Messenger")
	first, _ := f.host.Snapshot()
	f.host.Title("(4) Messenger")

	f.host.Attach("(1) Messenger")
	second, _ := f.host.Snapshot()
	if first.Session == second.Session {
		t.Fatalf("reattach should create a new session")
	}
	// the pending debounce of the closed session must not fire
	f.clock.flush()
	if len(f.notif.got) != 0 {
		t.Fatalf("closed session notified: %+v", f.notif.got)
	}
	if second.HighestSeen != 1 {
		t.Fatalf("new session seeded with %d", second.HighestSeen)
	}

	var closed []string
	for len(events) > 0 {
		ev := <-events
		if ev.Type == eventbus.TypeSessionClose {
			closed = append(closed, ev.Data.(SessionEvent).Session)
		}
	}
	if len(closed) != 1 || closed[0] != first.Session {
		t.Fatalf("closed sessions=%v", closed)
	}
}

func TestHostTitleBeforeAttach(t *testing.T) {
	f := newFixture(t)
	f.host.Title("(5) Messenger")
	if _, ok := f.host.Snapshot(); !ok {
		t.Fatalf("title should start a session")
	}
	f.clock.flush()
	if len(f.notif.got) != 0 {
		t.Fatalf("seeded count must not notify")
	}
}

func TestHostDetach(t *testing.T) {
	f := newFixture(t)
	f.host.Attach("Messenger")
	f.host.Title("(1) Messenger")
	f.host.Detach()
	f.clock.flush()
	if len(f.notif.got) != 0 {
		t.Fatalf("detached session notified")
	}
	if _, ok := f.host.Snapshot(); ok {
		t.Fatalf("session should be gone")
	}
	f.host.Close()
	if f.badge.last() != 0 {
		t.Fatalf("close should clear the badge")
	}
}

func TestHostOpenLink(t *testing.T) {
	f := newFixture(t)
	cases := []struct {
		url, want string
		opened    bool
	}{
		{"https://www.messenger.com/t/1", "allow", false},
		{"https://example.org/x", "external", true},
		{"javascript:void(0)", "block", false},
	}
	for _, tc := range cases {
		before := len(f.opened)
		if got := f.host.OpenLink(tc.url); got != tc.want {
			t.Fatalf("OpenLink(%q)=%q want %q", tc.url, got, tc.want)
		}
		if (len(f.opened) > before) != tc.opened {
			t.Fatalf("OpenLink(%q) opened=%v", tc.url, f.opened)
		}
	}
}

func TestHostOpenerFailureStillExternal(t *testing.T) {
	f := newFixture(t, WithOpener(func(string) error { return errors.New("no xdg-open") }))
	if got := f.host.OpenLink("https://example.org"); got != "external" {
		t.Fatalf("decision=%q", got)
	}
}

func TestHostNotifierErrorIsLogged(t *testing.T) {
	f := newFixture(t)
	f.notif.err = errors.New("queue full")
	f.host.Attach("Messenger")
	f.host.Title("(1) Messenger")
	f.clock.flush()
	if len(f.notif.got) != 1 {
		t.Fatalf("notifier should still be called")
	}
}

func TestNewHostRequiresPolicy(t *testing.T) {
	if _, err := NewHost(context.Background(), Config{}, nil, nil); err == nil {
		t.Fatalf("expected error")
	}
}

func TestBindingsCoverPreload(t *testing.T) {
	f := newFixture(t)
	js, err := f.host.Preload()
	if err != nil {
		t.Fatalf("preload: %v", err)
	}
	for name := range f.host.Bindings() {
		if !strings.Contains(js, name) {
			t.Fatalf("preload does not call %s", name)
		}
	}
}

func TestRenderPreloadRetry(t *testing.T) {
	js, err := RenderPreload(250 * time.Millisecond)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(js, "var retryMs = 250;") {
		t.Fatalf("retry interval not rendered")
	}
	js, _ = RenderPreload(0)
	if !strings.Contains(js, "var retryMs = 1000;") {
		t.Fatalf("default retry interval not rendered")
	}
	if strings.Contains(js, "{{") {
		t.Fatalf("unrendered template action")
	}
}

func TestPreloadRoutesEveryNavigationKind(t *testing.T) {
	js, err := RenderPreload(0)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	hooks := []string{
		`document.addEventListener("click"`,
		`document.addEventListener("submit"`,
		`window.navigation.addEventListener("navigate"`,
		`window.open = function`,
	}
	for _, hook := range hooks {
		if !strings.Contains(js, hook) {
			t.Fatalf("preload misses %s", hook)
		}
	}
	if strings.Count(js, `call("`+BindOpenLink+`"`) != 1 {
		t.Fatalf("all navigation hooks should share one routing call")
	}
}
