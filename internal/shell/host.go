// Package shell hosts the messenger page in a native webview window and
// connects page events to the unread tracker.
package shell

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"msgshell/internal/eventbus"
	"msgshell/internal/linkpolicy"
	kit "msgshell/internal/transport"
	"msgshell/internal/unread"
	logx "msgshell/pkg/logx"
)

// ErrUnsupported is returned by Run in builds without a webview backend.
var ErrUnsupported = errors.New("shell: webview not available in this build (cgo disabled)")

// Window describes the native window.
type Window struct {
	Title  string
	URL    string
	Width  int
	Height int
	Debug  bool
}

// Notifier receives notifications requested by the tracker.
type Notifier interface {
	Notify(ctx context.Context, n kit.Notification) error
	SetFocused(focused bool)
}

// Badge receives badge counts. SetBadge must not block.
type Badge interface {
	SetBadge(count int)
}

// Config is the hot-reloadable part of the host.
type Config struct {
	Tracker      unread.Config
	StartupRetry time.Duration
	Policy       *linkpolicy.Policy
}

// SessionEvent is published on attach and close.
type SessionEvent struct {
	Session string `json:"session"`
	Count   int    `json:"count"`
}

// FocusEvent is published when window focus changes.
type FocusEvent struct {
	Focused bool `json:"focused"`
	Count   int  `json:"count"`
}

// LinkEvent is published for every routed link.
type LinkEvent struct {
	URL      string `json:"url"`
	Decision string `json:"decision"`
	Error    string `json:"error,omitempty"`
}

type Option func(*Host)

func WithLogger(log logx.Logger) Option { return func(h *Host) { h.log = log } }

func WithBus(bus eventbus.Bus) Option { return func(h *Host) { h.bus = bus } }

// WithOpener replaces the OS link opener.
func WithOpener(fn func(rawURL string) error) Option { return func(h *Host) { h.opener = fn } }

// WithTrackerOptions passes options to every tracker the host creates.
func WithTrackerOptions(opts ...unread.Option) Option {
	return func(h *Host) { h.trackerOpts = append(h.trackerOpts, opts...) }
}

// Host owns the per-page tracker and the window focus flag. Its exported
// methods are the functions bound into the page.
type Host struct {
	log         logx.Logger
	bus         eventbus.Bus
	notifier    Notifier
	badge       Badge
	opener      func(string) error
	trackerOpts []unread.Option

	// ctx bounds notifier calls made on behalf of the page.
	ctx context.Context

	mu      sync.Mutex
	cfg     Config
	tracker *unread.Tracker
	focused bool
}

func NewHost(ctx context.Context, cfg Config, notifier Notifier, badge Badge, opts ...Option) (*Host, error) {
	if cfg.Policy == nil {
		return nil, errors.New("shell: link policy is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h := &Host{
		ctx:      ctx,
		cfg:      cfg,
		notifier: notifier,
		badge:    badge,
		opener:   OpenExternal,
	}
	for _, o := range opts {
		o(h)
	}
	if h.log.IsZero() {
		h.log = logx.Nop()
	}
	h.log = h.log.With(logx.String("comp", "shell"))
	return h, nil
}

// Apply swaps tracker and link settings. The live tracker keeps its session.
func (h *Host) Apply(cfg Config) {
	h.mu.Lock()
	if cfg.Policy == nil {
		cfg.Policy = h.cfg.Policy
	}
	h.cfg = cfg
	tr := h.tracker
	h.mu.Unlock()
	if tr != nil {
		tr.Apply(cfg.Tracker)
	}
}

// Bindings maps page function names to host methods.
func (h *Host) Bindings() map[string]any {
	return map[string]any{
		BindAttach:   h.Attach,
		BindTitle:    h.Title,
		BindFocus:    h.Focus,
		BindBlur:     h.Blur,
		BindOpenLink: h.OpenLink,
		BindDetach:   h.Detach,
	}
}

// Preload renders the page script for the current config.
func (h *Host) Preload() (string, error) {
	h.mu.Lock()
	retry := h.cfg.StartupRetry
	h.mu.Unlock()
	return RenderPreload(retry)
}

// Attach starts a new page session seeded with title. Any previous session
// is discarded first.
func (h *Host) Attach(title string) {
	h.mu.Lock()
	old := h.tracker
	sig := &sessionSignals{host: h}
	tr := unread.New(h.cfg.Tracker, sig, h.trackerOptsLocked()...)
	sig.session = tr.Session()
	h.tracker = tr
	h.mu.Unlock()

	if old != nil {
		h.closeTracker(old)
	}
	tr.Attach(title)
	h.log.Info("page session attached", logx.String("session", tr.Session()), logx.Int("count", unread.ExtractCount(title)))
	h.publish(eventbus.TypeSessionAttach, SessionEvent{Session: tr.Session(), Count: unread.ExtractCount(title)})
}

func (h *Host) trackerOptsLocked() []unread.Option {
	opts := []unread.Option{unread.WithLogger(h.log)}
	if h.bus != nil {
		opts = append(opts, unread.WithBus(h.bus))
	}
	return append(opts, h.trackerOpts...)
}

// Title forwards a raw title mutation. A title before any attach starts
// the session.
func (h *Host) Title(raw string) {
	h.mu.Lock()
	tr := h.tracker
	h.mu.Unlock()
	if tr == nil {
		h.Attach(raw)
		return
	}
	tr.OnTitleMutated(raw)
}

func (h *Host) Focus() {
	h.mu.Lock()
	h.focused = true
	tr := h.tracker
	h.mu.Unlock()

	if h.notifier != nil {
		h.notifier.SetFocused(true)
	}
	count := 0
	if tr != nil {
		tr.OnWindowFocused()
		count = tr.Snapshot().HighestSeen
	}
	h.publish(eventbus.TypeFocus, FocusEvent{Focused: true, Count: count})
}

func (h *Host) Blur() {
	h.mu.Lock()
	h.focused = false
	h.mu.Unlock()
	if h.notifier != nil {
		h.notifier.SetFocused(false)
	}
	h.publish(eventbus.TypeFocus, FocusEvent{Focused: false, Count: h.Backlog()})
}

// OpenLink routes a link and returns the decision name for the page script.
func (h *Host) OpenLink(rawURL string) string {
	h.mu.Lock()
	policy := h.cfg.Policy
	h.mu.Unlock()

	d := policy.Decide(rawURL)
	ev := LinkEvent{URL: rawURL, Decision: d.String()}
	if d == linkpolicy.OpenExternal {
		if err := h.opener(rawURL); err != nil {
			h.log.Warn("open external link failed", logx.String("url", rawURL), logx.Err(err))
			ev.Error = err.Error()
		}
	}
	h.log.Debug("link routed", logx.String("url", rawURL), logx.String("decision", d.String()))
	h.publish(eventbus.TypeLinkDecision, ev)
	return d.String()
}

// Detach discards the current page session (navigation or unload).
func (h *Host) Detach() {
	h.mu.Lock()
	tr := h.tracker
	h.tracker = nil
	h.mu.Unlock()
	if tr != nil {
		h.closeTracker(tr)
	}
}

// Close ends the host. The badge is cleared.
func (h *Host) Close() {
	h.Detach()
	if h.badge != nil {
		h.badge.SetBadge(0)
	}
}

func (h *Host) closeTracker(tr *unread.Tracker) {
	st := tr.Snapshot()
	tr.Close()
	h.log.Debug("page session closed", logx.String("session", st.Session))
	h.publish(eventbus.TypeSessionClose, SessionEvent{Session: st.Session, Count: st.HighestSeen})
}

func (h *Host) Focused() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.focused
}

// Backlog is the badge value of the live session (0 without one).
func (h *Host) Backlog() int {
	h.mu.Lock()
	tr := h.tracker
	h.mu.Unlock()
	if tr == nil {
		return 0
	}
	return tr.Snapshot().HighestSeen
}

// Snapshot returns the live session state, if any.
func (h *Host) Snapshot() (unread.State, bool) {
	h.mu.Lock()
	tr := h.tracker
	h.mu.Unlock()
	if tr == nil {
		return unread.State{}, false
	}
	return tr.Snapshot(), true
}

func (h *Host) publish(typ string, data any) {
	if h.bus == nil {
		return
	}
	h.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: data})
}

// sessionSignals forwards one tracker's signals to the host sinks.
type sessionSignals struct {
	host    *Host
	session string
	seq     atomic.Uint64
}

func (s *sessionSignals) SetBadge(count int) {
	if s.host.badge != nil {
		s.host.badge.SetBadge(count)
	}
}

func (s *sessionSignals) RequestNotification(title, body string, silent bool) {
	if s.host.notifier == nil {
		return
	}
	// The tracker already decided this is new, so each request gets its own tag.
	tag := s.session + "#" + strconv.FormatUint(s.seq.Add(1), 10)
	err := s.host.notifier.Notify(s.host.ctx, kit.Notification{
		Session:  s.session,
		Priority: 5,
		Title:    title,
		Body:     body,
		Silent:   silent,
		Tag:      tag,
	})
	if err != nil {
		s.host.log.Warn("notification not queued", logx.String("session", s.session), logx.Err(err))
	}
}
