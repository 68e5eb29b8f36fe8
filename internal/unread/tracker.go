package unread

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"msgshell/internal/eventbus"
	logx "msgshell/pkg/logx"
)

// DefaultDebounce is the quiet period after the last raw title event before
// the title is considered stable.
const DefaultDebounce = 800 * time.Millisecond

// DefaultNotificationTitle is used when Config.NotificationTitle is empty.
const DefaultNotificationTitle = "New Message"

// DedupPolicy selects the notification baseline.
type DedupPolicy string

const (
	// DedupTitle notifies whenever the stable title differs from the last
	// notified title.
	DedupTitle DedupPolicy = "title"
	// DedupCount notifies only when the count exceeds the last notified count.
	DedupCount DedupPolicy = "count"
)

// ParseDedupPolicy maps a config string to a policy. Empty means DedupTitle.
func ParseDedupPolicy(s string) (DedupPolicy, error) {
	switch DedupPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", DedupTitle:
		return DedupTitle, nil
	case DedupCount:
		return DedupCount, nil
	default:
		return "", fmt.Errorf("unknown dedup policy %q (want title|count)", s)
	}
}

// Signals receives the tracker's outbound signals. Implementations must not
// block: they are invoked while the tracker serializes its events.
type Signals interface {
	SetBadge(count int)
	RequestNotification(title, body string, silent bool)
}

type Config struct {
	Debounce          time.Duration
	Dedup             DedupPolicy
	NotificationTitle string
	Silent            bool
}

func (c Config) withDefaults() Config {
	if c.Debounce <= 0 {
		c.Debounce = DefaultDebounce
	}
	if c.Dedup == "" {
		c.Dedup = DedupTitle
	}
	if strings.TrimSpace(c.NotificationTitle) == "" {
		c.NotificationTitle = DefaultNotificationTitle
	}
	return c
}

// State is a point-in-time copy of a tracker's UnreadState.
type State struct {
	Session           string `json:"session"`
	HighestSeen       int    `json:"highest_seen"`
	LastNotifiedCount int    `json:"last_notified_count"`
	LastNotifiedTitle string `json:"last_notified_title,omitempty"`
	LiveTitle         string `json:"live_title"`
	PendingTitle      string `json:"pending_title,omitempty"`
	Pending           bool   `json:"pending"`
	Closed            bool   `json:"closed"`
}

// BadgeEvent is published on the bus as "unread.badge".
type BadgeEvent struct {
	Session string `json:"session"`
	Count   int    `json:"count"`
	Reset   bool   `json:"reset,omitempty"`
}

// NotifyEvent is published on the bus as "unread.notify".
type NotifyEvent struct {
	Session string `json:"session"`
	Count   int    `json:"count"`
	Title   string `json:"title"`
}

// Tracker owns one page session's UnreadState.
//
// It is safe for concurrent use; all entry points and the debounce timer are
// serialized on a single mutex so events are handled in arrival order.
type Tracker struct {
	mu sync.Mutex

	cfg     Config
	out     Signals
	clock   Clock
	log     logx.Logger
	bus     eventbus.Bus
	session string

	highestSeen       int
	lastNotifiedCount int
	baselineTitle     string
	hasBaseline       bool

	liveTitle    string
	pendingTitle string
	pending      bool

	// timer is the single debounce slot. gen invalidates callbacks of
	// replaced timers that were already running when Stop was called.
	timer  Timer
	gen    uint64
	closed bool
}

type Option func(*Tracker)

func WithClock(c Clock) Option { return func(t *Tracker) { t.clock = c } }

func WithLogger(log logx.Logger) Option { return func(t *Tracker) { t.log = log } }

func WithBus(bus eventbus.Bus) Option { return func(t *Tracker) { t.bus = bus } }

// WithSession overrides the generated session id.
func WithSession(id string) Option { return func(t *Tracker) { t.session = id } }

func New(cfg Config, out Signals, opts ...Option) *Tracker {
	t := &Tracker{
		cfg:   cfg.withDefaults(),
		out:   out,
		clock: SystemClock(),
	}
	for _, o := range opts {
		o(t)
	}
	if t.session == "" {
		t.session = uuid.NewString()
	}
	if t.log.IsZero() {
		t.log = logx.Nop()
	}
	t.log = t.log.With(logx.String("session", t.session))
	return t
}

func (t *Tracker) Session() string { return t.session }

// Apply swaps debounce/dedup settings. A pending timer keeps its old delay.
func (t *Tracker) Apply(cfg Config) {
	t.mu.Lock()
	t.cfg = cfg.withDefaults()
	t.mu.Unlock()
}

// Attach seeds the state from the title present when the page finished
// loading. Messages already unread at that point never trigger a notification.
func (t *Tracker) Attach(title string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	c := ExtractCount(title)
	t.liveTitle = title
	t.highestSeen = c
	t.lastNotifiedCount = c
	t.baselineTitle = title
	t.hasBaseline = true
	t.log.Info("tracker attached", logx.Int("count", c))
	t.emitBadgeLocked(c, true)
}

// OnTitleMutated records a raw title and restarts the debounce timer.
func (t *Tracker) OnTitleMutated(raw string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.liveTitle = raw
	t.pendingTitle = raw
	t.pending = true

	if t.timer != nil {
		t.timer.Stop()
	}
	t.gen++
	gen := t.gen
	t.timer = t.clock.AfterFunc(t.cfg.Debounce, func() { t.fire(gen) })
}

// OnWindowFocused resets the backlog to the count in the live title. A debounce
// still pending afterwards is evaluated against this fresh baseline.
func (t *Tracker) OnWindowFocused() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	c := ExtractCount(t.liveTitle)
	prev := t.highestSeen
	t.highestSeen = c
	t.lastNotifiedCount = c
	t.baselineTitle = t.liveTitle
	t.hasBaseline = true

	t.log.Debug("focus reset", logx.Int("count", c), logx.Int("previous", prev))
	if c != prev {
		t.emitBadgeLocked(c, true)
	}
}

// Close discards the session. Pending debounces never fire afterwards.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	t.gen++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.pending = false
	t.pendingTitle = ""
}

func (t *Tracker) Snapshot() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return State{
		Session:           t.session,
		HighestSeen:       t.highestSeen,
		LastNotifiedCount: t.lastNotifiedCount,
		LastNotifiedTitle: t.baselineTitle,
		LiveTitle:         t.liveTitle,
		PendingTitle:      t.pendingTitle,
		Pending:           t.pending,
		Closed:            t.closed,
	}
}

func (t *Tracker) fire(gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || gen != t.gen || !t.pending {
		return
	}
	title := t.pendingTitle
	t.pending = false
	t.pendingTitle = ""
	t.timer = nil
	t.evaluateLocked(title)
}

func (t *Tracker) evaluateLocked(title string) {
	c := ExtractCount(title)

	if c > t.highestSeen {
		t.highestSeen = c
		t.emitBadgeLocked(c, false)
	}

	if c <= 0 || !t.shouldNotifyLocked(title, c) {
		return
	}

	n := c
	if t.cfg.Dedup == DedupCount && t.lastNotifiedCount < c {
		n = c - t.lastNotifiedCount
	}
	t.baselineTitle = title
	t.hasBaseline = true
	t.lastNotifiedCount = c

	t.log.Debug("new messages", logx.Int("count", c), logx.Int("delta", n))
	t.emitNotifyLocked(c, t.cfg.NotificationTitle, NotificationBody(n))
}

func (t *Tracker) shouldNotifyLocked(title string, c int) bool {
	switch t.cfg.Dedup {
	case DedupCount:
		return c > t.lastNotifiedCount
	default:
		return !t.hasBaseline || title != t.baselineTitle
	}
}

func (t *Tracker) emitBadgeLocked(count int, reset bool) {
	if t.out != nil {
		t.safely("badge", func() { t.out.SetBadge(count) })
	}
	if t.bus != nil {
		t.bus.Publish(eventbus.Event{Type: eventbus.TypeBadge, Data: BadgeEvent{Session: t.session, Count: count, Reset: reset}})
	}
}

func (t *Tracker) emitNotifyLocked(count int, title, body string) {
	if t.out != nil {
		silent := t.cfg.Silent
		t.safely("notify", func() { t.out.RequestNotification(title, body, silent) })
	}
	if t.bus != nil {
		t.bus.Publish(eventbus.Event{Type: eventbus.TypeNotify, Data: NotifyEvent{Session: t.session, Count: count, Title: title}})
	}
}

// safely keeps a misbehaving host sink from unwinding through the tracker.
func (t *Tracker) safely(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			t.log.Error("signal sink panicked", logx.String("signal", what), logx.Any("panic", r))
		}
	}()
	fn()
}
