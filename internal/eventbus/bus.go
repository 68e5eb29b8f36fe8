package eventbus

import (
	"strings"
	"sync"
	"time"
)

// Event is an in-process signal: unread changes, focus, session lifecycle,
// link routing and notifier outcomes. Publish never blocks; a subscriber
// whose buffer is full misses events. Data should stay small and
// JSON-friendly since the status server may echo it.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// Event types published by msgshell components.
const (
	TypeBadge          = "unread.badge"
	TypeNotify         = "unread.notify"
	TypeFocus          = "window.focus"
	TypeSessionAttach  = "session.attach"
	TypeSessionClose   = "session.close"
	TypeLinkDecision   = "link.decision"
	TypeNotifierQueued = "notifier.queued"
	TypeNotifierSent   = "notifier.sent"
	TypeNotifierDedup  = "notifier.deduped"
	TypeNotifierDrop   = "notifier.dropped"
	TypeNotifierFail   = "notifier.failed"
	TypeNotifierMuted  = "notifier.suppressed"
)

// Filter returns true for events whose Type has the given prefix.
func Filter(prefix string) func(Event) bool {
	return func(e Event) bool { return strings.HasPrefix(e.Type, prefix) }
}

// New returns an in-memory fan-out bus. It starts no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	// mu is held for reading across sends so unsubscribe never closes a
	// channel mid-send.
	mu   sync.RWMutex
	subs map[uint64]chan Event
	next uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			// slow subscriber; drop
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	b.next++
	id := b.next
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
}
