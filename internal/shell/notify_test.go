package shell

import (
	"context"
	"sync"
	"testing"
	"time"

	"msgshell/internal/linkpolicy"
	"msgshell/internal/notifier"
	kit "msgshell/internal/transport"
	"msgshell/internal/unread"
	logx "msgshell/pkg/logx"
)

type deliveredSink struct {
	mu  sync.Mutex
	got []kit.Notification
}

func (d *deliveredSink) Name() string { return kit.ChannelDesktop }

func (d *deliveredSink) Send(_ context.Context, n kit.Notification) error {
	d.mu.Lock()
	d.got = append(d.got, n)
	d.mu.Unlock()
	return nil
}

func (d *deliveredSink) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.got)
}

// newPipelineHost wires a host to a running notifier with a 10s dedup window.
func newPipelineHost(t *testing.T) (*Host, *manualClock, *deliveredSink) {
	t.Helper()
	sink := &deliveredSink{}
	n := notifier.New(notifier.Config{
		Enabled:             true,
		Workers:             1,
		QueueSize:           64,
		RatePerSec:          100,
		RetryMax:            2,
		RetryBase:           500 * time.Millisecond,
		RetryMaxDelay:       5 * time.Second,
		DedupWindow:         10 * time.Second,
		DedupMaxEntries:     500,
		HistorySize:         100,
		SuppressWhenFocused: true,
	}, logx.Nop(), nil, nil, sink)
	n.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		n.Stop(ctx)
	})

	pol, err := linkpolicy.New([]string{"https://www.messenger.com"})
	if err != nil {
		t.Fatalf("policy: %v", err)
	}
	clock := &manualClock{}
	h, err := NewHost(context.Background(), Config{Policy: pol}, n, nil,
		WithLogger(logx.Nop()),
		WithTrackerOptions(unread.WithClock(clock)),
	)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	return h, clock, sink
}

func waitDelivered(t *testing.T, sink *deliveredSink, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for sink.count() < want {
		if time.Now().After(deadline) {
			t.Fatalf("delivered=%d want %d", sink.count(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
	// nothing extra may arrive
	time.Sleep(50 * time.Millisecond)
	if got := sink.count(); got != want {
		t.Fatalf("delivered=%d want %d", got, want)
	}
}

func TestPipelineDeliversSameCountFromDifferentTitles(t *testing.T) {
	h, clock, sink := newPipelineHost(t)

	h.Attach("Messenger")
	h.Title("(2) Alice")
	clock.flush()
	h.Title("(2) Bob")
	clock.flush()

	waitDelivered(t, sink, 2)
	if sink.got[0].Body != sink.got[1].Body {
		t.Fatalf("bodies differ: %q vs %q", sink.got[0].Body, sink.got[1].Body)
	}
}

func TestPipelineDeliversNewMessageAfterRead(t *testing.T) {
	h, clock, sink := newPipelineHost(t)

	h.Attach("Messenger")
	h.Title("(1) Alice")
	clock.flush()
	waitDelivered(t, sink, 1)

	h.Focus()
	h.Title("Messenger")
	clock.flush()
	h.Blur()

	h.Title("(1) Bob")
	clock.flush()
	waitDelivered(t, sink, 2)
}

func TestPipelineRepeatedStableTitleAfterFocus(t *testing.T) {
	h, clock, sink := newPipelineHost(t)

	h.Attach("Messenger")
	h.Title("(1) Messenger")
	clock.flush()
	waitDelivered(t, sink, 1)

	// focus makes "(1) Messenger" the baseline, so seeing it again is not new
	h.Focus()
	h.Title("Messenger")
	clock.flush()
	h.Blur()
	h.Title("(1) Messenger")
	clock.flush()
	waitDelivered(t, sink, 1)
}

func TestPipelineMutedWhileFocused(t *testing.T) {
	h, clock, sink := newPipelineHost(t)

	h.Attach("Messenger")
	h.Focus()
	h.Title("(3) Messenger")
	clock.flush()
	waitDelivered(t, sink, 0)
}
