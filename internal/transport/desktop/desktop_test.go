package desktop

import (
	"context"
	"testing"

	kit "msgshell/internal/transport"
)

type fakeBackend struct {
	notified, alerted []string
}

func (f *fakeBackend) Notify(title, message, icon string) error {
	f.notified = append(f.notified, title+"|"+message+"|"+icon)
	return nil
}

func (f *fakeBackend) Alert(title, message, icon string) error {
	f.alerted = append(f.alerted, title+"|"+message+"|"+icon)
	return nil
}

func TestSinkSilentUsesNotify(t *testing.T) {
	b := &fakeBackend{}
	s := NewWithBackend(b, "icon.png")
	ctx := context.Background()

	if err := s.Send(ctx, kit.Notification{Title: "New Message", Body: "You have a new message", Silent: true}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := s.Send(ctx, kit.Notification{Title: "New Message", Body: "You have 2 new messages"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(b.notified) != 1 || b.notified[0] != "New Message|You have a new message|icon.png" {
		t.Fatalf("notified=%v", b.notified)
	}
	if len(b.alerted) != 1 || b.alerted[0] != "New Message|You have 2 new messages|icon.png" {
		t.Fatalf("alerted=%v", b.alerted)
	}
	if s.Name() != kit.ChannelDesktop {
		t.Fatalf("name=%q", s.Name())
	}
}

func TestSinkHonoursCanceledContext(t *testing.T) {
	b := &fakeBackend{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := NewWithBackend(b, "").Send(ctx, kit.Notification{Title: "x"}); err == nil {
		t.Fatalf("expected context error")
	}
	if len(b.notified)+len(b.alerted) != 0 {
		t.Fatalf("backend should not be called")
	}
}
