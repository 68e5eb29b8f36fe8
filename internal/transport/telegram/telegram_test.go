package telegram

import (
	"context"
	"errors"
	"testing"

	tele "gopkg.in/telebot.v4"

	kit "msgshell/internal/transport"
	logx "msgshell/pkg/logx"
)

type fakeSender struct {
	to   tele.Recipient
	what interface{}
	opts []interface{}
	err  error
}

func (f *fakeSender) Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error) {
	f.to, f.what, f.opts = to, what, opts
	if f.err != nil {
		return nil, f.err
	}
	return &tele.Message{ID: 1}, nil
}

func TestFormat(t *testing.T) {
	cases := []struct {
		name string
		n    kit.Notification
		want string
	}{
		{"both", kit.Notification{Title: "New Message", Body: "You have 2 new messages"}, "<b>New Message</b>\nYou have 2 new messages"},
		{"escaped", kit.Notification{Title: "<x>", Body: "a & b"}, "<b>&lt;x&gt;</b>\na &amp; b"},
		{"title only", kit.Notification{Title: "T"}, "<b>T</b>"},
		{"body only", kit.Notification{Body: "B"}, "B"},
		{"empty", kit.Notification{Title: "  "}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Format(tc.n); got != tc.want {
				t.Fatalf("got %q want %q", got, tc.want)
			}
		})
	}
}

func TestSinkSend(t *testing.T) {
	f := &fakeSender{}
	s := NewWithSender(Config{ChatID: 42, ThreadID: 7}, f, logx.Nop())
	if err := s.Send(context.Background(), kit.Notification{Title: "New Message", Body: "hi", Silent: true}); err != nil {
		t.Fatalf("send: %v", err)
	}
	chat, ok := f.to.(*tele.Chat)
	if !ok || chat.ID != 42 {
		t.Fatalf("recipient=%#v", f.to)
	}
	if len(f.opts) != 1 {
		t.Fatalf("opts=%v", f.opts)
	}
	opt, ok := f.opts[0].(*tele.SendOptions)
	if !ok || !opt.DisableNotification || opt.ThreadID != 7 || opt.ParseMode != tele.ModeHTML {
		t.Fatalf("opts=%#v", f.opts[0])
	}
}

func TestSinkSendError(t *testing.T) {
	f := &fakeSender{err: errors.New("429")}
	s := NewWithSender(Config{ChatID: 1}, f, logx.Nop())
	if err := s.Send(context.Background(), kit.Notification{Title: "x"}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestNewValidates(t *testing.T) {
	if _, err := New(Config{ChatID: 1}, logx.Nop()); err == nil {
		t.Fatalf("expected token error")
	}
	if _, err := New(Config{Token: "t"}, logx.Nop()); err == nil {
		t.Fatalf("expected chat error")
	}
}
