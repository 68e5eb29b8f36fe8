package transport

import "context"

// Channel names used in dedup keys, events and the delivery log.
const (
	ChannelDesktop  = "desktop"
	ChannelTelegram = "telegram"
)

// Notification is one user-facing message about unread activity.
type Notification struct {
	Channel  string // filled in per sink by the notifier
	Session  string // page session that produced it, if any
	Priority int    // 0 low.. 10 high
	Title    string
	Body     string
	Silent   bool
	// Tag identifies a notification its producer already deduplicated.
	// Tagged notifications skip the notifier's dedup window.
	Tag string
}

// Sink delivers notifications to one channel.
//
// Send must honour ctx and return quickly once it is done.
type Sink interface {
	Name() string
	Send(ctx context.Context, n Notification) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc struct {
	ChannelName string
	Fn          func(ctx context.Context, n Notification) error
}

func (f SinkFunc) Name() string { return f.ChannelName }

func (f SinkFunc) Send(ctx context.Context, n Notification) error { return f.Fn(ctx, n) }
