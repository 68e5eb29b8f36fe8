package notifier

import "time"

// Config controls the async notification pipeline.
type Config struct {
	Enabled             bool
	Workers             int
	QueueSize           int
	RatePerSec          int
	RetryMax            int
	RetryBase           time.Duration
	RetryMaxDelay       time.Duration
	DedupWindow         time.Duration
	DedupMaxEntries     int
	PersistDedup        bool
	HistorySize         int
	SuppressWhenFocused bool
}

// HistoryItem is one delivery outcome.
type HistoryItem struct {
	At       time.Time `json:"at"`
	Channel  string    `json:"channel"`
	Title    string    `json:"title"`
	Body     string    `json:"body"`
	OK       bool      `json:"ok"`
	Attempts int       `json:"attempts"`
	Error    string    `json:"error,omitempty"`
}

// NotificationEvent is published on the event bus for notifier lifecycle events.
type NotificationEvent struct {
	Channel string    `json:"channel"`
	Session string    `json:"session,omitempty"`
	Key     string    `json:"key,omitempty"`
	At      time.Time `json:"at"`
	Error   string    `json:"error,omitempty"`
}
