package app

import (
	"context"
	"time"

	"msgshell/internal/notifier"
	rtsup "msgshell/internal/runtime/supervisor"
	"msgshell/internal/storage"
	"msgshell/internal/unread"
)

const reportDeliveries = 20

// Report is the /status document.
type Report struct {
	Version   string    `json:"version"`
	StartedAt time.Time `json:"started_at"`
	Uptime    string    `json:"uptime"`

	Focused bool          `json:"focused"`
	Badge   int           `json:"badge"`
	Session *unread.State `json:"session,omitempty"`

	Notifier   NotifierReport     `json:"notifier"`
	Deliveries []storage.Delivery `json:"deliveries,omitempty"`
	Reminder   ReminderReport     `json:"reminder"`

	Supervisors map[string]rtsup.Snapshot `json:"supervisors"`
}

type NotifierReport struct {
	Enabled bool                   `json:"enabled"`
	Sinks   []string               `json:"sinks"`
	History []notifier.HistoryItem `json:"history"`
}

type ReminderReport struct {
	Next time.Time `json:"next,omitempty"`
	Sent int       `json:"sent"`
}

// Report collects a status snapshot. It is safe to call concurrently.
func (a *App) Report(ctx context.Context) any {
	r := Report{
		Version:     Version,
		StartedAt:   a.started,
		Badge:       a.badge.Current(),
		Supervisors: map[string]rtsup.Snapshot{},
		Notifier: NotifierReport{
			Enabled: a.notif.Enabled(),
			Sinks:   a.notif.Sinks(),
			History: a.notif.Snapshot(),
		},
	}
	if !a.started.IsZero() {
		r.Uptime = time.Since(a.started).Round(time.Second).String()
	}
	if a.host != nil {
		r.Focused = a.host.Focused()
		if st, ok := a.host.Snapshot(); ok {
			r.Session = &st
		}
	}
	if a.remind != nil {
		r.Reminder = ReminderReport{Next: a.remind.Next(), Sent: a.remind.Sent()}
	}
	if a.store != nil {
		if ds, err := a.store.RecentDeliveries(ctx, reportDeliveries); err == nil {
			r.Deliveries = ds
		}
	}
	for name, sup := range map[string]*rtsup.Supervisor{
		"app":      a.sup,
		"notifier": a.notif.Supervisor(),
		"status":   a.status.Supervisor(),
	} {
		if sup != nil {
			r.Supervisors[name] = sup.Snapshot()
		}
	}
	return r
}
