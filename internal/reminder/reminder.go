// Package reminder repeats a quiet unread reminder on a cron schedule while
// the shell window is in the background.
package reminder

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	kit "msgshell/internal/transport"
	logx "msgshell/pkg/logx"
)

// Source reports the live unread backlog and focus state.
type Source interface {
	Backlog() int
	Focused() bool
}

type Notifier interface {
	Notify(ctx context.Context, n kit.Notification) error
}

type Config struct {
	Enabled  bool
	Schedule string // 5-field cron or descriptor ("@every 30m", "@hourly")
	Timezone string // IANA name; empty means local
	Title    string
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate checks the schedule and timezone without starting anything.
func Validate(cfg Config) error {
	if !cfg.Enabled {
		return nil
	}
	if _, err := parser.Parse(strings.TrimSpace(cfg.Schedule)); err != nil {
		return fmt.Errorf("reminder.schedule: %w", err)
	}
	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("reminder.timezone: %w", err)
		}
	}
	return nil
}

// Body returns the reminder text for n unread messages.
func Body(n int) string {
	if n == 1 {
		return "You still have 1 unread message"
	}
	return fmt.Sprintf("You still have %d unread messages", n)
}

type Service struct {
	log      logx.Logger
	src      Source
	notifier Notifier

	mu    sync.Mutex
	cfg   Config
	ctx   context.Context
	c     *cron.Cron
	entry cron.EntryID
	sent  int
}

func New(cfg Config, src Source, notifier Notifier, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:      log.With(logx.String("comp", "reminder")),
		src:      src,
		notifier: notifier,
		cfg:      cfg,
	}
}

// Start registers the schedule. Disabled configs start nothing.
func (s *Service) Start(ctx context.Context) error {
	if err := Validate(s.config()); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	s.ctx = ctx
	return s.startLocked()
}

func (s *Service) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

func (s *Service) startLocked() error {
	if !s.cfg.Enabled {
		s.log.Debug("reminder disabled")
		return nil
	}
	loc := time.Local
	if tz := strings.TrimSpace(s.cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return fmt.Errorf("reminder.timezone: %w", err)
		}
		loc = l
	}
	c := cron.New(cron.WithParser(parser), cron.WithLocation(loc), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	id, err := c.AddFunc(strings.TrimSpace(s.cfg.Schedule), func() { s.Remind(s.runCtx()) })
	if err != nil {
		return fmt.Errorf("reminder.schedule: %w", err)
	}
	s.c, s.entry = c, id
	c.Start()
	s.log.Info("reminder scheduled", logx.String("schedule", s.cfg.Schedule), logx.String("tz", loc.String()), logx.Time("next", c.Entry(id).Next))
	return nil
}

func (s *Service) runCtx() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		return context.Background()
	}
	return s.ctx
}

// Stop halts the schedule and waits for a running reminder until ctx is done.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}

// Apply validates cfg and restarts the schedule if the service was started.
func (s *Service) Apply(cfg Config) error {
	if err := Validate(cfg); err != nil {
		return err
	}
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.cfg = cfg
	s.mu.Unlock()

	// A running reminder takes s.mu, so wait outside the lock.
	if c != nil {
		<-c.Stop().Done()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil || s.c != nil {
		return nil
	}
	return s.startLocked()
}

// Next returns the next scheduled run (zero when not scheduled).
func (s *Service) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return time.Time{}
	}
	return s.c.Entry(s.entry).Next
}

// Sent counts reminders handed to the notifier.
func (s *Service) Sent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent
}

// Remind sends one reminder if there is a backlog and the window is not
// focused. It reports whether a reminder was requested.
func (s *Service) Remind(ctx context.Context) bool {
	if s.src == nil || s.notifier == nil {
		return false
	}
	if s.src.Focused() {
		return false
	}
	n := s.src.Backlog()
	if n <= 0 {
		return false
	}
	title := strings.TrimSpace(s.config().Title)
	if title == "" {
		title = "Unread messages"
	}
	err := s.notifier.Notify(ctx, kit.Notification{Priority: 1, Title: title, Body: Body(n), Silent: true})
	if err != nil {
		s.log.Warn("reminder not queued", logx.Int("backlog", n), logx.Err(err))
		return false
	}
	s.mu.Lock()
	s.sent++
	s.mu.Unlock()
	s.log.Debug("reminder requested", logx.Int("backlog", n))
	return true
}
