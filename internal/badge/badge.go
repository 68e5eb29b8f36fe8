// Package badge mirrors the unread count onto the dock or launcher icon.
package badge

import (
	"context"
	"sync"

	logx "msgshell/pkg/logx"
)

// Setter applies a count to the platform badge. Zero clears it.
type Setter interface {
	Set(count int) error
	Close() error
}

type nopSetter struct{}

func (nopSetter) Set(int) error { return nil }
func (nopSetter) Close() error  { return nil }

// Nop returns a Setter that does nothing.
func Nop() Setter { return nopSetter{} }

// Service decouples the tracker from the platform call. SetBadge never
// blocks; Run applies the latest value and skips repeats.
type Service struct {
	log    logx.Logger
	setter Setter

	mu         sync.Mutex
	latest     int
	applied    int
	hasApplied bool
	wake       chan struct{}
}

func NewService(setter Setter, log logx.Logger) *Service {
	if setter == nil {
		setter = Nop()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:    log.With(logx.String("comp", "badge")),
		setter: setter,
		wake:   make(chan struct{}, 1),
	}
}

// SetBadge records count and wakes Run.
func (s *Service) SetBadge(count int) {
	if count < 0 {
		count = 0
	}
	s.mu.Lock()
	s.latest = count
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Current returns the last requested count.
func (s *Service) Current() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest
}

// Run applies badge updates until ctx is done, then clears the badge.
func (s *Service) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			if err := s.setter.Set(0); err != nil {
				s.log.Debug("badge clear failed", logx.Err(err))
			}
			return nil
		case <-s.wake:
			s.flush()
		}
	}
}

func (s *Service) flush() {
	s.mu.Lock()
	want := s.latest
	skip := s.hasApplied && want == s.applied
	s.mu.Unlock()
	if skip {
		return
	}
	if err := s.setter.Set(want); err != nil {
		// Badge is cosmetic; keep running.
		s.log.Warn("badge update failed", logx.Int("count", want), logx.Err(err))
		return
	}
	s.mu.Lock()
	s.applied, s.hasApplied = want, true
	s.mu.Unlock()
	s.log.Debug("badge updated", logx.Int("count", want))
}

func (s *Service) Close() error { return s.setter.Close() }
