package notifier

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"msgshell/internal/eventbus"
	rtsup "msgshell/internal/runtime/supervisor"
	"msgshell/internal/storage"
	kit "msgshell/internal/transport"
	logx "msgshell/pkg/logx"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
	ErrNoSinks   = errors.New("notifier has no sinks")
)

const sendTimeout = 10 * time.Second

type job struct {
	n    kit.Notification
	sink kit.Sink
	// dedupKey is computed at enqueue time.
	dedupKey string
}

// Service implements the async pipeline:
// focus gate + dedup + queue + worker pool + rate limit + retry.
//
// It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log   logx.Logger
	sinks []kit.Sink
	bus   eventbus.Bus
	store storage.Store

	cfg     Config
	limiter *rate.Limiter

	focused atomic.Bool

	accepting bool
	sendWG    sync.WaitGroup

	queue    chan job
	sup      *rtsup.Supervisor
	stopDone chan struct{} // non-nil while stopping

	// key -> suppress until
	dmu   sync.Mutex
	dedup map[string]time.Time

	persistCh chan dedupWrite

	hmu     sync.Mutex
	history []HistoryItem
}

type dedupWrite struct {
	key   string
	until time.Time
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus, store storage.Store, sinks ...kit.Sink) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:   log.With(logx.String("comp", "notifier")),
		bus:   bus,
		store: store,
		dedup: map[string]time.Time{},
	}
	s.sinks = compactSinks(sinks)
	s.applyLocked(cfg)
	return s
}

// Supervisor returns the internal supervisor (nil if not started).
func (s *Service) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// SetFocused records whether the shell window currently has focus.
func (s *Service) SetFocused(v bool) { s.focused.Store(v) }

func (s *Service) Focused() bool { return s.focused.Load() }

// SetSinks replaces the delivery sinks. Jobs already queued keep their sink.
func (s *Service) SetSinks(sinks ...kit.Sink) {
	s.mu.Lock()
	s.sinks = compactSinks(sinks)
	s.mu.Unlock()
}

func (s *Service) Sinks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.sinks))
	for _, sk := range s.sinks {
		out = append(out, sk.Name())
	}
	return out
}

// Apply swaps the config. Queue size and worker count take effect on the
// next Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 2
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 5 * time.Second
	}
	if cfg.DedupWindow < 0 {
		cfg.DedupWindow = 0
	}
	if cfg.DedupMaxEntries <= 0 {
		cfg.DedupMaxEntries = 500
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 100
	}

	s.cfg = cfg
	// burst = rate per sec so a short spike is not delayed
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Start launches the worker pool. It is idempotent and a no-op when disabled.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if s.queue != nil || !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}

	s.queue = make(chan job, s.cfg.QueueSize)
	s.accepting = true
	workers := s.cfg.Workers
	if s.cfg.PersistDedup && s.store != nil {
		s.persistCh = make(chan dedupWrite, 256)
	}
	s.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(s.log),
		// delivery is best-effort and must not take down the shell
		rtsup.WithCancelOnError(false),
	)
	sup, q, pch, st := s.sup, s.queue, s.persistCh, s.store
	s.mu.Unlock()

	exitErr := func(c context.Context, what string) error {
		s.mu.Lock()
		stopping := s.stopDone != nil
		s.mu.Unlock()
		if stopping {
			return nil
		}
		if c.Err() != nil {
			return c.Err()
		}
		return fmt.Errorf("notifier %s exited unexpectedly", what)
	}

	if pch != nil {
		sup.GoRestart("dedup.persist", func(c context.Context) error {
			s.persistLoop(c, pch, st)
			return exitErr(c, "persist loop")
		}, rtsup.WithPublishFirstError(true))
	}
	for i := 0; i < workers; i++ {
		sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			s.workerLoop(c, q)
			return exitErr(c, "worker")
		}, rtsup.WithPublishFirstError(true))
	}
	s.log.Debug("notifier started", logx.Int("workers", workers), logx.Int("sinks", len(s.Sinks())))
}

// Stop stops intake and drains the queue best-effort until ctx is done.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	q, pch, sup := s.queue, s.persistCh, s.sup
	if q == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	s.accepting = false
	s.mu.Unlock()

	go func() {
		defer close(done)
		// Wait for in-flight Notify calls, then close so workers drain.
		s.sendWG.Wait()
		if pch != nil {
			close(pch)
		}
		close(q)
		if sup != nil {
			_ = sup.Wait(context.Background())
		}

		s.mu.Lock()
		s.queue = nil
		s.persistCh = nil
		s.stopDone = nil
		s.sup = nil
		s.mu.Unlock()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		if sup != nil {
			sup.Cancel()
		}
	}
}

// Notify fans n out to every sink. It returns nil when n was suppressed by
// the focus gate or dedup; those outcomes are published on the bus.
func (s *Service) Notify(ctx context.Context, n kit.Notification) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return ErrDisabled
	}
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	if len(s.sinks) == 0 {
		s.mu.Unlock()
		return ErrNoSinks
	}
	q := s.queue
	cfg := s.cfg
	sinks := append([]kit.Sink(nil), s.sinks...)
	st, pch := s.store, s.persistCh
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	if cfg.SuppressWhenFocused && s.focused.Load() {
		s.publish(eventbus.TypeNotifierMuted, NotificationEvent{Session: n.Session}, nil)
		s.log.Debug("notification suppressed (window focused)", logx.String("session", n.Session))
		return nil
	}

	var errs []error
	for _, sink := range sinks {
		jn := n
		jn.Channel = sink.Name()
		key := dedupKey(jn)

		if cfg.DedupWindow > 0 && jn.Tag == "" && !s.dedupAllow(ctx, key, cfg, st, pch) {
			s.publish(eventbus.TypeNotifierDedup, NotificationEvent{Channel: jn.Channel, Session: jn.Session, Key: key}, nil)
			continue
		}

		select {
		case q <- job{n: jn, sink: sink, dedupKey: key}:
			s.publish(eventbus.TypeNotifierQueued, NotificationEvent{Channel: jn.Channel, Session: jn.Session, Key: key}, nil)
		default:
			s.publish(eventbus.TypeNotifierDrop, NotificationEvent{Channel: jn.Channel, Session: jn.Session, Key: key}, ErrQueueFull)
			errs = append(errs, fmt.Errorf("%s: %w", jn.Channel, ErrQueueFull))
		}
	}
	return errors.Join(errs...)
}

func (s *Service) Snapshot() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) publish(typ string, ev NotificationEvent, err error) {
	if s.bus == nil {
		return
	}
	now := time.Now()
	ev.At = now
	if err != nil {
		ev.Error = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: now, Data: ev})
}

func (s *Service) record(n kit.Notification, attempts int, took time.Duration, err error) {
	item := HistoryItem{
		At:       time.Now(),
		Channel:  n.Channel,
		Title:    n.Title,
		Body:     n.Body,
		OK:       err == nil,
		Attempts: attempts,
	}
	if err != nil {
		item.Error = err.Error()
	}

	s.mu.Lock()
	max := s.cfg.HistorySize
	st := s.store
	s.mu.Unlock()

	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > max {
		s.history = s.history[len(s.history)-max:]
	}
	s.hmu.Unlock()

	if st == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()
	if err := st.AppendDelivery(ctx, storage.Delivery{
		At:       item.At,
		Session:  n.Session,
		Channel:  n.Channel,
		Title:    n.Title,
		Body:     n.Body,
		Silent:   n.Silent,
		OK:       item.OK,
		Attempts: attempts,
		Error:    item.Error,
		TookMS:   took.Milliseconds(),
	}); err != nil {
		s.log.Debug("delivery log append failed", logx.Err(err))
	}
}

func (s *Service) persistLoop(ctx context.Context, ch <-chan dedupWrite, st storage.Store) {
	for {
		select {
		case <-ctx.Done():
			return
		case w, ok := <-ch:
			if !ok {
				return
			}
			cctx, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
			if err := st.PutDedup(cctx, w.key, w.until); err != nil {
				s.log.Debug("dedup persist failed", logx.Err(err))
			}
			cancel()
		}
	}
}

func (s *Service) workerLoop(ctx context.Context, q <-chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q:
			if !ok {
				return
			}
			s.sendWithRetry(ctx, j)
		}
	}
}

func (s *Service) sendWithRetry(runCtx context.Context, j job) {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	s.mu.Unlock()

	maxAttempts := 1 + cfg.RetryMax
	start := time.Now()

	var (
		lastErr  error
		attempts int
	)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := lim.Wait(runCtx); err != nil {
			return
		}
		attempts = attempt

		callCtx, cancel := context.WithTimeout(runCtx, sendTimeout)
		err := j.sink.Send(callCtx, j.n)
		cancel()
		if err == nil {
			s.record(j.n, attempts, time.Since(start), nil)
			s.publish(eventbus.TypeNotifierSent, NotificationEvent{Channel: j.n.Channel, Session: j.n.Session, Key: j.dedupKey}, nil)
			return
		}
		lastErr = err
		s.log.Debug("notify send failed", logx.String("channel", j.n.Channel), logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", maxAttempts))

		if attempt >= maxAttempts {
			break
		}
		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-t.C:
		case <-runCtx.Done():
			t.Stop()
			return
		}
	}

	s.log.Warn("notification failed", logx.String("channel", j.n.Channel), logx.Int("attempts", attempts), logx.Err(lastErr))
	s.record(j.n, attempts, time.Since(start), lastErr)
	s.publish(eventbus.TypeNotifierFail, NotificationEvent{Channel: j.n.Channel, Session: j.n.Session, Key: j.dedupKey}, lastErr)
}

func dedupKey(n kit.Notification) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(n.Channel))
	_, _ = h.Write([]byte{'|'})
	_, _ = h.Write([]byte(n.Title))
	_, _ = h.Write([]byte{'|'})
	_, _ = h.Write([]byte(n.Body))
	if n.Tag != "" {
		_, _ = h.Write([]byte{'|'})
		_, _ = h.Write([]byte(n.Tag))
	}
	return fmt.Sprintf("%x", h.Sum64())
}

func (s *Service) dedupAllow(ctx context.Context, key string, cfg Config, st storage.Store, pch chan dedupWrite) bool {
	now := time.Now()

	s.dmu.Lock()
	if until, ok := s.dedup[key]; ok && now.Before(until) {
		s.dmu.Unlock()
		return false
	}
	s.dmu.Unlock()

	// Persistent check for cross-restart dedup.
	if cfg.PersistDedup && st != nil {
		cctx, cancel := context.WithTimeout(ctx, 25*time.Millisecond)
		until, ok, err := st.GetDedup(cctx, key)
		cancel()
		if err == nil && ok && now.Before(until) {
			s.dmu.Lock()
			s.dedup[key] = until
			s.dmu.Unlock()
			return false
		}
	}

	until := now.Add(cfg.DedupWindow)
	s.dmu.Lock()
	s.dedup[key] = until
	for k, u := range s.dedup {
		if !now.Before(u) {
			delete(s.dedup, k)
		}
	}
	// Over cap: evict earliest expiry first.
	for len(s.dedup) > cfg.DedupMaxEntries {
		var (
			minKey string
			minT   time.Time
		)
		for k, u := range s.dedup {
			if minKey == "" || u.Before(minT) {
				minKey, minT = k, u
			}
		}
		delete(s.dedup, minKey)
	}
	s.dmu.Unlock()

	if pch != nil {
		select {
		case pch <- dedupWrite{key: key, until: until}:
		default:
		}
	}
	return true
}

// retryDelay is the wait before attempt+1: exponential from RetryBase,
// capped at RetryMaxDelay, with 0.7..1.3 jitter.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt && d < cfg.RetryMaxDelay; i++ {
		d *= 2
	}
	if d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	if d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	return d
}

func compactSinks(in []kit.Sink) []kit.Sink {
	out := make([]kit.Sink, 0, len(in))
	for _, sk := range in {
		if sk != nil {
			out = append(out, sk)
		}
	}
	return out
}
