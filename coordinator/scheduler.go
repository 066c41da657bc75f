package coordinator

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/unkn0wn-root/fieldsync"
)

const (
	DefaultMaxAttempts     = 3
	defaultInitialInterval = 5 * time.Second
	defaultMaxInterval     = 5 * time.Minute
)

// Syncer runs one sync session. *Coordinator implements it.
type Syncer interface {
	Sync(ctx context.Context, tag string) error
}

type SyncerFunc func(ctx context.Context, tag string) error

func (f SyncerFunc) Sync(ctx context.Context, tag string) error { return f(ctx, tag) }

type SchedulerOptions struct {
	Syncer      Syncer // required
	MaxAttempts int    // 0 => 3; the tag is dropped after the last failed attempt

	InitialInterval time.Duration // 0 => 5s
	MaxInterval     time.Duration // 0 => 5m

	Logger fieldsync.Logger
	Now    func() time.Time
}

// Signal is a registered deferred-retry signal.
type Signal struct {
	Tag      string
	Attempts int
	Due      time.Time
}

type signal struct {
	Signal
	bo       *backoff.ExponentialBackOff
	inflight bool
	again    bool // registered again while in flight
}

// Scheduler holds deferred-retry signals and fires them through a Syncer. A
// rejected run is retried later with exponential backoff.
type Scheduler struct {
	syncer  Syncer
	max     int
	initial time.Duration
	maxIv   time.Duration
	log     fieldsync.Logger
	now     func() time.Time

	mu   sync.Mutex
	tags map[string]*signal
	wake chan struct{}
}

var ErrNilSyncer = errors.New("coordinator: syncer is required")

func NewScheduler(opts SchedulerOptions) (*Scheduler, error) {
	if opts.Syncer == nil {
		return nil, ErrNilSyncer
	}
	s := &Scheduler{
		syncer:  opts.Syncer,
		max:     fieldsync.Coalesce(opts.MaxAttempts, DefaultMaxAttempts),
		initial: fieldsync.Coalesce(opts.InitialInterval, defaultInitialInterval),
		maxIv:   fieldsync.Coalesce(opts.MaxInterval, defaultMaxInterval),
		log:     fieldsync.Coalesce[fieldsync.Logger](opts.Logger, fieldsync.NopLogger{}),
		now:     opts.Now,
		tags:    make(map[string]*signal),
		wake:    make(chan struct{}, 1),
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// Register records a signal for tag, due now. A tag already pending is not
// duplicated.
func (s *Scheduler) Register(tag string) {
	s.mu.Lock()
	if sig, ok := s.tags[tag]; ok {
		if sig.inflight {
			sig.again = true
		}
		s.mu.Unlock()
		return
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.initial
	bo.MaxInterval = s.maxIv
	bo.Reset()
	s.tags[tag] = &signal{Signal: Signal{Tag: tag, Due: s.now()}, bo: bo}
	s.mu.Unlock()

	s.log.Debug("sync registered", fieldsync.Fields{"tag": tag})
	s.poke()
}

// Online makes every pending signal due now.
func (s *Scheduler) Online() {
	now := s.now()
	s.mu.Lock()
	for _, sig := range s.tags {
		sig.Due = now
	}
	s.mu.Unlock()
	s.poke()
}

// Pending returns the registered signals ordered by due time.
func (s *Scheduler) Pending() []Signal {
	s.mu.Lock()
	out := make([]Signal, 0, len(s.tags))
	for _, sig := range s.tags {
		out = append(out, sig.Signal)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Due.Equal(out[j].Due) {
			return out[i].Tag < out[j].Tag
		}
		return out[i].Due.Before(out[j].Due)
	})
	return out
}

func (s *Scheduler) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run fires due signals until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	for {
		s.RunOnce(ctx)

		wait := time.Hour
		if next, ok := s.nextDue(); ok {
			wait = max(next.Sub(s.now()), 0)
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.wake:
		case <-timer.C:
		}
	}
}

// RunOnce fires every signal due now, one at a time, and returns how many ran.
func (s *Scheduler) RunOnce(ctx context.Context) int {
	n := 0
	for _, tag := range s.due() {
		if ctx.Err() != nil {
			break
		}
		s.fire(ctx, tag)
		n++
	}
	return n
}

func (s *Scheduler) due() []string {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for tag, sig := range s.tags {
		if !sig.inflight && !sig.Due.After(now) {
			sig.inflight = true
			out = append(out, tag)
		}
	}
	sort.Strings(out)
	return out
}

func (s *Scheduler) nextDue() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var (
		next  time.Time
		found bool
	)
	for _, sig := range s.tags {
		if sig.inflight {
			continue
		}
		if !found || sig.Due.Before(next) {
			next, found = sig.Due, true
		}
	}
	return next, found
}

func (s *Scheduler) fire(ctx context.Context, tag string) {
	err := s.syncer.Sync(ctx, tag)

	s.mu.Lock()
	defer s.mu.Unlock()
	sig, ok := s.tags[tag]
	if !ok {
		return
	}
	sig.inflight = false

	switch {
	case err == nil:
		if sig.again {
			sig.again = false
			sig.Attempts = 0
			sig.bo.Reset()
			sig.Due = s.now()
			return
		}
		delete(s.tags, tag)
	case ctx.Err() != nil:
		// shutting down; keep the signal as it was
	default:
		sig.again = false
		sig.Attempts++
		if sig.Attempts >= s.max {
			delete(s.tags, tag)
			s.log.Error("sync dropped after last attempt", fieldsync.Fields{"tag": tag, "attempts": sig.Attempts, "err": err})
			return
		}
		delay := sig.bo.NextBackOff()
		sig.Due = s.now().Add(delay)
		s.log.Info("sync rescheduled", fieldsync.Fields{"tag": tag, "attempts": sig.Attempts, "in": delay.String()})
	}
}
