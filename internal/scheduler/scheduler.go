// Package scheduler drives rounds through their phases. A single loop sleeps
// until the earliest deadline in a timer registry keyed by (phase, round),
// fires what is due and repeats; handlers never run concurrently.
package scheduler

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/rahul3988/game-sub000/internal/cache"
	"github.com/rahul3988/game-sub000/internal/configstore"
	"github.com/rahul3988/game-sub000/internal/events"
	"github.com/rahul3988/game-sub000/internal/fairness"
	"github.com/rahul3988/game-sub000/internal/store"
	"github.com/rahul3988/game-sub000/pkg/common/constant"
	"github.com/rahul3988/game-sub000/pkg/common/enum"
	"github.com/rahul3988/game-sub000/pkg/model"
)

type Settler interface {
	Settle(ctx context.Context, roundID string) (*model.Round, error)
}

type SettingsSource interface {
	Current() configstore.Settings
}

type SeedSource interface {
	NewSeedPair() (fairness.SeedPair, error)
}

type Options struct {
	Store    store.Store
	Cache    cache.Cache
	Bus      *events.Bus
	Clock    clockwork.Clock
	Settler  Settler
	Settings SettingsSource
	Seeds    SeedSource
	Logger   *slog.Logger

	CloseDelay       time.Duration
	RecoveryInterval time.Duration
}

type timerKind int

const (
	kindPhase timerKind = iota
	kindTick
	kindRecovery
)

func (k timerKind) String() string {
	switch k {
	case kindPhase:
		return "phase"
	case kindTick:
		return "tick"
	default:
		return "recovery"
	}
}

// timerKey identifies one pending timer. A phase timer keyed by a phase
// fires when that phase ends.
type timerKey struct {
	Phase   enum.Phase
	RoundID string
	Kind    timerKind
}

type timer struct {
	key      timerKey
	deadline time.Time
	seq      uint64
	fire     func(ctx context.Context, due time.Time)
}

type TimerInfo struct {
	Kind     string     `json:"kind"`
	Phase    enum.Phase `json:"phase,omitempty"`
	RoundID  string     `json:"round_id,omitempty"`
	Deadline time.Time  `json:"deadline"`
}

type Status struct {
	Running bool        `json:"running"`
	Timers  []TimerInfo `json:"timers"`
}

type Scheduler struct {
	store    store.Store
	cache    cache.Cache
	bus      *events.Bus
	clock    clockwork.Clock
	settler  Settler
	settings SettingsSource
	seeds    SeedSource
	log      *slog.Logger

	closeDelay       time.Duration
	recoveryInterval time.Duration

	// turn is held while a handler, Start or EmergencyStop runs.
	turn sync.Mutex

	mu      sync.Mutex
	timers  map[timerKey]*timer
	seq     uint64
	running bool
	wake    chan struct{}
}

func New(opts Options) *Scheduler {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.CloseDelay <= 0 {
		opts.CloseDelay = constant.DefaultCloseDelay
	}
	if opts.RecoveryInterval <= 0 {
		opts.RecoveryInterval = constant.DefaultRecoveryInterval
	}
	return &Scheduler{
		store:            opts.Store,
		cache:            opts.Cache,
		bus:              opts.Bus,
		clock:            opts.Clock,
		settler:          opts.Settler,
		settings:         opts.Settings,
		seeds:            opts.Seeds,
		log:              opts.Logger,
		closeDelay:       opts.CloseDelay,
		recoveryInterval: opts.RecoveryInterval,
		timers:           make(map[timerKey]*timer),
		wake:             make(chan struct{}, 1),
	}
}

// Start recovers unfinished rounds and opens the first round. Calling it
// while running only logs a warning.
func (s *Scheduler) Start(ctx context.Context) {
	s.turn.Lock()
	defer s.turn.Unlock()

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.log.Warn("Scheduler already running")
		return
	}
	s.running = true
	s.mu.Unlock()

	s.log.Info("Scheduler started")
	s.recoverAndOpen(ctx)
}

// Stop cancels every pending timer and halts new-round creation. A round in
// flight stays where it is until the next Start recovers it.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		s.log.Warn("Scheduler already stopped")
		return
	}
	s.running = false
	cleared := len(s.timers)
	clear(s.timers)
	s.mu.Unlock()

	s.signal()
	s.log.Info("Scheduler stopped", "cleared_timers", cleared)
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{Running: s.running, Timers: make([]TimerInfo, 0, len(s.timers))}
	for _, t := range s.sortedLocked() {
		st.Timers = append(st.Timers, TimerInfo{
			Kind:     t.key.Kind.String(),
			Phase:    t.key.Phase,
			RoundID:  t.key.RoundID,
			Deadline: t.deadline,
		})
	}
	return st
}

// Run is the scheduling loop. It blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		s.RunDue(ctx)

		var wait <-chan time.Time
		if next, ok := s.nextDeadline(); ok {
			wait = s.clock.After(next.Sub(s.clock.Now()))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.wake:
		case <-wait:
		}
	}
}

// RunDue fires every timer whose deadline has passed, earliest first,
// including timers armed by the handlers it runs. It returns how many fired.
func (s *Scheduler) RunDue(ctx context.Context) int {
	fired := 0
	for {
		s.turn.Lock()
		t := s.popDue(s.clock.Now())
		if t == nil {
			s.turn.Unlock()
			return fired
		}
		t.fire(ctx, t.deadline)
		s.turn.Unlock()
		fired++
	}
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// arm registers or replaces the timer for key. Nothing is armed while the
// scheduler is stopped.
func (s *Scheduler) arm(key timerKey, at time.Time, fire func(ctx context.Context, due time.Time)) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.seq++
	s.timers[key] = &timer{key: key, deadline: at, seq: s.seq, fire: fire}
	s.mu.Unlock()
	s.signal()
}

func (s *Scheduler) cancel(key timerKey) {
	s.mu.Lock()
	delete(s.timers, key)
	s.mu.Unlock()
}

// cancelRound drops every timer that belongs to roundID.
func (s *Scheduler) cancelRound(roundID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.timers {
		if k.RoundID == roundID {
			delete(s.timers, k)
		}
	}
}

func (s *Scheduler) hasRoundTimers() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.timers {
		if k.Kind == kindPhase {
			return true
		}
	}
	return false
}

func (s *Scheduler) armed(key timerKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[key]
	return ok
}

func (s *Scheduler) sortedLocked() []*timer {
	out := make([]*timer, 0, len(s.timers))
	for _, t := range s.timers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.deadline.Equal(b.deadline) {
			return a.deadline.Before(b.deadline)
		}
		if a.key.Kind != b.key.Kind {
			return a.key.Kind < b.key.Kind
		}
		return a.seq < b.seq
	})
	return out
}

func (s *Scheduler) popDue(now time.Time) *timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.timers) == 0 {
		return nil
	}
	first := s.sortedLocked()[0]
	if first.deadline.After(now) {
		return nil
	}
	delete(s.timers, first.key)
	return first
}

func (s *Scheduler) nextDeadline() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var next time.Time
	for _, t := range s.timers {
		if next.IsZero() || t.deadline.Before(next) {
			next = t.deadline
		}
	}
	return next, !next.IsZero()
}
