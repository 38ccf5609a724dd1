// Package memory is an in-process store.Store used for development mode and
// tests. A single mutex makes every method one atomic unit.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/rahul3988/game-sub000/internal/game"
	"github.com/rahul3988/game-sub000/internal/store"
	"github.com/rahul3988/game-sub000/pkg/common/enum"
	"github.com/rahul3988/game-sub000/pkg/model"
)

type Store struct {
	mu        sync.Mutex
	rounds    map[string]*model.Round
	seeds     map[string]*model.RoundSeed
	bets      map[string]*model.Bet
	roundBets map[string][]string
	accounts  map[string]*model.Account
	ledger    []*model.LedgerEntry
	refs      map[string]struct{}
	faults    map[string]error
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		rounds:    make(map[string]*model.Round),
		seeds:     make(map[string]*model.RoundSeed),
		bets:      make(map[string]*model.Bet),
		roundBets: make(map[string][]string),
		accounts:  make(map[string]*model.Account),
		refs:      make(map[string]struct{}),
		faults:    make(map[string]error),
	}
}

// FailNext makes the next call to the named method return err wrapped as a
// persistence error.
func (s *Store) FailNext(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[method] = err
}

func (s *Store) fault(method string) error {
	err, ok := s.faults[method]
	if !ok {
		return nil
	}
	delete(s.faults, method)
	return fmt.Errorf("%w: %s: %w", game.ErrPersistence, method, err)
}

func (s *Store) Close() error { return nil }

func (s *Store) Ping(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fault("Ping")
}

// Ledger returns a copy of every ledger entry in insertion order.
func (s *Store) Ledger() []model.LedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return lo.Map(s.ledger, func(e *model.LedgerEntry, _ int) model.LedgerEntry { return *e })
}

func (s *Store) NextRoundNumber(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("NextRoundNumber"); err != nil {
		return 0, err
	}
	var highest int64
	for _, r := range s.rounds {
		highest = max(highest, r.Number)
	}
	return highest + 1, nil
}

func (s *Store) CreateRound(_ context.Context, round *model.Round, seed *model.RoundSeed) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("CreateRound"); err != nil {
		return err
	}
	for _, r := range s.rounds {
		if r.Number == round.Number {
			return fmt.Errorf("%w: round number %d already exists", game.ErrPersistence, round.Number)
		}
	}
	if round.ID == "" {
		round.ID = uuid.NewString()
	}
	round.CreatedAt = round.BettingStart
	round.UpdatedAt = round.BettingStart

	r := *round
	s.rounds[r.ID] = &r
	if seed != nil {
		sd := *seed
		sd.RoundID = r.ID
		sd.CreatedAt = round.BettingStart
		s.seeds[r.ID] = &sd
	}
	return nil
}

func (s *Store) GetRound(_ context.Context, id string) (*model.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("GetRound"); err != nil {
		return nil, err
	}
	r, ok := s.rounds[id]
	if !ok {
		return nil, game.ErrRoundNotFound
	}
	out := *r
	return &out, nil
}

func (s *Store) LatestRound(_ context.Context) (*model.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.rounds) == 0 {
		return nil, game.ErrRoundNotFound
	}
	latest := lo.MaxBy(lo.Values(s.rounds), func(a, b *model.Round) bool { return a.Number > b.Number })
	out := *latest
	return &out, nil
}

func (s *Store) ListRounds(_ context.Context, filter store.RoundFilter) ([]*model.Round, error) {
	filter = filter.Normalize()
	s.mu.Lock()
	defer s.mu.Unlock()

	rounds := lo.Filter(lo.Values(s.rounds), func(r *model.Round, _ int) bool {
		return len(filter.Phases) == 0 || slices.Contains(filter.Phases, r.Phase)
	})
	sort.Slice(rounds, func(i, j int) bool { return rounds[i].Number > rounds[j].Number })

	if filter.Offset >= len(rounds) {
		return []*model.Round{}, nil
	}
	rounds = rounds[filter.Offset:min(len(rounds), filter.Offset+filter.Limit)]
	return lo.Map(rounds, func(r *model.Round, _ int) *model.Round { c := *r; return &c }), nil
}

func (s *Store) ListUnfinishedRounds(_ context.Context) ([]*model.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("ListUnfinishedRounds"); err != nil {
		return nil, err
	}
	rounds := lo.Filter(lo.Values(s.rounds), func(r *model.Round, _ int) bool { return !r.Phase.IsTerminal() })
	sort.Slice(rounds, func(i, j int) bool { return rounds[i].Number < rounds[j].Number })
	return lo.Map(rounds, func(r *model.Round, _ int) *model.Round { c := *r; return &c }), nil
}

func (s *Store) ListStrandedRounds(_ context.Context) ([]*model.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("ListStrandedRounds"); err != nil {
		return nil, err
	}
	rounds := lo.Filter(lo.Values(s.rounds), func(r *model.Round, _ int) bool {
		return r.Phase == enum.PhaseCancelled && lo.SomeBy(s.roundBets[r.ID], func(id string) bool { return s.bets[id].IsPending() })
	})
	sort.Slice(rounds, func(i, j int) bool { return rounds[i].Number < rounds[j].Number })
	return lo.Map(rounds, func(r *model.Round, _ int) *model.Round { c := *r; return &c }), nil
}

// transition applies mutate to round id when its phase is one of from.
func (s *Store) transition(method, id string, from []enum.Phase, mutate func(r *model.Round) error) (*model.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault(method); err != nil {
		return nil, err
	}
	r, ok := s.rounds[id]
	if !ok {
		return nil, game.ErrRoundNotFound
	}
	if !slices.Contains(from, r.Phase) {
		return nil, fmt.Errorf("%w: round %d is %s", game.ErrPhaseViolation, r.Number, r.Phase)
	}
	if err := mutate(r); err != nil {
		return nil, err
	}
	out := *r
	return &out, nil
}

func (s *Store) CloseBetting(_ context.Context, id string, at time.Time) (*model.Round, error) {
	return s.transition("CloseBetting", id, []enum.Phase{enum.PhaseBetting}, func(r *model.Round) error {
		r.Phase = enum.PhaseBettingClosed
		r.BettingEnd = at
		r.UpdatedAt = at
		return nil
	})
}

func (s *Store) StartSpinning(_ context.Context, id string, at time.Time) (*model.Round, error) {
	return s.transition("StartSpinning", id, []enum.Phase{enum.PhaseBettingClosed}, func(r *model.Round) error {
		r.Phase = enum.PhaseSpinning
		r.SpinStart = &at
		r.UpdatedAt = at
		return nil
	})
}

func (s *Store) FinalizeRound(_ context.Context, id string, res store.RoundResult) (*model.Round, error) {
	return s.transition("FinalizeRound", id, enum.NonTerminalPhases, func(r *model.Round) error {
		if r.WinningDigit != nil {
			return fmt.Errorf("%w: round %d already has a winning digit", game.ErrPhaseViolation, r.Number)
		}
		digit := res.WinningDigit
		color, parity := res.WinningColor, res.WinningParity
		resultTime := res.ResultTime
		r.Phase = enum.PhaseCompleted
		r.WinningDigit = &digit
		r.WinningColor = &color
		r.WinningParity = &parity
		r.DigitTotals = slices.Clone(res.DigitTotals)
		r.TotalWagered = res.TotalWagered
		r.TotalPaid = res.TotalPaid
		r.HouseProfitLoss = res.HouseProfitLoss
		r.ResultTime = &resultTime
		r.UpdatedAt = resultTime
		return nil
	})
}

func (s *Store) CancelRound(_ context.Context, id string, reason string, at time.Time) (*model.Round, error) {
	return s.transition("CancelRound", id, enum.NonTerminalPhases, func(r *model.Round) error {
		r.Phase = enum.PhaseCancelled
		r.CancelReason = reason
		r.ResultTime = &at
		r.UpdatedAt = at
		return nil
	})
}

func (s *Store) GetSeed(_ context.Context, roundID string) (*model.RoundSeed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seed, ok := s.seeds[roundID]
	if !ok {
		return nil, store.ErrSeedNotFound
	}
	out := *seed
	return &out, nil
}

func (s *Store) RevealSeed(_ context.Context, roundID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("RevealSeed"); err != nil {
		return err
	}
	seed, ok := s.seeds[roundID]
	if !ok {
		return store.ErrSeedNotFound
	}
	if seed.RevealedAt == nil {
		seed.RevealedAt = &at
	}
	return nil
}
