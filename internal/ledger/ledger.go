// Package ledger validates and records wagers on the open round and keeps
// its live distribution current.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"

	"github.com/rahul3988/game-sub000/internal/cache"
	"github.com/rahul3988/game-sub000/internal/events"
	"github.com/rahul3988/game-sub000/internal/game"
	"github.com/rahul3988/game-sub000/internal/store"
	"github.com/rahul3988/game-sub000/pkg/common/enum"
	"github.com/rahul3988/game-sub000/pkg/model"
	"github.com/rahul3988/game-sub000/pkg/ratelimiter"
)

type PlaceBetRequest struct {
	UserID  string
	RoundID string
	Kind    enum.BetKind
	Value   string
	Amount  decimal.Decimal
}

type Options struct {
	Store   store.Store
	Cache   cache.Cache
	Bus     *events.Bus
	Clock   clockwork.Clock
	Limiter *ratelimiter.KeyedLimiter

	// CloseDelay feeds the distribution cache TTL.
	CloseDelay time.Duration
	Logger     *slog.Logger
}

type BetLedger struct {
	store      store.Store
	cache      cache.Cache
	bus        *events.Bus
	clock      clockwork.Clock
	limiter    *ratelimiter.KeyedLimiter
	closeDelay time.Duration
	log        *slog.Logger

	// refreshMu orders distribution recomputes so the last publish reflects
	// the latest placement.
	refreshMu sync.Mutex
}

func New(opts Options) *BetLedger {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Limiter == nil {
		opts.Limiter = ratelimiter.NewKeyedLimiter(0, 0)
	}
	return &BetLedger{
		store:      opts.Store,
		cache:      opts.Cache,
		bus:        opts.Bus,
		clock:      opts.Clock,
		limiter:    opts.Limiter,
		closeDelay: opts.CloseDelay,
		log:        opts.Logger,
	}
}

// PlaceBet validates req against the round's snapshot and records the bet.
// The store re-checks the round is open inside the debit transaction.
func (l *BetLedger) PlaceBet(ctx context.Context, req PlaceBetRequest) (*model.Bet, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return nil, fmt.Errorf("%w: user id is required", game.ErrInvalidBetValue)
	}
	if !l.limiter.Allow(req.UserID) {
		return nil, game.ErrRateLimited
	}

	value, err := game.NormalizeBet(req.Kind, req.Value)
	if err != nil {
		return nil, err
	}

	round, err := l.store.GetRound(ctx, req.RoundID)
	if err != nil {
		return nil, err
	}
	now := l.clock.Now()
	if round.Phase != enum.PhaseBetting || now.After(round.BettingEnd) {
		return nil, fmt.Errorf("%w: round %d is %s", game.ErrBettingClosed, round.Number, round.Phase)
	}
	if err := game.CheckAmount(req.Amount, round.MinBet, round.MaxBet); err != nil {
		return nil, err
	}

	bet := &model.Bet{
		BaseModel:       model.BaseModel{ID: uuid.NewString()},
		UserID:          req.UserID,
		RoundID:         round.ID,
		Kind:            req.Kind,
		Value:           value,
		Amount:          req.Amount,
		PotentialPayout: game.PotentialPayout(req.Amount, round.PayoutMultiplier),
		ActualPayout:    decimal.Zero,
		Outcome:         enum.OutcomePending,
	}

	if round.MaxExposure.IsPositive() {
		pending, err := l.store.PendingBets(ctx, round.ID)
		if err != nil {
			return nil, err
		}
		if exposure := game.WorstCaseExposure(append(pending, bet)); exposure.GreaterThan(round.MaxExposure) {
			return nil, fmt.Errorf("%w: worst case %s exceeds %s", game.ErrExposureLimit, exposure, round.MaxExposure)
		}
	}

	if err := l.store.PlaceBet(ctx, bet, now); err != nil {
		if errors.Is(err, game.ErrPersistence) {
			l.log.Error("Persist bet failed", "round", round.Number, "user", req.UserID, "err", err)
		}
		return nil, err
	}

	l.log.Debug("Bet placed",
		"round", round.Number,
		"user", bet.UserID,
		"kind", bet.Kind,
		"value", bet.Value,
		"amount", bet.Amount,
	)
	l.refresh(ctx, round)
	return bet, nil
}

// refresh recomputes the distribution from the store, caches and publishes
// it. Failures only cost freshness.
func (l *BetLedger) refresh(ctx context.Context, round *model.Round) {
	l.refreshMu.Lock()
	defer l.refreshMu.Unlock()

	pending, err := l.store.PendingBets(ctx, round.ID)
	if err != nil {
		l.log.Warn("Recompute distribution failed", "round", round.Number, "err", err)
		return
	}
	dist := game.BuildDistribution(round.ID, pending)

	if err := l.cache.SetDistribution(ctx, dist, cache.TTL(round, l.closeDelay)); err != nil {
		l.log.Warn("Cache distribution failed", "round", round.Number, "err", err)
	}
	l.bus.PublishDistributionUpdated(events.DistributionUpdated{Distribution: dist})
}

// GetDistribution aggregates the PENDING bets of roundID.
func (l *BetLedger) GetDistribution(ctx context.Context, roundID string) (game.Distribution, error) {
	if dist, err := l.cache.Distribution(ctx, roundID); err == nil {
		return dist, nil
	} else if !errors.Is(err, cache.ErrMiss) {
		l.log.Warn("Read cached distribution failed", "round", roundID, "err", err)
	}

	round, err := l.store.GetRound(ctx, roundID)
	if err != nil {
		return game.Distribution{}, err
	}
	pending, err := l.store.PendingBets(ctx, round.ID)
	if err != nil {
		return game.Distribution{}, err
	}
	dist := game.BuildDistribution(round.ID, pending)

	if !round.Phase.IsTerminal() {
		if err := l.cache.SetDistribution(ctx, dist, cache.TTL(round, l.closeDelay)); err != nil {
			l.log.Warn("Cache distribution failed", "round", round.Number, "err", err)
		}
	}
	return dist, nil
}

// Deposit credits a player's withdrawable balance, creating the account on
// first use. An empty reference gets a generated one.
func (l *BetLedger) Deposit(ctx context.Context, userID string, amount decimal.Decimal, reference string) (*model.Account, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", game.ErrInvalidBetValue)
	}
	if !amount.IsPositive() || !amount.Equal(amount.Round(2)) {
		return nil, fmt.Errorf("%w: deposit must be positive with at most two decimals", game.ErrAmountOutOfRange)
	}
	if reference == "" {
		reference = "deposit:" + uuid.NewString()
	}
	return l.store.Deposit(ctx, userID, amount, reference, l.clock.Now())
}

// Subscribe registers for round openings. Call it before the scheduler starts
// so the first round is primed as well.
func (l *BetLedger) Subscribe() (<-chan events.RoundOpened, func()) {
	return l.bus.RoundOpened.Subscribe(16)
}

// Run primes an empty distribution for every round received on opened and
// evicts idle throttle buckets. It blocks until ctx is done.
func (l *BetLedger) Run(ctx context.Context, opened <-chan events.RoundOpened) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-opened:
			if !ok {
				return
			}
			ttl := cache.TTL(&model.Round{
				BettingDuration: e.BettingEnd.Sub(e.BettingStart),
			}, l.closeDelay)
			if err := l.cache.SetDistribution(ctx, game.EmptyDistribution(e.RoundID), ttl); err != nil {
				l.log.Warn("Prime distribution failed", "round", e.Number, "err", err)
			}
			if n := l.limiter.Sweep(); n > 0 {
				l.log.Debug("Evicted idle throttle buckets", "count", n)
			}
		}
	}
}
