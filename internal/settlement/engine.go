// Package settlement picks a round's winning digit, resolves every bet and
// finalizes the round. Settle is safe to re-run on a partially settled
// round: each bet resolves at most once and finalization is conditional.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"

	"github.com/rahul3988/game-sub000/internal/cache"
	"github.com/rahul3988/game-sub000/internal/cashback"
	"github.com/rahul3988/game-sub000/internal/events"
	"github.com/rahul3988/game-sub000/internal/game"
	"github.com/rahul3988/game-sub000/internal/store"
	"github.com/rahul3988/game-sub000/pkg/common/enum"
	"github.com/rahul3988/game-sub000/pkg/model"
)

type CashbackProcessor interface {
	Process(ctx context.Context) (cashback.Summary, error)
}

type Options struct {
	Store    store.Store
	Cache    cache.Cache
	Bus      *events.Bus
	Clock    clockwork.Clock
	Cashback CashbackProcessor
	Logger   *slog.Logger
}

type Engine struct {
	store    store.Store
	cache    cache.Cache
	bus      *events.Bus
	clock    clockwork.Clock
	cashback CashbackProcessor
	log      *slog.Logger
}

func NewEngine(opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Engine{
		store:    opts.Store,
		cache:    opts.Cache,
		bus:      opts.Bus,
		clock:    opts.Clock,
		cashback: opts.Cashback,
		log:      opts.Logger,
	}
}

// Settle resolves roundID. A round already COMPLETED is returned unchanged
// once its seed is revealed; a BETTING or CANCELLED round is a phase
// violation.
func (e *Engine) Settle(ctx context.Context, roundID string) (*model.Round, error) {
	round, err := e.store.GetRound(ctx, roundID)
	if err != nil {
		return nil, err
	}
	switch round.Phase {
	case enum.PhaseCompleted:
		if err := e.revealSettled(ctx, round); err != nil {
			return nil, err
		}
		return round, nil
	case enum.PhaseBettingClosed, enum.PhaseSpinning:
	default:
		return nil, fmt.Errorf("%w: cannot settle round %d in %s", game.ErrPhaseViolation, round.Number, round.Phase)
	}

	selector, err := SelectorFor(round.DigitSource)
	if err != nil {
		return nil, err
	}
	seed, err := e.store.GetSeed(ctx, round.ID)
	if err != nil && !errors.Is(err, store.ErrSeedNotFound) {
		return nil, err
	}

	bets, err := e.store.RoundBets(ctx, round.ID)
	if err != nil {
		return nil, err
	}
	totals := game.DigitTotals(bets)
	digit, err := selector.Select(round, seed, totals)
	if err != nil {
		return nil, fmt.Errorf("select digit for round %d: %w", round.Number, err)
	}

	now := e.clock.Now()
	for _, b := range bets {
		if !b.IsPending() {
			continue
		}
		outcome, payout := enum.OutcomeLost, decimal.Zero
		if game.Wins(b.Kind, b.Value, digit) {
			outcome, payout = enum.OutcomeWon, b.PotentialPayout
		}
		if _, err := e.store.SettleBet(ctx, b.ID, outcome, payout, now); err != nil {
			return nil, fmt.Errorf("settle bet %s: %w", b.ID, err)
		}
	}

	// Totals come from the stored rows so a resumed run counts bets an
	// earlier attempt already resolved.
	bets, err = e.store.RoundBets(ctx, round.ID)
	if err != nil {
		return nil, err
	}
	wagered, paid := Totals(bets)

	final, err := e.store.FinalizeRound(ctx, round.ID, store.RoundResult{
		WinningDigit:    digit,
		WinningColor:    game.ColorOf(digit),
		WinningParity:   game.ParityOf(digit),
		DigitTotals:     totals,
		TotalWagered:    wagered,
		TotalPaid:       paid,
		HouseProfitLoss: wagered.Sub(paid),
		ResultTime:      now,
	})
	if errors.Is(err, game.ErrPhaseViolation) {
		current, getErr := e.store.GetRound(ctx, round.ID)
		if getErr == nil && current.Phase == enum.PhaseCompleted {
			return current, e.revealSettled(ctx, current)
		}
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	e.log.Info("Round settled",
		"round", final.Number,
		"digit", digit,
		"source", selector.Source(),
		"wagered", wagered,
		"paid", paid,
		"house", final.HouseProfitLoss,
	)
	e.afterSettle(ctx, final, seed)
	return final, nil
}

// afterSettle reveals the seed, drops the live distribution, publishes the
// result and runs cashback. None of it can fail the settlement.
func (e *Engine) afterSettle(ctx context.Context, round *model.Round, seed *model.RoundSeed) {
	serverSeed := ""
	if seed != nil {
		if err := e.reveal(ctx, round, seed); err != nil {
			e.log.Error("Reveal seed failed", "round", round.Number, "err", err)
		} else {
			serverSeed = seed.ServerSeed
		}
	}
	if err := e.cache.DeleteDistribution(ctx, round.ID); err != nil {
		e.log.Warn("Drop cached distribution failed", "round", round.Number, "err", err)
	}
	e.bus.PublishRoundCompleted(events.RoundCompleted{Round: round, ServerSeed: serverSeed})

	if e.cashback == nil {
		return
	}
	if _, err := e.cashback.Process(ctx); err != nil {
		e.log.Error("Cashback run failed", "round", round.Number, "err", err)
	}
}

// revealSettled reveals the seed of a completed round whose reveal did not
// land during settlement.
func (e *Engine) revealSettled(ctx context.Context, round *model.Round) error {
	seed, err := e.store.GetSeed(ctx, round.ID)
	if errors.Is(err, store.ErrSeedNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return e.reveal(ctx, round, seed)
}

func (e *Engine) reveal(ctx context.Context, round *model.Round, seed *model.RoundSeed) error {
	if seed.RevealedAt != nil {
		return nil
	}
	at := e.clock.Now()
	if err := e.store.RevealSeed(ctx, round.ID, at); err != nil {
		return fmt.Errorf("reveal seed of round %d: %w", round.Number, err)
	}
	seed.RevealedAt = &at
	e.log.Info("Seed revealed", "round", round.Number)
	return nil
}

// Totals sums stakes of bets that still count (all but refunds) and payouts
// of winning bets.
func Totals(bets []*model.Bet) (wagered, paid decimal.Decimal) {
	wagered, paid = decimal.Zero, decimal.Zero
	for _, b := range bets {
		if b.Outcome == enum.OutcomeRefunded {
			continue
		}
		wagered = wagered.Add(b.Amount)
		if b.Outcome == enum.OutcomeWon {
			paid = paid.Add(b.ActualPayout)
		}
	}
	return wagered, paid
}
