package scheduler

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/rahul3988/game-sub000/internal/cache"
	"github.com/rahul3988/game-sub000/internal/events"
	"github.com/rahul3988/game-sub000/internal/game"
	"github.com/rahul3988/game-sub000/pkg/common/constant"
	"github.com/rahul3988/game-sub000/pkg/common/enum"
	"github.com/rahul3988/game-sub000/pkg/model"
)

func phaseKey(phase enum.Phase, roundID string) timerKey {
	return timerKey{Phase: phase, RoundID: roundID, Kind: kindPhase}
}

func tickKey(phase enum.Phase, roundID string) timerKey {
	return timerKey{Phase: phase, RoundID: roundID, Kind: kindTick}
}

var recoveryKey = timerKey{Kind: kindRecovery}

// openRound snapshots the current settings into a new BETTING round.
func (s *Scheduler) openRound(ctx context.Context) {
	if !s.Running() {
		return
	}
	settings := s.settings.Current()

	number, err := s.store.NextRoundNumber(ctx)
	if err != nil {
		s.fail("open round", nil, err)
		return
	}
	pair, err := s.seeds.NewSeedPair()
	if err != nil {
		s.fail("open round", nil, err)
		return
	}

	now := s.clock.Now()
	round := &model.Round{
		BaseModel:        model.BaseModel{ID: uuid.NewString()},
		Number:           number,
		Phase:            enum.PhaseBetting,
		BettingStart:     now,
		BettingEnd:       now.Add(settings.BettingDuration),
		DigitSource:      settings.DigitSource,
		BettingDuration:  settings.BettingDuration,
		SpinDuration:     settings.SpinDuration,
		ResultDuration:   settings.ResultDuration,
		MinBet:           settings.MinBet,
		MaxBet:           settings.MaxBet,
		PayoutMultiplier: settings.PayoutMultiplier,
		MaxExposure:      settings.MaxExposure,
	}
	seed := &model.RoundSeed{
		ServerSeed:     pair.ServerSeed,
		ServerSeedHash: pair.ServerSeedHash,
		ClientSeed:     pair.ClientSeed,
		Nonce:          number,
	}
	if err := s.store.CreateRound(ctx, round, seed); err != nil {
		s.fail("open round", round, err)
		return
	}

	s.cacheRound(ctx, round)
	s.bus.PublishRoundOpened(events.RoundOpened{
		RoundID:        round.ID,
		Number:         round.Number,
		BettingStart:   round.BettingStart,
		BettingEnd:     round.BettingEnd,
		ServerSeedHash: seed.ServerSeedHash,
		ClientSeed:     seed.ClientSeed,
		Nonce:          seed.Nonce,
		MinBet:         round.MinBet,
		MaxBet:         round.MaxBet,
		Multiplier:     round.PayoutMultiplier,
	})

	id := round.ID
	s.arm(phaseKey(enum.PhaseBetting, id), round.BettingEnd, func(ctx context.Context, _ time.Time) {
		s.closeBetting(ctx, id)
	})
	s.armTicks(id, enum.PhaseBetting, now, round.BettingEnd)

	s.log.Info("Round opened",
		"round", round.Number,
		"betting_end", round.BettingEnd,
		"seed_hash", seed.ServerSeedHash,
		"digit_source", round.DigitSource,
	)
}

func (s *Scheduler) closeBetting(ctx context.Context, roundID string) {
	s.cancel(tickKey(enum.PhaseBetting, roundID))

	now := s.clock.Now()
	round, err := s.store.CloseBetting(ctx, roundID, now)
	if err != nil {
		s.transitionFailed("close betting", roundID, err)
		return
	}

	s.cacheRound(ctx, round)
	s.bus.PublishBettingClosed(events.BettingClosed{RoundID: round.ID, Number: round.Number, At: now})
	s.arm(phaseKey(enum.PhaseBettingClosed, roundID), now.Add(s.closeDelay), func(ctx context.Context, _ time.Time) {
		s.startSpinning(ctx, roundID)
	})
	s.log.Info("Betting closed", "round", round.Number)
}

func (s *Scheduler) startSpinning(ctx context.Context, roundID string) {
	now := s.clock.Now()
	round, err := s.store.StartSpinning(ctx, roundID, now)
	if err != nil {
		s.transitionFailed("start spinning", roundID, err)
		return
	}

	spinEnd := now.Add(round.SpinDuration)
	s.cacheRound(ctx, round)
	s.bus.PublishSpinStarted(events.SpinStarted{RoundID: round.ID, Number: round.Number, At: now, EndsAt: spinEnd})

	s.arm(phaseKey(enum.PhaseSpinning, roundID), spinEnd, func(ctx context.Context, _ time.Time) {
		s.completeSpin(ctx, roundID)
	})
	s.armTicks(roundID, enum.PhaseSpinning, now, spinEnd)
	s.log.Info("Spinning", "round", round.Number, "until", spinEnd)
}

func (s *Scheduler) completeSpin(ctx context.Context, roundID string) {
	s.cancel(tickKey(enum.PhaseSpinning, roundID))

	round, err := s.settler.Settle(ctx, roundID)
	if err != nil {
		s.transitionFailed("settle", roundID, err)
		return
	}
	s.cacheRound(ctx, round)

	s.arm(phaseKey(enum.PhaseCompleted, roundID), s.clock.Now().Add(round.ResultDuration), func(ctx context.Context, _ time.Time) {
		s.openRound(ctx)
	})
}

// armTicks schedules 1 Hz countdown ticks from start until deadline. Each
// tick reports whole seconds left, rounded up.
func (s *Scheduler) armTicks(roundID string, phase enum.Phase, start, deadline time.Time) {
	key := tickKey(phase, roundID)
	var fire func(ctx context.Context, due time.Time)
	fire = func(_ context.Context, due time.Time) {
		remaining := int(math.Ceil(deadline.Sub(due).Seconds()))
		if remaining <= 0 {
			return
		}
		s.bus.PublishTimerTick(events.TimerTick{RoundID: roundID, Phase: phase, Remaining: remaining})
		if next := due.Add(constant.TickInterval); next.Before(deadline) {
			s.arm(key, next, fire)
		}
	}
	s.arm(key, start, fire)
}

func (s *Scheduler) cacheRound(ctx context.Context, round *model.Round) {
	if err := s.cache.SetCurrentRound(ctx, round, cache.TTL(round, s.closeDelay)); err != nil {
		s.log.Warn("Cache current round failed", "round", round.Number, "err", err)
	}
}

// transitionFailed handles a failed phase change. A phase violation means
// something else already moved the round; anything else waits for recovery.
func (s *Scheduler) transitionFailed(op, roundID string, err error) {
	if errors.Is(err, game.ErrPhaseViolation) {
		s.log.Warn("Skipping transition", "op", op, "round_id", roundID, "err", err)
		return
	}
	s.fail(op, &model.Round{BaseModel: model.BaseModel{ID: roundID}}, err)
}

// fail logs err and arms the recovery pass. There is no immediate retry.
func (s *Scheduler) fail(op string, round *model.Round, err error) {
	args := []any{"op", op, "err", err, "retry_in", s.recoveryInterval}
	if round != nil {
		args = append(args, "round_id", round.ID)
		if round.Number > 0 {
			args = append(args, "round", round.Number)
		}
	}
	s.log.Error("Round transition failed", args...)
	s.armRecovery()
}

func (s *Scheduler) armRecovery() {
	if s.armed(recoveryKey) {
		return
	}
	s.arm(recoveryKey, s.clock.Now().Add(s.recoveryInterval), func(ctx context.Context, _ time.Time) {
		s.recoverAndOpen(ctx)
	})
}
