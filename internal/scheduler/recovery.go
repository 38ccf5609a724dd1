package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/rahul3988/game-sub000/internal/events"
	"github.com/rahul3988/game-sub000/internal/game"
	"github.com/rahul3988/game-sub000/pkg/common/enum"
	"github.com/rahul3988/game-sub000/pkg/model"
)

// recoverAndOpen settles every unfinished round and, when that fully
// succeeds and no round is in flight, opens a new one.
func (s *Scheduler) recoverAndOpen(ctx context.Context) {
	if err := s.recoverRounds(ctx); err != nil {
		s.fail("recovery", nil, err)
		return
	}
	if !s.hasRoundTimers() {
		s.openRound(ctx)
	}
}

// recoverRounds drives each non-terminal round straight to settlement as if
// its spin timer had just fired.
func (s *Scheduler) recoverRounds(ctx context.Context) error {
	rounds, err := s.store.ListUnfinishedRounds(ctx)
	if err != nil {
		return fmt.Errorf("list unfinished rounds: %w", err)
	}

	var errs []error
	for _, r := range rounds {
		s.cancelRound(r.ID)

		if r.Phase == enum.PhaseBetting {
			now := s.clock.Now()
			closed, err := s.store.CloseBetting(ctx, r.ID, now)
			switch {
			case err == nil:
				s.bus.PublishBettingClosed(events.BettingClosed{RoundID: closed.ID, Number: closed.Number, At: now})
			case errors.Is(err, game.ErrPhaseViolation):
			default:
				errs = append(errs, fmt.Errorf("close round %d: %w", r.Number, err))
				continue
			}
		}

		settled, err := s.settler.Settle(ctx, r.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("settle round %d: %w", r.Number, err))
			continue
		}
		s.cacheRound(ctx, settled)
		s.log.Info("Recovered round", "round", settled.Number, "from_phase", r.Phase, "digit", *settled.WinningDigit)
	}
	refunded, err := s.refundStranded(ctx)
	if err != nil {
		errs = append(errs, err)
	}
	for _, r := range refunded {
		if r.Bets > 0 {
			s.log.Warn("Refunded stranded bets", "round", r.Number, "bets", r.Bets, "amount", r.Amount)
		}
	}
	return errors.Join(errs...)
}

// refundStranded refunds every PENDING bet still held by a CANCELLED round.
// A bet whose refund fails stays PENDING and is picked up by the next call.
func (s *Scheduler) refundStranded(ctx context.Context) ([]RefundedRound, error) {
	rounds, err := s.store.ListStrandedRounds(ctx)
	if err != nil {
		return nil, fmt.Errorf("list stranded rounds: %w", err)
	}

	var (
		refunded []RefundedRound
		errs     []error
	)
	for _, r := range rounds {
		out, err := s.refundPending(ctx, r)
		if err != nil {
			errs = append(errs, err)
		}
		refunded = append(refunded, out)
	}
	return refunded, errors.Join(errs...)
}

func (s *Scheduler) refundPending(ctx context.Context, r *model.Round) (RefundedRound, error) {
	out := RefundedRound{RoundID: r.ID, Number: r.Number, Amount: decimal.Zero}
	pending, err := s.store.PendingBets(ctx, r.ID)
	if err != nil {
		return out, fmt.Errorf("pending bets of round %d: %w", r.Number, err)
	}

	var errs []error
	for _, b := range pending {
		applied, err := s.store.RefundBet(ctx, b.ID, "emergency stop: "+r.CancelReason, s.clock.Now())
		if err != nil {
			errs = append(errs, fmt.Errorf("refund bet %s: %w", b.ID, err))
			continue
		}
		if applied {
			out.Bets++
			out.Amount = out.Amount.Add(b.Amount)
		}
	}
	return out, errors.Join(errs...)
}

type RefundedRound struct {
	RoundID string          `json:"round_id"`
	Number  int64           `json:"number"`
	Bets    int             `json:"bets"`
	Amount  decimal.Decimal `json:"amount"`
}

type EmergencyReport struct {
	Reason string          `json:"reason"`
	Rounds []RefundedRound `json:"rounds"`
}

// EmergencyStop halts the scheduler, cancels every unfinished round and
// refunds its PENDING bets. Rounds are cancelled before the refund pass so no
// bet can slip in after it. The pass also covers bets an earlier failed
// refund left on an already cancelled round.
func (s *Scheduler) EmergencyStop(ctx context.Context, reason string) (EmergencyReport, error) {
	s.turn.Lock()
	defer s.turn.Unlock()

	s.mu.Lock()
	s.running = false
	clear(s.timers)
	s.mu.Unlock()
	s.signal()

	report := EmergencyReport{Reason: reason, Rounds: []RefundedRound{}}
	rounds, err := s.store.ListUnfinishedRounds(ctx)
	if err != nil {
		return report, fmt.Errorf("list unfinished rounds: %w", err)
	}

	var (
		errs      []error
		cancelled []*model.Round
	)
	for _, r := range rounds {
		c, err := s.store.CancelRound(ctx, r.ID, reason, s.clock.Now())
		if errors.Is(err, game.ErrPhaseViolation) {
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("cancel round %d: %w", r.Number, err))
			continue
		}
		if err := s.cache.DeleteDistribution(ctx, c.ID); err != nil {
			s.log.Warn("Drop cached distribution failed", "round", c.Number, "err", err)
		}
		s.cacheRound(ctx, c)
		cancelled = append(cancelled, c)
	}

	refunded, err := s.refundStranded(ctx)
	if err != nil {
		errs = append(errs, err)
	}
	byRound := lo.KeyBy(refunded, func(r RefundedRound) string { return r.RoundID })

	for _, c := range cancelled {
		out, ok := byRound[c.ID]
		if !ok {
			out = RefundedRound{RoundID: c.ID, Number: c.Number, Amount: decimal.Zero}
		}
		delete(byRound, c.ID)
		s.bus.PublishRoundCancelled(events.RoundCancelled{
			RoundID:  c.ID,
			Number:   c.Number,
			Reason:   reason,
			Refunded: out.Bets,
			At:       s.clock.Now(),
		})
		report.Rounds = append(report.Rounds, out)
		s.log.Warn("Round cancelled", "round", c.Number, "reason", reason, "refunded_bets", out.Bets, "amount", out.Amount)
	}
	for _, r := range refunded {
		if _, ok := byRound[r.RoundID]; !ok {
			continue
		}
		report.Rounds = append(report.Rounds, r)
		s.log.Warn("Refunded stranded bets", "round", r.Number, "bets", r.Bets, "amount", r.Amount)
	}

	s.log.Warn("Emergency stop", "reason", reason, "rounds", len(report.Rounds))
	return report, errors.Join(errs...)
}
