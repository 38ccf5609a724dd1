package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rahul3988/game-sub000/internal/game"
	"github.com/rahul3988/game-sub000/internal/store"
	"github.com/rahul3988/game-sub000/pkg/common/enum"
	"github.com/rahul3988/game-sub000/pkg/model"
)

func (s *Store) PlaceBet(_ context.Context, bet *model.Bet, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("PlaceBet"); err != nil {
		return err
	}

	round, ok := s.rounds[bet.RoundID]
	if !ok {
		return game.ErrRoundNotFound
	}
	if round.Phase != enum.PhaseBetting || now.After(round.BettingEnd) {
		return game.ErrBettingClosed
	}

	account, ok := s.accounts[bet.UserID]
	if !ok || account.Balance.LessThan(bet.Amount) {
		return game.ErrInsufficientFunds
	}

	if bet.ID == "" {
		bet.ID = uuid.NewString()
	}
	bet.Outcome = enum.OutcomePending
	bet.PlacedAt = now
	bet.CreatedAt = now
	bet.UpdatedAt = now

	ref := store.BetReference(bet.ID)
	if _, dup := s.refs[ref]; dup {
		return fmt.Errorf("%w: duplicate bet %s", game.ErrPersistence, bet.ID)
	}

	account.Balance = account.Balance.Sub(bet.Amount)
	account.UpdatedAt = now

	b := *bet
	s.bets[b.ID] = &b
	s.roundBets[b.RoundID] = append(s.roundBets[b.RoundID], b.ID)
	s.appendLedger(ref, &model.LedgerEntry{
		UserID:  b.UserID,
		RoundID: &b.RoundID,
		BetID:   &b.ID,
		Kind:    enum.EntryBetDebit,
		Amount:  b.Amount.Neg(),
		Reason:  fmt.Sprintf("bet %s %s on round %d", b.Kind, b.Value, round.Number),
	}, now)
	return nil
}

func (s *Store) appendLedger(ref string, e *model.LedgerEntry, at time.Time) {
	e.ID = uuid.NewString()
	e.Reference = ref
	e.CreatedAt = at
	e.UpdatedAt = at
	s.refs[ref] = struct{}{}
	s.ledger = append(s.ledger, e)
}

func (s *Store) collectBets(roundID string, keep func(*model.Bet) bool) []*model.Bet {
	out := make([]*model.Bet, 0, len(s.roundBets[roundID]))
	for _, id := range s.roundBets[roundID] {
		b := s.bets[id]
		if keep(b) {
			c := *b
			out = append(out, &c)
		}
	}
	return out
}

func (s *Store) PendingBets(_ context.Context, roundID string) ([]*model.Bet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("PendingBets"); err != nil {
		return nil, err
	}
	return s.collectBets(roundID, (*model.Bet).IsPending), nil
}

func (s *Store) RoundBets(_ context.Context, roundID string) ([]*model.Bet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("RoundBets"); err != nil {
		return nil, err
	}
	return s.collectBets(roundID, func(*model.Bet) bool { return true }), nil
}

func (s *Store) SettleBet(_ context.Context, betID string, outcome enum.Outcome, payout decimal.Decimal, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("SettleBet"); err != nil {
		return false, err
	}

	b, ok := s.bets[betID]
	if !ok {
		return false, store.ErrBetNotFound
	}
	if !b.IsPending() {
		return false, nil
	}

	b.Outcome = outcome
	b.ActualPayout = payout
	b.SettledAt = &at
	b.UpdatedAt = at

	if payout.IsPositive() {
		s.credit(b.UserID, payout, at)
		s.appendLedger(store.PayoutReference(b.ID), &model.LedgerEntry{
			UserID:  b.UserID,
			RoundID: &b.RoundID,
			BetID:   &b.ID,
			Kind:    enum.EntryPayoutCredit,
			Amount:  payout,
			Reason:  "winning bet payout",
		}, at)
	}
	return true, nil
}

func (s *Store) RefundBet(_ context.Context, betID string, reason string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("RefundBet"); err != nil {
		return false, err
	}

	b, ok := s.bets[betID]
	if !ok {
		return false, store.ErrBetNotFound
	}
	if !b.IsPending() {
		return false, nil
	}

	b.Outcome = enum.OutcomeRefunded
	b.ActualPayout = decimal.Zero
	b.SettledAt = &at
	b.UpdatedAt = at

	s.credit(b.UserID, b.Amount, at)
	s.appendLedger(store.RefundReference(b.ID), &model.LedgerEntry{
		UserID:  b.UserID,
		RoundID: &b.RoundID,
		BetID:   &b.ID,
		Kind:    enum.EntryRefundCredit,
		Amount:  b.Amount,
		Reason:  reason,
	}, at)
	return true, nil
}

func (s *Store) credit(userID string, amount decimal.Decimal, at time.Time) {
	account := s.account(userID, at)
	account.Balance = account.Balance.Add(amount)
	account.UpdatedAt = at
}

func (s *Store) account(userID string, at time.Time) *model.Account {
	account, ok := s.accounts[userID]
	if !ok {
		account = &model.Account{UserID: userID, CreatedAt: at, UpdatedAt: at}
		s.accounts[userID] = account
	}
	return account
}
