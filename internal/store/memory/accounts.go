package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rahul3988/game-sub000/internal/game"
	"github.com/rahul3988/game-sub000/internal/store"
	"github.com/rahul3988/game-sub000/pkg/common/enum"
	"github.com/rahul3988/game-sub000/pkg/model"
)

func (s *Store) GetAccount(_ context.Context, userID string) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[userID]
	if !ok {
		return nil, store.ErrAccountNotFound
	}
	out := *account
	return &out, nil
}

func (s *Store) Deposit(_ context.Context, userID string, amount decimal.Decimal, reference string, at time.Time) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("Deposit"); err != nil {
		return nil, err
	}
	if _, dup := s.refs[reference]; dup {
		return nil, fmt.Errorf("%w: reference %s already used", game.ErrPersistence, reference)
	}

	s.credit(userID, amount, at)
	s.appendLedger(reference, &model.LedgerEntry{
		UserID: userID,
		Kind:   enum.EntryDeposit,
		Amount: amount,
		Reason: "deposit",
	}, at)

	out := *s.accounts[userID]
	return &out, nil
}

func (s *Store) DailyActivity(_ context.Context, from, to time.Time) ([]store.UserActivity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("DailyActivity"); err != nil {
		return nil, err
	}

	byUser := make(map[string]*store.UserActivity)
	for _, e := range s.ledger {
		if e.CreatedAt.Before(from) || !e.CreatedAt.Before(to) || e.Kind == enum.EntryDeposit {
			continue
		}
		a, ok := byUser[e.UserID]
		if !ok {
			a = &store.UserActivity{
				UserID:   e.UserID,
				Wagered:  decimal.Zero,
				Payouts:  decimal.Zero,
				Refunds:  decimal.Zero,
				Cashback: decimal.Zero,
			}
			byUser[e.UserID] = a
		}
		switch e.Kind {
		case enum.EntryBetDebit:
			a.Wagered = a.Wagered.Add(e.Amount.Abs())
		case enum.EntryPayoutCredit:
			a.Payouts = a.Payouts.Add(e.Amount)
		case enum.EntryRefundCredit:
			a.Refunds = a.Refunds.Add(e.Amount)
		case enum.EntryCashbackCredit:
			a.Cashback = a.Cashback.Add(e.Amount)
		}
	}

	out := make([]store.UserActivity, 0, len(byUser))
	for _, a := range byUser {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *Store) CreditCashback(_ context.Context, userID string, amount decimal.Decimal, reference string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("CreditCashback"); err != nil {
		return false, err
	}
	if _, dup := s.refs[reference]; dup {
		return false, nil
	}

	account := s.account(userID, at)
	account.GameCredit = account.GameCredit.Add(amount)
	account.UpdatedAt = at
	s.appendLedger(reference, &model.LedgerEntry{
		UserID: userID,
		Kind:   enum.EntryCashbackCredit,
		Amount: amount,
		Reason: "daily loss cashback",
	}, at)
	return true, nil
}
