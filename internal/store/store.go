// Package store defines the persistence contract of the round engine. Every
// balance mutation it exposes is applied together with its ledger row in one
// atomic unit, and every lifecycle write is conditional on the phase it
// expects to leave.
package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rahul3988/game-sub000/pkg/common/enum"
	"github.com/rahul3988/game-sub000/pkg/model"
)

type Store interface {
	RoundStore
	BetStore
	AccountStore
	// Ping reports whether the backing database answers.
	Ping(ctx context.Context) error
	Close() error
}

type RoundStore interface {
	NextRoundNumber(ctx context.Context) (int64, error)
	// CreateRound persists the round and its seed together.
	CreateRound(ctx context.Context, round *model.Round, seed *model.RoundSeed) error
	GetRound(ctx context.Context, id string) (*model.Round, error)
	LatestRound(ctx context.Context) (*model.Round, error)
	ListRounds(ctx context.Context, filter RoundFilter) ([]*model.Round, error)
	ListUnfinishedRounds(ctx context.Context) ([]*model.Round, error)
	// ListStrandedRounds returns CANCELLED rounds that still hold PENDING
	// bets, oldest first.
	ListStrandedRounds(ctx context.Context) ([]*model.Round, error)

	// CloseBetting moves BETTING to BETTING_CLOSED and stamps betting_end.
	CloseBetting(ctx context.Context, id string, at time.Time) (*model.Round, error)
	// StartSpinning moves BETTING_CLOSED to SPINNING and stamps spin_start.
	StartSpinning(ctx context.Context, id string, at time.Time) (*model.Round, error)
	// FinalizeRound writes the result and moves a non-terminal round with no
	// winning digit to COMPLETED.
	FinalizeRound(ctx context.Context, id string, result RoundResult) (*model.Round, error)
	// CancelRound moves a non-terminal round to CANCELLED.
	CancelRound(ctx context.Context, id string, reason string, at time.Time) (*model.Round, error)

	GetSeed(ctx context.Context, roundID string) (*model.RoundSeed, error)
	RevealSeed(ctx context.Context, roundID string, at time.Time) error
}

type BetStore interface {
	// PlaceBet atomically checks the round is still open at now, debits the
	// user and writes the bet and its ledger row.
	PlaceBet(ctx context.Context, bet *model.Bet, now time.Time) error
	PendingBets(ctx context.Context, roundID string) ([]*model.Bet, error)
	RoundBets(ctx context.Context, roundID string) ([]*model.Bet, error)
	// SettleBet resolves a PENDING bet and credits any payout. It reports
	// false when the bet was already resolved.
	SettleBet(ctx context.Context, betID string, outcome enum.Outcome, payout decimal.Decimal, at time.Time) (bool, error)
	// RefundBet returns the stake of a PENDING bet.
	RefundBet(ctx context.Context, betID string, reason string, at time.Time) (bool, error)
}

type AccountStore interface {
	GetAccount(ctx context.Context, userID string) (*model.Account, error)
	// Deposit creates the account when missing and credits amount.
	Deposit(ctx context.Context, userID string, amount decimal.Decimal, reference string, at time.Time) (*model.Account, error)
	// DailyActivity aggregates ledger entries created in [from, to) per user.
	DailyActivity(ctx context.Context, from, to time.Time) ([]UserActivity, error)
	// CreditCashback adds amount to the user's game credit. It reports false
	// when reference was already used.
	CreditCashback(ctx context.Context, userID string, amount decimal.Decimal, reference string, at time.Time) (bool, error)
}

type RoundFilter struct {
	Phases []enum.Phase
	Limit  int
	Offset int
}

type RoundResult struct {
	WinningDigit    int
	WinningColor    string
	WinningParity   string
	DigitTotals     []decimal.Decimal
	TotalWagered    decimal.Decimal
	TotalPaid       decimal.Decimal
	HouseProfitLoss decimal.Decimal
	ResultTime      time.Time
}

// UserActivity sums one user's ledger movements over a window. All fields
// are non-negative magnitudes.
type UserActivity struct {
	UserID   string
	Wagered  decimal.Decimal
	Payouts  decimal.Decimal
	Refunds  decimal.Decimal
	Cashback decimal.Decimal
}

// NetLoss is what the user lost over the window; negative on a winning day.
func (a UserActivity) NetLoss() decimal.Decimal {
	return a.Wagered.Sub(a.Payouts).Sub(a.Refunds)
}

const DefaultListLimit = 50

// Normalize clamps the filter's paging values.
func (f RoundFilter) Normalize() RoundFilter {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = DefaultListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}
