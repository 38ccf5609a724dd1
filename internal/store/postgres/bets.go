package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/rahul3988/game-sub000/internal/game"
	"github.com/rahul3988/game-sub000/internal/store"
	"github.com/rahul3988/game-sub000/pkg/common/enum"
	"github.com/rahul3988/game-sub000/pkg/model"
)

// PlaceBet holds a FOR SHARE lock on the round while debiting, so a
// concurrent CloseBetting (which needs the row exclusively) is ordered
// strictly before or after the whole placement.
func (s *Store) PlaceBet(ctx context.Context, bet *model.Bet, now time.Time) error {
	if bet.ID == "" {
		bet.ID = uuid.NewString()
	}
	bet.Outcome = enum.OutcomePending
	bet.PlacedAt = now
	bet.CreatedAt = now
	bet.UpdatedAt = now

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var round model.Round
		err := tx.Clauses(clause.Locking{Strength: "SHARE"}).
			Select("id", "number", "phase", "betting_end").
			Take(&round, "id = ?", bet.RoundID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return game.ErrRoundNotFound
		}
		if err != nil {
			return err
		}
		if round.Phase != enum.PhaseBetting || now.After(round.BettingEnd) {
			return game.ErrBettingClosed
		}

		res := tx.Model(&model.Account{}).
			Where("user_id = ? AND balance >= ?", bet.UserID, bet.Amount).
			Updates(map[string]any{
				"balance":    gorm.Expr("balance - ?", bet.Amount),
				"updated_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return game.ErrInsufficientFunds
		}

		if err := tx.Create(bet).Error; err != nil {
			return err
		}
		return tx.Create(&model.LedgerEntry{
			BaseModel: model.BaseModel{ID: uuid.NewString(), CreatedAt: now, UpdatedAt: now},
			UserID:    bet.UserID,
			RoundID:   &bet.RoundID,
			BetID:     &bet.ID,
			Kind:      enum.EntryBetDebit,
			Amount:    bet.Amount.Neg(),
			Reference: store.BetReference(bet.ID),
			Reason:    fmt.Sprintf("bet %s %s on round %d", bet.Kind, bet.Value, round.Number),
		}).Error
	})
	return wrap("place bet", err)
}

func (s *Store) PendingBets(ctx context.Context, roundID string) ([]*model.Bet, error) {
	var bets []*model.Bet
	err := s.db.WithContext(ctx).
		Where("round_id = ? AND outcome = ?", roundID, enum.OutcomePending).
		Order("placed_at ASC").
		Find(&bets).Error
	return bets, wrap("pending bets", err)
}

func (s *Store) RoundBets(ctx context.Context, roundID string) ([]*model.Bet, error) {
	var bets []*model.Bet
	err := s.db.WithContext(ctx).
		Where("round_id = ?", roundID).
		Order("placed_at ASC").
		Find(&bets).Error
	return bets, wrap("round bets", err)
}

// resolve moves a PENDING bet to outcome and credits amount, writing a ledger
// row under reference. It reports false when the bet was already resolved.
func (s *Store) resolve(ctx context.Context, op, betID string, outcome enum.Outcome, payout, credit decimal.Decimal, kind enum.EntryKind, reference func(string) string, reason string, at time.Time) (bool, error) {
	applied := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var bet model.Bet
		if err := tx.Take(&bet, "id = ?", betID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return store.ErrBetNotFound
			}
			return err
		}
		if !bet.IsPending() {
			return nil
		}

		res := tx.Model(&model.Bet{}).
			Where("id = ? AND outcome = ?", betID, enum.OutcomePending).
			Updates(map[string]any{
				"outcome":       outcome,
				"actual_payout": payout,
				"settled_at":    at,
				"updated_at":    at,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		applied = true

		if !credit.IsPositive() {
			return nil
		}
		if err := tx.Model(&model.Account{}).
			Where("user_id = ?", bet.UserID).
			Updates(map[string]any{
				"balance":    gorm.Expr("balance + ?", credit),
				"updated_at": at,
			}).Error; err != nil {
			return err
		}
		return tx.Create(&model.LedgerEntry{
			BaseModel: model.BaseModel{ID: uuid.NewString(), CreatedAt: at, UpdatedAt: at},
			UserID:    bet.UserID,
			RoundID:   &bet.RoundID,
			BetID:     &bet.ID,
			Kind:      kind,
			Amount:    credit,
			Reference: reference(bet.ID),
			Reason:    reason,
		}).Error
	})
	if err != nil {
		return false, wrap(op, err)
	}
	return applied, nil
}

func (s *Store) SettleBet(ctx context.Context, betID string, outcome enum.Outcome, payout decimal.Decimal, at time.Time) (bool, error) {
	return s.resolve(ctx, "settle bet", betID, outcome, payout, payout,
		enum.EntryPayoutCredit, store.PayoutReference, "winning bet payout", at)
}

func (s *Store) RefundBet(ctx context.Context, betID string, reason string, at time.Time) (bool, error) {
	var bet model.Bet
	if err := s.db.WithContext(ctx).Select("id", "amount").Take(&bet, "id = ?", betID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, store.ErrBetNotFound
		}
		return false, wrap("refund bet", err)
	}
	return s.resolve(ctx, "refund bet", betID, enum.OutcomeRefunded, decimal.Zero, bet.Amount,
		enum.EntryRefundCredit, store.RefundReference, reason, at)
}
