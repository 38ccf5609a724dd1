package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/rahul3988/game-sub000/internal/store"
	"github.com/rahul3988/game-sub000/pkg/common/enum"
	"github.com/rahul3988/game-sub000/pkg/model"
)

func (s *Store) GetAccount(ctx context.Context, userID string) (*model.Account, error) {
	var account model.Account
	err := s.db.WithContext(ctx).Take(&account, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, store.ErrAccountNotFound
	}
	if err != nil {
		return nil, wrap("get account", err)
	}
	return &account, nil
}

func (s *Store) Deposit(ctx context.Context, userID string, amount decimal.Decimal, reference string, at time.Time) (*model.Account, error) {
	var account model.Account
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"balance":    gorm.Expr("accounts.balance + ?", amount),
				"updated_at": at,
			}),
		}).Create(&model.Account{
			UserID:     userID,
			Balance:    amount,
			GameCredit: decimal.Zero,
			CreatedAt:  at,
			UpdatedAt:  at,
		}).Error
		if err != nil {
			return err
		}

		if err := tx.Create(&model.LedgerEntry{
			BaseModel: model.BaseModel{ID: uuid.NewString(), CreatedAt: at, UpdatedAt: at},
			UserID:    userID,
			Kind:      enum.EntryDeposit,
			Amount:    amount,
			Reference: reference,
			Reason:    "deposit",
		}).Error; err != nil {
			return err
		}
		return tx.Take(&account, "user_id = ?", userID).Error
	})
	if err != nil {
		return nil, wrap("deposit", err)
	}
	return &account, nil
}

type activityRow struct {
	UserID   string
	Wagered  decimal.Decimal
	Payouts  decimal.Decimal
	Refunds  decimal.Decimal
	Cashback decimal.Decimal
}

func (s *Store) DailyActivity(ctx context.Context, from, to time.Time) ([]store.UserActivity, error) {
	var rows []activityRow
	err := s.db.WithContext(ctx).Raw(`
		SELECT user_id,
		       COALESCE(SUM(CASE WHEN kind = ? THEN -amount END), 0) AS wagered,
		       COALESCE(SUM(CASE WHEN kind = ? THEN amount END), 0)  AS payouts,
		       COALESCE(SUM(CASE WHEN kind = ? THEN amount END), 0)  AS refunds,
		       COALESCE(SUM(CASE WHEN kind = ? THEN amount END), 0)  AS cashback
		FROM ledger_entries
		WHERE created_at >= ? AND created_at < ?
		  AND kind IN (?, ?, ?, ?)
		GROUP BY user_id
		ORDER BY user_id`,
		enum.EntryBetDebit, enum.EntryPayoutCredit, enum.EntryRefundCredit, enum.EntryCashbackCredit,
		from, to,
		enum.EntryBetDebit, enum.EntryPayoutCredit, enum.EntryRefundCredit, enum.EntryCashbackCredit,
	).Scan(&rows).Error
	if err != nil {
		return nil, wrap("daily activity", err)
	}

	out := make([]store.UserActivity, len(rows))
	for i, r := range rows {
		out[i] = store.UserActivity(r)
	}
	return out, nil
}

func (s *Store) CreditCashback(ctx context.Context, userID string, amount decimal.Decimal, reference string, at time.Time) (bool, error) {
	applied := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "reference"}},
			DoNothing: true,
		}).Create(&model.LedgerEntry{
			BaseModel: model.BaseModel{ID: uuid.NewString(), CreatedAt: at, UpdatedAt: at},
			UserID:    userID,
			Kind:      enum.EntryCashbackCredit,
			Amount:    amount,
			Reference: reference,
			Reason:    "daily loss cashback",
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}

		res = tx.Model(&model.Account{}).
			Where("user_id = ?", userID).
			Updates(map[string]any{
				"game_credit": gorm.Expr("game_credit + ?", amount),
				"updated_at":  at,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return store.ErrAccountNotFound
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, wrap("credit cashback", err)
	}
	return applied, nil
}
