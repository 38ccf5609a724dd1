// Package postgres implements store.Store on gorm. Lifecycle writes are
// conditional UPDATEs; balance mutations are conditional increments in the
// same transaction as their ledger rows.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rahul3988/game-sub000/internal/game"
	"github.com/rahul3988/game-sub000/internal/store"
	"github.com/rahul3988/game-sub000/pkg/common/enum"
	"github.com/rahul3988/game-sub000/pkg/model"
	"github.com/rahul3988/game-sub000/pkg/repository"
)

type Store struct {
	db     *gorm.DB
	rounds repository.Repository[model.Round]
}

var _ store.Store = (*Store)(nil)

func New(db *gorm.DB) *Store {
	return &Store{
		db:     db,
		rounds: repository.NewRepository[model.Round](db),
	}
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return repository.HealthCheck(ctx, s.db)
}

func persistenceErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", game.ErrPersistence, op, repository.WrapError(err))
}

// passthrough reports whether err is already a domain error that must reach
// the caller unchanged.
func passthrough(err error) bool {
	return errors.Is(err, game.ErrRoundNotFound) ||
		errors.Is(err, game.ErrBettingClosed) ||
		errors.Is(err, game.ErrInsufficientFunds) ||
		errors.Is(err, game.ErrPhaseViolation) ||
		errors.Is(err, store.ErrBetNotFound) ||
		errors.Is(err, store.ErrAccountNotFound) ||
		errors.Is(err, store.ErrSeedNotFound)
}

func wrap(op string, err error) error {
	if err == nil || passthrough(err) {
		return err
	}
	return persistenceErr(op, err)
}

func (s *Store) NextRoundNumber(ctx context.Context) (int64, error) {
	var next int64
	err := s.db.WithContext(ctx).Raw("SELECT COALESCE(MAX(number), 0) + 1 FROM rounds").Scan(&next).Error
	return next, wrap("next round number", err)
}

func (s *Store) CreateRound(ctx context.Context, round *model.Round, seed *model.RoundSeed) error {
	if round.ID == "" {
		round.ID = uuid.NewString()
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(round).Error; err != nil {
			return err
		}
		if seed == nil {
			return nil
		}
		seed.RoundID = round.ID
		seed.CreatedAt = round.BettingStart
		return tx.Create(seed).Error
	})
	return wrap("create round", err)
}

func (s *Store) GetRound(ctx context.Context, id string) (*model.Round, error) {
	var r model.Round
	err := s.db.WithContext(ctx).Take(&r, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, game.ErrRoundNotFound
	}
	if err != nil {
		return nil, wrap("get round", err)
	}
	return &r, nil
}

func (s *Store) LatestRound(ctx context.Context) (*model.Round, error) {
	var r model.Round
	err := s.db.WithContext(ctx).Order("number DESC").Take(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, game.ErrRoundNotFound
	}
	if err != nil {
		return nil, wrap("latest round", err)
	}
	return &r, nil
}

func (s *Store) ListRounds(ctx context.Context, filter store.RoundFilter) ([]*model.Round, error) {
	filter = filter.Normalize()
	opts := repository.FindOptions{
		Order:  []repository.OrderBy{repository.Desc("number")},
		Limit:  uint(filter.Limit),
		Offset: uint(filter.Offset),
	}
	if len(filter.Phases) > 0 {
		opts.Where = repository.WhereType{"phase": filter.Phases}
	}
	rounds, err := s.rounds.Find(ctx, opts)
	return rounds, wrap("list rounds", err)
}

func (s *Store) ListUnfinishedRounds(ctx context.Context) ([]*model.Round, error) {
	rounds, err := s.rounds.Find(ctx, repository.FindOptions{
		Where: repository.WhereType{"phase": enum.NonTerminalPhases},
		Order: []repository.OrderBy{repository.Asc("number")},
	})
	return rounds, wrap("list unfinished rounds", err)
}

func (s *Store) ListStrandedRounds(ctx context.Context) ([]*model.Round, error) {
	var rounds []*model.Round
	err := s.db.WithContext(ctx).
		Where("phase = ?", enum.PhaseCancelled).
		Where("EXISTS (SELECT 1 FROM bets WHERE bets.round_id = rounds.id AND bets.outcome = ?)", enum.OutcomePending).
		Order("number ASC").
		Find(&rounds).Error
	return rounds, wrap("list stranded rounds", err)
}

// transition runs a conditional UPDATE and reloads the row. A miss is
// classified as not found or phase violation.
func (s *Store) transition(ctx context.Context, op, id string, from []enum.Phase, cond string, updates map[string]any) (*model.Round, error) {
	var out model.Round
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Model(&model.Round{}).Where("id = ? AND phase IN ?", id, from)
		if cond != "" {
			q = q.Where(cond)
		}
		res := q.Updates(updates)
		if res.Error != nil {
			return res.Error
		}

		if err := tx.Take(&out, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return game.ErrRoundNotFound
			}
			return err
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: %s round %d is %s", game.ErrPhaseViolation, op, out.Number, out.Phase)
		}
		return nil
	})
	if err != nil {
		return nil, wrap(op, err)
	}
	return &out, nil
}

func (s *Store) CloseBetting(ctx context.Context, id string, at time.Time) (*model.Round, error) {
	return s.transition(ctx, "close betting", id, []enum.Phase{enum.PhaseBetting}, "", map[string]any{
		"phase":       enum.PhaseBettingClosed,
		"betting_end": at,
		"updated_at":  at,
	})
}

func (s *Store) StartSpinning(ctx context.Context, id string, at time.Time) (*model.Round, error) {
	return s.transition(ctx, "start spinning", id, []enum.Phase{enum.PhaseBettingClosed}, "", map[string]any{
		"phase":      enum.PhaseSpinning,
		"spin_start": at,
		"updated_at": at,
	})
}

func (s *Store) FinalizeRound(ctx context.Context, id string, res store.RoundResult) (*model.Round, error) {
	totals, err := json.Marshal(res.DigitTotals)
	if err != nil {
		return nil, persistenceErr("finalize round", err)
	}
	return s.transition(ctx, "finalize round", id, enum.NonTerminalPhases, "winning_digit IS NULL", map[string]any{
		"phase":             enum.PhaseCompleted,
		"winning_digit":     res.WinningDigit,
		"winning_color":     res.WinningColor,
		"winning_parity":    res.WinningParity,
		"digit_totals":      string(totals),
		"total_wagered":     res.TotalWagered,
		"total_paid":        res.TotalPaid,
		"house_profit_loss": res.HouseProfitLoss,
		"result_time":       res.ResultTime,
		"updated_at":        res.ResultTime,
	})
}

func (s *Store) CancelRound(ctx context.Context, id string, reason string, at time.Time) (*model.Round, error) {
	return s.transition(ctx, "cancel round", id, enum.NonTerminalPhases, "", map[string]any{
		"phase":         enum.PhaseCancelled,
		"cancel_reason": reason,
		"result_time":   at,
		"updated_at":    at,
	})
}

func (s *Store) GetSeed(ctx context.Context, roundID string) (*model.RoundSeed, error) {
	var seed model.RoundSeed
	err := s.db.WithContext(ctx).Take(&seed, "round_id = ?", roundID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, store.ErrSeedNotFound
	}
	if err != nil {
		return nil, wrap("get seed", err)
	}
	return &seed, nil
}

func (s *Store) RevealSeed(ctx context.Context, roundID string, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&model.RoundSeed{}).
		Where("round_id = ? AND revealed_at IS NULL", roundID).
		Update("revealed_at", at)
	return wrap("reveal seed", res.Error)
}
