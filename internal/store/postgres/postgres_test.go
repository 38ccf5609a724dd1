package postgres

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"github.com/rahul3988/game-sub000/internal/game"
	"github.com/rahul3988/game-sub000/internal/store"
	"github.com/rahul3988/game-sub000/pkg/common/config"
	"github.com/rahul3988/game-sub000/pkg/common/enum"
	"github.com/rahul3988/game-sub000/pkg/infra"
	"github.com/rahul3988/game-sub000/pkg/migrations"
	"github.com/rahul3988/game-sub000/pkg/model"
)

// Runs against a disposable database named by ROULETTE_TEST_DATABASE_URL.
// Every test truncates all tables.
const dsnEnv = "ROULETTE_TEST_DATABASE_URL"

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type PostgresStoreTestSuite struct {
	suite.Suite
	ctx   context.Context
	store *Store
	round *model.Round
}

func TestPostgresStoreTestSuite(t *testing.T) {
	if os.Getenv(dsnEnv) == "" {
		t.Skipf("%s not set", dsnEnv)
	}
	suite.Run(t, new(PostgresStoreTestSuite))
}

func (s *PostgresStoreTestSuite) SetupSuite() {
	s.ctx = context.Background()
	db, err := infra.NewDBConnection(config.DatabaseConfig{URL: os.Getenv(dsnEnv)}, "test")
	s.Require().NoError(err)

	sqlDB, err := db.DB()
	s.Require().NoError(err)
	s.Require().NoError(migrations.Up(sqlDB))

	s.store = New(db)
}

func (s *PostgresStoreTestSuite) TearDownSuite() {
	if s.store != nil {
		_ = s.store.Close()
	}
}

func (s *PostgresStoreTestSuite) SetupTest() {
	s.Require().NoError(s.store.db.Exec(
		"TRUNCATE ledger_entries, bets, round_seeds, rounds, accounts").Error)

	s.round = &model.Round{
		Number:           1,
		Phase:            enum.PhaseBetting,
		BettingStart:     t0,
		BettingEnd:       t0.Add(30 * time.Second),
		DigitSource:      enum.DigitSourceLeastWagered,
		BettingDuration:  30 * time.Second,
		SpinDuration:     10 * time.Second,
		ResultDuration:   5 * time.Second,
		MinBet:           dec("1"),
		MaxBet:           dec("1000"),
		PayoutMultiplier: dec("9"),
	}
	s.Require().NoError(s.store.CreateRound(s.ctx, s.round, &model.RoundSeed{
		ServerSeed: "aa", ServerSeedHash: "h", ClientSeed: "c", Nonce: 1,
	}))

	_, err := s.store.Deposit(s.ctx, "alice", dec("100"), "deposit:alice:1", t0)
	s.Require().NoError(err)
}

func (s *PostgresStoreTestSuite) newBet(amount string) *model.Bet {
	return &model.Bet{
		UserID:          "alice",
		RoundID:         s.round.ID,
		Kind:            enum.BetKindDigit,
		Value:           "3",
		Amount:          dec(amount),
		PotentialPayout: dec(amount).Mul(dec("9")),
	}
}

func (s *PostgresStoreTestSuite) balance() decimal.Decimal {
	acc, err := s.store.GetAccount(s.ctx, "alice")
	s.Require().NoError(err)
	return acc.Balance
}

func (s *PostgresStoreTestSuite) TestPing() {
	s.NoError(s.store.Ping(s.ctx))
}

func (s *PostgresStoreTestSuite) TestNextRoundNumber() {
	n, err := s.store.NextRoundNumber(s.ctx)
	s.Require().NoError(err)
	s.Equal(int64(2), n)
}

func (s *PostgresStoreTestSuite) TestPlaceAndSettle() {
	bet := s.newBet("40")
	s.Require().NoError(s.store.PlaceBet(s.ctx, bet, t0.Add(time.Second)))
	s.True(s.balance().Equal(dec("60")))

	applied, err := s.store.SettleBet(s.ctx, bet.ID, enum.OutcomeWon, dec("360"), t0.Add(time.Minute))
	s.Require().NoError(err)
	s.True(applied)
	s.True(s.balance().Equal(dec("420")))

	applied, err = s.store.SettleBet(s.ctx, bet.ID, enum.OutcomeWon, dec("360"), t0.Add(time.Minute))
	s.Require().NoError(err)
	s.False(applied)
	s.True(s.balance().Equal(dec("420")))
}

func (s *PostgresStoreTestSuite) TestPlaceBetRejections() {
	s.ErrorIs(s.store.PlaceBet(s.ctx, s.newBet("500"), t0), game.ErrInsufficientFunds)
	s.ErrorIs(s.store.PlaceBet(s.ctx, s.newBet("1"), t0.Add(31*time.Second)), game.ErrBettingClosed)

	missing := s.newBet("1")
	missing.RoundID = "00000000-0000-0000-0000-000000000000"
	s.ErrorIs(s.store.PlaceBet(s.ctx, missing, t0), game.ErrRoundNotFound)
}

func (s *PostgresStoreTestSuite) TestConcurrentPlaceNeverOverdraws() {
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.store.PlaceBet(s.ctx, s.newBet("30"), t0.Add(time.Second))
		}()
	}
	wg.Wait()
	close(errs)

	placed := 0
	for err := range errs {
		if err == nil {
			placed++
			continue
		}
		s.ErrorIs(err, game.ErrInsufficientFunds)
	}
	s.Equal(3, placed)
	s.True(s.balance().Equal(dec("10")))
}

func (s *PostgresStoreTestSuite) TestPlaceBetRacesCloseBetting() {
	const bettors = 40
	closeAt := t0.Add(30 * time.Second)

	type result struct {
		startedAfterClose bool
		err               error
	}
	var (
		wg      sync.WaitGroup
		closed  atomic.Bool
		start   = make(chan struct{})
		results = make(chan result, bettors)
	)
	for i := range bettors {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			after := closed.Load()
			err := s.store.PlaceBet(s.ctx, s.newBet("1"), t0.Add(time.Duration(i)*500*time.Millisecond))
			results <- result{startedAfterClose: after, err: err}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-start
		_, err := s.store.CloseBetting(s.ctx, s.round.ID, closeAt)
		s.NoError(err)
		closed.Store(true)
	}()
	close(start)
	wg.Wait()
	close(results)

	admitted := 0
	for r := range results {
		if r.err == nil {
			s.False(r.startedAfterClose, "bet admitted after betting closed")
			admitted++
			continue
		}
		s.ErrorIs(r.err, game.ErrBettingClosed)
	}

	round, err := s.store.GetRound(s.ctx, s.round.ID)
	s.Require().NoError(err)
	s.Equal(enum.PhaseBettingClosed, round.Phase)

	bets, err := s.store.RoundBets(s.ctx, s.round.ID)
	s.Require().NoError(err)
	s.Len(bets, admitted)
	for _, b := range bets {
		s.False(b.PlacedAt.After(round.BettingEnd), "bet %s placed at %s after close %s", b.ID, b.PlacedAt, round.BettingEnd)
	}
	s.True(s.balance().Equal(dec("100").Sub(decimal.NewFromInt(int64(admitted)))))
	s.ErrorIs(s.store.PlaceBet(s.ctx, s.newBet("1"), t0.Add(time.Second)), game.ErrBettingClosed)
}

func (s *PostgresStoreTestSuite) TestListStrandedRounds() {
	kept := s.newBet("10")
	s.Require().NoError(s.store.PlaceBet(s.ctx, kept, t0))
	refunded := s.newBet("5")
	s.Require().NoError(s.store.PlaceBet(s.ctx, refunded, t0))

	stranded, err := s.store.ListStrandedRounds(s.ctx)
	s.Require().NoError(err)
	s.Empty(stranded, "open rounds are not stranded")

	_, err = s.store.CancelRound(s.ctx, s.round.ID, "maintenance", t0.Add(time.Second))
	s.Require().NoError(err)
	_, err = s.store.RefundBet(s.ctx, refunded.ID, "emergency stop: maintenance", t0.Add(time.Second))
	s.Require().NoError(err)

	stranded, err = s.store.ListStrandedRounds(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(stranded, 1)
	s.Equal(s.round.ID, stranded[0].ID)
	s.Equal("maintenance", stranded[0].CancelReason)

	_, err = s.store.RefundBet(s.ctx, kept.ID, "emergency stop: maintenance", t0.Add(2*time.Second))
	s.Require().NoError(err)
	stranded, err = s.store.ListStrandedRounds(s.ctx)
	s.Require().NoError(err)
	s.Empty(stranded)
}

func (s *PostgresStoreTestSuite) TestLifecycleTransitions() {
	_, err := s.store.StartSpinning(s.ctx, s.round.ID, t0)
	s.ErrorIs(err, game.ErrPhaseViolation)

	r, err := s.store.CloseBetting(s.ctx, s.round.ID, t0.Add(30*time.Second))
	s.Require().NoError(err)
	s.Equal(enum.PhaseBettingClosed, r.Phase)

	r, err = s.store.StartSpinning(s.ctx, s.round.ID, t0.Add(33*time.Second))
	s.Require().NoError(err)
	s.Equal(enum.PhaseSpinning, r.Phase)

	res := store.RoundResult{
		WinningDigit:  4,
		WinningColor:  game.ColorRed,
		WinningParity: game.ParityEven,
		DigitTotals:   make([]decimal.Decimal, game.DigitCount),
		ResultTime:    t0.Add(43 * time.Second),
	}
	r, err = s.store.FinalizeRound(s.ctx, s.round.ID, res)
	s.Require().NoError(err)
	s.Equal(enum.PhaseCompleted, r.Phase)
	s.Require().NotNil(r.WinningDigit)
	s.Equal(4, *r.WinningDigit)
	s.Len(r.DigitTotals, game.DigitCount)

	_, err = s.store.FinalizeRound(s.ctx, s.round.ID, res)
	s.ErrorIs(err, game.ErrPhaseViolation)
	_, err = s.store.CancelRound(s.ctx, s.round.ID, "late", t0.Add(time.Minute))
	s.ErrorIs(err, game.ErrPhaseViolation)

	unfinished, err := s.store.ListUnfinishedRounds(s.ctx)
	s.Require().NoError(err)
	s.Empty(unfinished)
}

func (s *PostgresStoreTestSuite) TestRefundAfterCancel() {
	bet := s.newBet("25")
	s.Require().NoError(s.store.PlaceBet(s.ctx, bet, t0))

	_, err := s.store.CancelRound(s.ctx, s.round.ID, "emergency", t0.Add(time.Second))
	s.Require().NoError(err)

	applied, err := s.store.RefundBet(s.ctx, bet.ID, "emergency", t0.Add(time.Second))
	s.Require().NoError(err)
	s.True(applied)
	s.True(s.balance().Equal(dec("100")))

	s.ErrorIs(s.store.PlaceBet(s.ctx, s.newBet("1"), t0.Add(2*time.Second)), game.ErrBettingClosed)
}

func (s *PostgresStoreTestSuite) TestDailyActivityAndCashback() {
	bet := s.newBet("50")
	s.Require().NoError(s.store.PlaceBet(s.ctx, bet, t0))
	_, err := s.store.SettleBet(s.ctx, bet.ID, enum.OutcomeLost, decimal.Zero, t0.Add(time.Minute))
	s.Require().NoError(err)

	activity, err := s.store.DailyActivity(s.ctx, t0.Add(-time.Hour), t0.Add(time.Hour))
	s.Require().NoError(err)
	s.Require().Len(activity, 1)
	s.True(activity[0].NetLoss().Equal(dec("50")))

	ref := store.CashbackReference("alice", "2025-03-01", "2.50")
	applied, err := s.store.CreditCashback(s.ctx, "alice", dec("2.50"), ref, t0.Add(2*time.Minute))
	s.Require().NoError(err)
	s.True(applied)

	applied, err = s.store.CreditCashback(s.ctx, "alice", dec("2.50"), ref, t0.Add(3*time.Minute))
	s.Require().NoError(err)
	s.False(applied)

	acc, err := s.store.GetAccount(s.ctx, "alice")
	s.Require().NoError(err)
	s.True(acc.GameCredit.Equal(dec("2.50")))
}

func (s *PostgresStoreTestSuite) TestListRounds() {
	rounds, err := s.store.ListRounds(s.ctx, store.RoundFilter{Phases: []enum.Phase{enum.PhaseBetting}})
	s.Require().NoError(err)
	s.Require().Len(rounds, 1)
	s.Equal(s.round.ID, rounds[0].ID)

	rounds, err = s.store.ListRounds(s.ctx, store.RoundFilter{Phases: []enum.Phase{enum.PhaseCompleted}})
	s.Require().NoError(err)
	s.Empty(rounds)
}
