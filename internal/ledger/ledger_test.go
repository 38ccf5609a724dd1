package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"github.com/rahul3988/game-sub000/internal/cache"
	"github.com/rahul3988/game-sub000/internal/events"
	"github.com/rahul3988/game-sub000/internal/game"
	"github.com/rahul3988/game-sub000/internal/store/memory"
	"github.com/rahul3988/game-sub000/pkg/common/enum"
	"github.com/rahul3988/game-sub000/pkg/common/logger"
	"github.com/rahul3988/game-sub000/pkg/model"
	"github.com/rahul3988/game-sub000/pkg/ratelimiter"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type LedgerTestSuite struct {
	suite.Suite
	ctx    context.Context
	clock  *clockwork.FakeClock
	store  *memory.Store
	cache  cache.Cache
	bus    *events.Bus
	ledger *BetLedger
	round  *model.Round
}

func TestLedgerTestSuite(t *testing.T) {
	suite.Run(t, new(LedgerTestSuite))
}

func (s *LedgerTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.clock = clockwork.NewFakeClockAt(t0)
	s.store = memory.New()
	s.cache = cache.NewMemory(s.clock.Now)
	s.bus = events.NewBus(s.clock.Now)
	s.ledger = New(Options{
		Store:      s.store,
		Cache:      s.cache,
		Bus:        s.bus,
		Clock:      s.clock,
		CloseDelay: time.Second,
		Logger:     logger.Discard(),
	})

	s.round = s.openRound(1, "0")
	_, err := s.ledger.Deposit(s.ctx, "alice", dec("100"), "")
	s.Require().NoError(err)
}

func (s *LedgerTestSuite) openRound(number int64, maxExposure string) *model.Round {
	r := &model.Round{
		Number:           number,
		Phase:            enum.PhaseBetting,
		BettingStart:     s.clock.Now(),
		BettingEnd:       s.clock.Now().Add(30 * time.Second),
		DigitSource:      enum.DigitSourceLeastWagered,
		BettingDuration:  30 * time.Second,
		SpinDuration:     10 * time.Second,
		ResultDuration:   5 * time.Second,
		MinBet:           dec("1"),
		MaxBet:           dec("500"),
		PayoutMultiplier: dec("9"),
		MaxExposure:      dec(maxExposure),
	}
	s.Require().NoError(s.store.CreateRound(s.ctx, r, &model.RoundSeed{ServerSeedHash: "h"}))
	return r
}

func (s *LedgerTestSuite) place(kind enum.BetKind, value, amount string) (*model.Bet, error) {
	return s.ledger.PlaceBet(s.ctx, PlaceBetRequest{
		UserID:  "alice",
		RoundID: s.round.ID,
		Kind:    kind,
		Value:   value,
		Amount:  dec(amount),
	})
}

func (s *LedgerTestSuite) balance() decimal.Decimal {
	acc, err := s.store.GetAccount(s.ctx, "alice")
	s.Require().NoError(err)
	return acc.Balance
}

func (s *LedgerTestSuite) TestPlaceBetDebitsAndSetsPayout() {
	bet, err := s.place(enum.BetKindColor, " Red ", "10")
	s.Require().NoError(err)

	s.Equal("red", bet.Value)
	s.Equal(enum.OutcomePending, bet.Outcome)
	s.True(bet.PotentialPayout.Equal(dec("90")))
	s.True(s.balance().Equal(dec("90")))
}

func (s *LedgerTestSuite) TestAmountOutsideLimitsNeverDebits() {
	for _, amount := range []string{"0.99", "500.01", "0", "-5", "1.005"} {
		_, err := s.place(enum.BetKindDigit, "3", amount)
		s.ErrorIs(err, game.ErrAmountOutOfRange, amount)
	}
	s.True(s.balance().Equal(dec("100")))

	_, err := s.place(enum.BetKindDigit, "3", "1")
	s.NoError(err)
	_, err = s.place(enum.BetKindDigit, "3", "99")
	s.NoError(err)
	s.True(s.balance().IsZero())
}

func (s *LedgerTestSuite) TestBettingEndBoundary() {
	s.clock.Advance(s.round.BettingEnd.Add(-time.Millisecond).Sub(s.clock.Now()))
	_, err := s.place(enum.BetKindDigit, "1", "5")
	s.NoError(err)

	s.clock.Advance(s.round.BettingEnd.Sub(s.clock.Now()))
	_, err = s.place(enum.BetKindDigit, "1", "5")
	s.NoError(err)

	s.clock.Advance(s.round.BettingEnd.Add(time.Millisecond).Sub(s.clock.Now()))
	_, err = s.place(enum.BetKindDigit, "1", "5")
	s.ErrorIs(err, game.ErrBettingClosed)
	s.True(s.balance().Equal(dec("90")))
}

func (s *LedgerTestSuite) TestClosedRoundRejected() {
	_, err := s.store.CloseBetting(s.ctx, s.round.ID, t0.Add(time.Second))
	s.Require().NoError(err)

	_, err = s.place(enum.BetKindDigit, "1", "5")
	s.ErrorIs(err, game.ErrBettingClosed)
	s.True(s.balance().Equal(dec("100")))
}

func (s *LedgerTestSuite) TestDistinctValidationFailures() {
	_, err := s.place("SUIT", "hearts", "5")
	s.ErrorIs(err, game.ErrInvalidBetKind)

	_, err = s.place(enum.BetKindDigit, "10", "5")
	s.ErrorIs(err, game.ErrInvalidBetValue)

	_, err = s.place(enum.BetKindParity, "red", "5")
	s.ErrorIs(err, game.ErrInvalidBetValue)

	_, err = s.place(enum.BetKindDigit, "4", "101")
	s.ErrorIs(err, game.ErrInsufficientFunds)

	_, err = s.ledger.PlaceBet(s.ctx, PlaceBetRequest{
		UserID: "alice", RoundID: "missing", Kind: enum.BetKindDigit, Value: "1", Amount: dec("1"),
	})
	s.ErrorIs(err, game.ErrRoundNotFound)

	s.True(s.balance().Equal(dec("100")))
}

func (s *LedgerTestSuite) TestExposureLimit() {
	s.round = s.openRound(2, "100")

	_, err := s.place(enum.BetKindDigit, "3", "10")
	s.Require().NoError(err)

	// 10 on odd pays 90 on 3 as well, lifting digit 3 to 180.
	_, err = s.place(enum.BetKindParity, "odd", "10")
	s.ErrorIs(err, game.ErrExposureLimit)

	_, err = s.place(enum.BetKindParity, "even", "10")
	s.NoError(err)
}

func (s *LedgerTestSuite) TestRateLimited() {
	s.ledger.limiter = ratelimiter.NewKeyedLimiter(1, 2).WithClock(s.clock.Now)

	for range 2 {
		_, err := s.place(enum.BetKindDigit, "3", "1")
		s.Require().NoError(err)
	}
	_, err := s.place(enum.BetKindDigit, "3", "1")
	s.ErrorIs(err, game.ErrRateLimited)

	s.clock.Advance(time.Second)
	_, err = s.place(enum.BetKindDigit, "3", "1")
	s.NoError(err)
}

func (s *LedgerTestSuite) TestDistributionPublishedAndCached() {
	updates, cancel := s.bus.DistributionUpdated.Subscribe(4)
	defer cancel()

	_, err := s.place(enum.BetKindDigit, "3", "50")
	s.Require().NoError(err)
	_, err = s.place(enum.BetKindColor, "black", "20")
	s.Require().NoError(err)

	<-updates
	last := <-updates
	d := last.Distribution
	s.Equal(s.round.ID, d.RoundID)
	s.True(d.Digits[3].Amount.Equal(dec("50")))
	s.Equal(1, d.Colors[game.ColorBlack].Count)
	s.Equal(2, d.Total.Count)

	cached, err := s.cache.Distribution(s.ctx, s.round.ID)
	s.Require().NoError(err)
	s.True(cached.Total.Amount.Equal(dec("70")))
}

func (s *LedgerTestSuite) TestGetDistributionFallsBackToStore() {
	_, err := s.place(enum.BetKindParity, "odd", "15")
	s.Require().NoError(err)
	s.Require().NoError(s.cache.DeleteDistribution(s.ctx, s.round.ID))

	d, err := s.ledger.GetDistribution(s.ctx, s.round.ID)
	s.Require().NoError(err)
	s.True(d.Parity[game.ParityOdd].Amount.Equal(dec("15")))

	_, err = s.ledger.GetDistribution(s.ctx, "missing")
	s.ErrorIs(err, game.ErrRoundNotFound)
}

func (s *LedgerTestSuite) TestPersistenceFailureLeavesBalance() {
	s.store.FailNext("PlaceBet", errors.New("connection reset"))
	_, err := s.place(enum.BetKindDigit, "3", "10")
	s.ErrorIs(err, game.ErrPersistence)
	s.True(s.balance().Equal(dec("100")))
}

func (s *LedgerTestSuite) TestDepositValidation() {
	_, err := s.ledger.Deposit(s.ctx, "bob", dec("0"), "")
	s.ErrorIs(err, game.ErrAmountOutOfRange)

	acc, err := s.ledger.Deposit(s.ctx, "bob", dec("12.34"), "")
	s.Require().NoError(err)
	s.True(acc.Balance.Equal(dec("12.34")))
}

func (s *LedgerTestSuite) TestRunPrimesDistribution() {
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	opened, unsubscribe := s.ledger.Subscribe()
	defer unsubscribe()

	s.bus.PublishRoundOpened(events.RoundOpened{
		RoundID:      "r-next",
		Number:       9,
		BettingStart: t0,
		BettingEnd:   t0.Add(30 * time.Second),
	})
	go s.ledger.Run(ctx, opened)

	s.Eventually(func() bool {
		_, err := s.cache.Distribution(s.ctx, "r-next")
		return err == nil
	}, time.Second, 5*time.Millisecond)
}
