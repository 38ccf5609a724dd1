package settlement

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"github.com/rahul3988/game-sub000/internal/cache"
	"github.com/rahul3988/game-sub000/internal/cashback"
	"github.com/rahul3988/game-sub000/internal/events"
	"github.com/rahul3988/game-sub000/internal/fairness"
	"github.com/rahul3988/game-sub000/internal/game"
	"github.com/rahul3988/game-sub000/internal/store/memory"
	"github.com/rahul3988/game-sub000/pkg/common/enum"
	"github.com/rahul3988/game-sub000/pkg/common/logger"
	"github.com/rahul3988/game-sub000/pkg/model"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type countingCashback struct{ calls int }

func (c *countingCashback) Process(context.Context) (cashback.Summary, error) {
	c.calls++
	return cashback.Summary{}, nil
}

type EngineTestSuite struct {
	suite.Suite
	ctx      context.Context
	clock    *clockwork.FakeClock
	store    *memory.Store
	cache    cache.Cache
	bus      *events.Bus
	cashback *countingCashback
	engine   *Engine
}

func TestEngineTestSuite(t *testing.T) {
	suite.Run(t, new(EngineTestSuite))
}

func (s *EngineTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.clock = clockwork.NewFakeClockAt(t0)
	s.store = memory.New()
	s.cache = cache.NewMemory(s.clock.Now)
	s.bus = events.NewBus(s.clock.Now)
	s.cashback = &countingCashback{}
	s.engine = NewEngine(Options{
		Store:    s.store,
		Cache:    s.cache,
		Bus:      s.bus,
		Clock:    s.clock,
		Cashback: s.cashback,
		Logger:   logger.Discard(),
	})
}

// newRound opens a round with a real seed commitment, ready for bets.
func (s *EngineTestSuite) newRound(number int64, source enum.DigitSource, multiplier string) *model.Round {
	pair, err := fairness.NewOracle().NewSeedPair()
	s.Require().NoError(err)

	r := &model.Round{
		Number:           number,
		Phase:            enum.PhaseBetting,
		BettingStart:     s.clock.Now(),
		BettingEnd:       s.clock.Now().Add(30 * time.Second),
		DigitSource:      source,
		BettingDuration:  30 * time.Second,
		SpinDuration:     10 * time.Second,
		ResultDuration:   5 * time.Second,
		MinBet:           dec("1"),
		MaxBet:           dec("1000"),
		PayoutMultiplier: dec(multiplier),
	}
	s.Require().NoError(s.store.CreateRound(s.ctx, r, &model.RoundSeed{
		ServerSeed:     pair.ServerSeed,
		ServerSeedHash: pair.ServerSeedHash,
		ClientSeed:     pair.ClientSeed,
		Nonce:          number,
	}))
	return r
}

func (s *EngineTestSuite) bet(r *model.Round, user string, kind enum.BetKind, value, amount string) *model.Bet {
	_, err := s.store.Deposit(s.ctx, user, dec(amount), "deposit:"+user+":"+value+":"+amount+":"+r.ID, s.clock.Now())
	s.Require().NoError(err)

	b := &model.Bet{
		UserID:          user,
		RoundID:         r.ID,
		Kind:            kind,
		Value:           value,
		Amount:          dec(amount),
		PotentialPayout: game.PotentialPayout(dec(amount), r.PayoutMultiplier),
	}
	s.Require().NoError(s.store.PlaceBet(s.ctx, b, s.clock.Now()))
	return b
}

func (s *EngineTestSuite) spin(r *model.Round) {
	_, err := s.store.CloseBetting(s.ctx, r.ID, s.clock.Now())
	s.Require().NoError(err)
	_, err = s.store.StartSpinning(s.ctx, r.ID, s.clock.Now().Add(time.Second))
	s.Require().NoError(err)
	s.clock.Advance(11 * time.Second)
}

func (s *EngineTestSuite) balance(user string) decimal.Decimal {
	acc, err := s.store.GetAccount(s.ctx, user)
	s.Require().NoError(err)
	return acc.Balance
}

func (s *EngineTestSuite) TestLeastWageredScenario() {
	r := s.newRound(1, enum.DigitSourceLeastWagered, "9")
	b1 := s.bet(r, "alice", enum.BetKindDigit, "3", "50")
	b2 := s.bet(r, "bob", enum.BetKindDigit, "7", "20")
	s.spin(r)

	final, err := s.engine.Settle(s.ctx, r.ID)
	s.Require().NoError(err)

	s.Equal(enum.PhaseCompleted, final.Phase)
	s.Require().NotNil(final.WinningDigit)
	s.Equal(0, *final.WinningDigit)
	s.Equal(game.ColorRed, *final.WinningColor)
	s.Equal(game.ParityEven, *final.WinningParity)
	s.True(final.TotalWagered.Equal(dec("70")))
	s.True(final.TotalPaid.IsZero())
	s.True(final.HouseProfitLoss.Equal(dec("70")))

	bets, err := s.store.RoundBets(s.ctx, r.ID)
	s.Require().NoError(err)
	for _, b := range bets {
		s.Equal(enum.OutcomeLost, b.Outcome, b.ID)
	}
	s.True(s.balance("alice").IsZero())
	s.True(s.balance("bob").IsZero())
	s.NotEqual(b1.ID, b2.ID)
}

func (s *EngineTestSuite) TestColorBetPaysMultiplier() {
	r := s.newRound(1, enum.DigitSourceLeastWagered, "5")
	s.bet(r, "alice", enum.BetKindColor, "red", "100")
	s.spin(r)

	final, err := s.engine.Settle(s.ctx, r.ID)
	s.Require().NoError(err)
	s.Equal(0, *final.WinningDigit)
	s.True(final.TotalPaid.Equal(dec("500")))
	s.True(final.HouseProfitLoss.Equal(dec("-400")))
	s.True(s.balance("alice").Equal(dec("500")))

	// One unit on 0 makes 1 (black) the least wagered digit.
	r2 := s.newRound(2, enum.DigitSourceLeastWagered, "5")
	s.bet(r2, "carol", enum.BetKindColor, "red", "100")
	s.bet(r2, "dave", enum.BetKindDigit, "0", "1")
	s.spin(r2)

	final, err = s.engine.Settle(s.ctx, r2.ID)
	s.Require().NoError(err)
	s.Equal(1, *final.WinningDigit)
	s.True(s.balance("carol").IsZero())
}

func (s *EngineTestSuite) TestTotalsMatchBets() {
	r := s.newRound(1, enum.DigitSourceLeastWagered, "2")
	s.bet(r, "a", enum.BetKindDigit, "0", "5")
	s.bet(r, "a", enum.BetKindDigit, "1", "4")
	s.bet(r, "b", enum.BetKindParity, "odd", "10")
	s.bet(r, "c", enum.BetKindParity, "even", "7.5")
	s.bet(r, "d", enum.BetKindColor, "black", "3")
	s.spin(r)

	final, err := s.engine.Settle(s.ctx, r.ID)
	s.Require().NoError(err)

	bets, err := s.store.RoundBets(s.ctx, r.ID)
	s.Require().NoError(err)
	wagered, paid := decimal.Zero, decimal.Zero
	for _, b := range bets {
		s.False(b.IsPending())
		wagered = wagered.Add(b.Amount)
		paid = paid.Add(b.ActualPayout)
	}
	s.True(final.TotalWagered.Equal(wagered))
	s.True(final.TotalPaid.Equal(paid))
	s.True(final.HouseProfitLoss.Equal(final.TotalWagered.Sub(final.TotalPaid)))

	// Digit 2 has no DIGIT wager and is the lowest such digit.
	s.Equal(2, *final.WinningDigit)
	s.Equal(game.LeastWagered(final.DigitTotals), *final.WinningDigit)
}

func (s *EngineTestSuite) TestSettleTwiceNeverDoubleCredits() {
	r := s.newRound(1, enum.DigitSourceLeastWagered, "9")
	s.bet(r, "alice", enum.BetKindDigit, "0", "10")
	s.bet(r, "bob", enum.BetKindDigit, "1", "20")
	s.spin(r)

	first, err := s.engine.Settle(s.ctx, r.ID)
	s.Require().NoError(err)
	s.Equal(0, *first.WinningDigit)
	s.True(s.balance("alice").Equal(dec("90")))

	second, err := s.engine.Settle(s.ctx, r.ID)
	s.Require().NoError(err)
	s.Equal(*first.WinningDigit, *second.WinningDigit)
	s.True(s.balance("alice").Equal(dec("90")))
	s.Equal(1, s.cashback.calls)
}

func (s *EngineTestSuite) TestResumesPartialSettlement() {
	r := s.newRound(1, enum.DigitSourceLeastWagered, "9")
	win := s.bet(r, "alice", enum.BetKindParity, "even", "10")
	s.bet(r, "bob", enum.BetKindDigit, "5", "20")
	s.spin(r)

	// A previous attempt credited alice and died before finalizing.
	applied, err := s.store.SettleBet(s.ctx, win.ID, enum.OutcomeWon, win.PotentialPayout, s.clock.Now())
	s.Require().NoError(err)
	s.Require().True(applied)

	final, err := s.engine.Settle(s.ctx, r.ID)
	s.Require().NoError(err)
	s.Equal(0, *final.WinningDigit)
	s.True(s.balance("alice").Equal(dec("90")))
	s.True(final.TotalWagered.Equal(dec("30")))
	s.True(final.TotalPaid.Equal(dec("90")))

	payouts := 0
	for _, e := range s.store.Ledger() {
		if e.Kind == enum.EntryPayoutCredit {
			payouts++
		}
	}
	s.Equal(1, payouts)
}

func (s *EngineTestSuite) TestFailedSettleIsRetriable() {
	r := s.newRound(1, enum.DigitSourceLeastWagered, "9")
	s.bet(r, "alice", enum.BetKindDigit, "0", "10")
	s.spin(r)

	s.store.FailNext("SettleBet", assertErr("db down"))
	_, err := s.engine.Settle(s.ctx, r.ID)
	s.ErrorIs(err, game.ErrPersistence)

	stuck, err := s.store.GetRound(s.ctx, r.ID)
	s.Require().NoError(err)
	s.Equal(enum.PhaseSpinning, stuck.Phase)

	final, err := s.engine.Settle(s.ctx, r.ID)
	s.Require().NoError(err)
	s.Equal(enum.PhaseCompleted, final.Phase)
	s.True(s.balance("alice").Equal(dec("90")))
}

func (s *EngineTestSuite) TestRejectsBettingAndCancelledRounds() {
	r := s.newRound(1, enum.DigitSourceLeastWagered, "9")
	_, err := s.engine.Settle(s.ctx, r.ID)
	s.ErrorIs(err, game.ErrPhaseViolation)

	_, err = s.store.CancelRound(s.ctx, r.ID, "stop", s.clock.Now())
	s.Require().NoError(err)
	_, err = s.engine.Settle(s.ctx, r.ID)
	s.ErrorIs(err, game.ErrPhaseViolation)

	_, err = s.engine.Settle(s.ctx, "missing")
	s.ErrorIs(err, game.ErrRoundNotFound)
}

func (s *EngineTestSuite) TestSettlePublishesAndReveals() {
	completed, cancel := s.bus.RoundCompleted.Subscribe(1)
	defer cancel()

	r := s.newRound(1, enum.DigitSourceLeastWagered, "9")
	s.Require().NoError(s.cache.SetDistribution(s.ctx, game.EmptyDistribution(r.ID), time.Minute))
	s.spin(r)

	_, err := s.engine.Settle(s.ctx, r.ID)
	s.Require().NoError(err)

	seed, err := s.store.GetSeed(s.ctx, r.ID)
	s.Require().NoError(err)
	s.NotNil(seed.RevealedAt)

	e := <-completed
	s.Equal(r.ID, e.Round.ID)
	s.Equal(seed.ServerSeed, e.ServerSeed)

	_, err = s.cache.Distribution(s.ctx, r.ID)
	s.ErrorIs(err, cache.ErrMiss)
}

func (s *EngineTestSuite) TestRetriedSettleRevealsSeed() {
	r := s.newRound(1, enum.DigitSourceLeastWagered, "9")
	s.bet(r, "alice", enum.BetKindDigit, "2", "10")
	s.spin(r)

	s.store.FailNext("RevealSeed", assertErr("connection reset"))
	final, err := s.engine.Settle(s.ctx, r.ID)
	s.Require().NoError(err)
	s.Equal(enum.PhaseCompleted, final.Phase)

	seed, err := s.store.GetSeed(s.ctx, r.ID)
	s.Require().NoError(err)
	s.Nil(seed.RevealedAt)

	again, err := s.engine.Settle(s.ctx, r.ID)
	s.Require().NoError(err)
	s.Equal(*final.WinningDigit, *again.WinningDigit)

	seed, err = s.store.GetSeed(s.ctx, r.ID)
	s.Require().NoError(err)
	s.NotNil(seed.RevealedAt)

	v, err := s.engine.VerifyRound(s.ctx, r.ID)
	s.Require().NoError(err)
	s.True(v.Valid(), v.Detail)
}

func (s *EngineTestSuite) TestVerifyRevealsSeedOfCompletedRound() {
	r := s.newRound(1, enum.DigitSourceSeeded, "9")
	s.spin(r)

	s.store.FailNext("RevealSeed", assertErr("connection reset"))
	_, err := s.engine.Settle(s.ctx, r.ID)
	s.Require().NoError(err)

	s.store.FailNext("RevealSeed", assertErr("connection reset"))
	_, err = s.engine.VerifyRound(s.ctx, r.ID)
	s.ErrorIs(err, game.ErrPersistence)

	v, err := s.engine.VerifyRound(s.ctx, r.ID)
	s.Require().NoError(err)
	s.True(v.Valid(), v.Detail)
	s.NotEmpty(v.ServerSeed)
}

func (s *EngineTestSuite) TestSeededSourceUsesReveal() {
	r := s.newRound(1, enum.DigitSourceSeeded, "9")
	s.bet(r, "alice", enum.BetKindDigit, "4", "10")
	s.spin(r)

	final, err := s.engine.Settle(s.ctx, r.ID)
	s.Require().NoError(err)

	seed, err := s.store.GetSeed(s.ctx, r.ID)
	s.Require().NoError(err)
	want, err := fairness.RevealDigit(seed.ServerSeed, seed.ClientSeed, seed.Nonce)
	s.Require().NoError(err)
	s.Equal(want, *final.WinningDigit)
	s.Equal(enum.DigitSourceSeeded, final.DigitSource)
}

func (s *EngineTestSuite) TestVerifyRound() {
	for i, source := range []enum.DigitSource{enum.DigitSourceLeastWagered, enum.DigitSourceSeeded} {
		r := s.newRound(int64(i+1), source, "9")
		s.bet(r, "alice", enum.BetKindDigit, "6", "10")

		_, err := s.engine.VerifyRound(s.ctx, r.ID)
		s.ErrorIs(err, game.ErrPhaseViolation, "unsettled round must not verify")

		s.spin(r)
		_, err = s.engine.Settle(s.ctx, r.ID)
		s.Require().NoError(err)

		v, err := s.engine.VerifyRound(s.ctx, r.ID)
		s.Require().NoError(err)
		s.True(v.Valid(), "%s: %s", source, v.Detail)
	}
}

func (s *EngineTestSuite) TestCheckRejectsTampering() {
	r := s.newRound(1, enum.DigitSourceSeeded, "9")
	s.spin(r)
	final, err := s.engine.Settle(s.ctx, r.ID)
	s.Require().NoError(err)
	seed, err := s.store.GetSeed(s.ctx, r.ID)
	s.Require().NoError(err)

	tamperedSeed := *seed
	tamperedSeed.ClientSeed = "00" + seed.ClientSeed[2:]
	if tamperedSeed.ClientSeed == seed.ClientSeed {
		tamperedSeed.ClientSeed = "ff" + seed.ClientSeed[2:]
	}
	v, err := Check(final, &tamperedSeed)
	s.Require().NoError(err)
	s.True(v.CommitmentValid)

	otherPair, err := fairness.NewOracle().NewSeedPair()
	s.Require().NoError(err)
	forged := *seed
	forged.ServerSeed = otherPair.ServerSeed
	v, err = Check(final, &forged)
	s.Require().NoError(err)
	s.False(v.CommitmentValid)
	s.False(v.Valid())

	wrongDigit := *final
	d := (*final.WinningDigit + 1) % game.DigitCount
	wrongDigit.WinningDigit = &d
	v, err = Check(&wrongDigit, seed)
	s.Require().NoError(err)
	s.False(v.DigitValid)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
