package game

import (
	"strconv"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/rahul3988/game-sub000/pkg/common/enum"
	"github.com/rahul3988/game-sub000/pkg/model"
)

type Bucket struct {
	Count  int             `json:"count"`
	Amount decimal.Decimal `json:"amount"`
}

func (b *Bucket) add(amount decimal.Decimal) {
	b.Count++
	b.Amount = b.Amount.Add(amount)
}

// Distribution is the live aggregate of PENDING wagers on a round.
type Distribution struct {
	RoundID string             `json:"round_id"`
	Digits  [DigitCount]Bucket `json:"digits"`
	Colors  map[string]Bucket  `json:"colors"`
	Parity  map[string]Bucket  `json:"parity"`
	Total   Bucket             `json:"total"`
}

func EmptyDistribution(roundID string) Distribution {
	return Distribution{
		RoundID: roundID,
		Colors:  map[string]Bucket{ColorRed: {}, ColorBlack: {}},
		Parity:  map[string]Bucket{ParityOdd: {}, ParityEven: {}},
	}
}

// BuildDistribution aggregates the pending bets of one round.
func BuildDistribution(roundID string, bets []*model.Bet) Distribution {
	d := EmptyDistribution(roundID)
	for _, b := range bets {
		if b.RoundID != roundID || !b.IsPending() {
			continue
		}
		d.Total.add(b.Amount)
		switch b.Kind {
		case enum.BetKindDigit:
			digit, err := strconv.Atoi(b.Value)
			if err != nil || digit < 0 || digit >= DigitCount {
				continue
			}
			d.Digits[digit].add(b.Amount)
		case enum.BetKindColor:
			bucket := d.Colors[b.Value]
			bucket.add(b.Amount)
			d.Colors[b.Value] = bucket
		case enum.BetKindParity:
			bucket := d.Parity[b.Value]
			bucket.add(b.Amount)
			d.Parity[b.Value] = bucket
		}
	}
	return d
}

// DigitTotals sums DIGIT-kind amounts per digit over bets that still count
// toward the round (everything except refunds).
func DigitTotals(bets []*model.Bet) []decimal.Decimal {
	totals := make([]decimal.Decimal, DigitCount)
	for i := range totals {
		totals[i] = decimal.Zero
	}
	for _, b := range bets {
		if b.Kind != enum.BetKindDigit || b.Outcome == enum.OutcomeRefunded {
			continue
		}
		digit, err := strconv.Atoi(b.Value)
		if err != nil || digit < 0 || digit >= DigitCount {
			continue
		}
		totals[digit] = totals[digit].Add(b.Amount)
	}
	return totals
}

// LeastWagered returns the digit with the smallest total; ties go to the
// lowest digit. Missing entries count as zero.
func LeastWagered(totals []decimal.Decimal) int {
	best := 0
	bestAmount := totalAt(totals, 0)
	for d := 1; d < DigitCount; d++ {
		if amt := totalAt(totals, d); amt.LessThan(bestAmount) {
			best, bestAmount = d, amt
		}
	}
	return best
}

func totalAt(totals []decimal.Decimal, d int) decimal.Decimal {
	if d < len(totals) {
		return totals[d]
	}
	return decimal.Zero
}

// WorstCaseExposure is the largest total potential payout any single digit
// would trigger across the given pending bets.
func WorstCaseExposure(bets []*model.Bet) decimal.Decimal {
	exposures := lo.Times(DigitCount, func(digit int) decimal.Decimal {
		return lo.Reduce(bets, func(acc decimal.Decimal, b *model.Bet, _ int) decimal.Decimal {
			if b.IsPending() && Wins(b.Kind, b.Value, digit) {
				return acc.Add(b.PotentialPayout)
			}
			return acc
		}, decimal.Zero)
	})
	return lo.MaxBy(exposures, func(a, b decimal.Decimal) bool { return a.GreaterThan(b) })
}
