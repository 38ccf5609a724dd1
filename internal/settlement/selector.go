package settlement

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/rahul3988/game-sub000/internal/fairness"
	"github.com/rahul3988/game-sub000/internal/game"
	"github.com/rahul3988/game-sub000/pkg/common/enum"
	"github.com/rahul3988/game-sub000/pkg/model"
)

var ErrSeedRequired = errors.New("seeded digit source needs the round seed")

// DigitSelector is the single source of truth for a round's winning digit.
// A round records which selector it was opened with.
type DigitSelector interface {
	Source() enum.DigitSource
	Select(round *model.Round, seed *model.RoundSeed, totals []decimal.Decimal) (int, error)
}

func SelectorFor(source enum.DigitSource) (DigitSelector, error) {
	switch source {
	case enum.DigitSourceLeastWagered, "":
		return LeastWagered{}, nil
	case enum.DigitSourceSeeded:
		return Seeded{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown digit source %q", game.ErrInvalidSettings, source)
	}
}

// LeastWagered picks the digit with the smallest DIGIT-kind pool, lowest
// digit on ties.
type LeastWagered struct{}

func (LeastWagered) Source() enum.DigitSource { return enum.DigitSourceLeastWagered }

func (LeastWagered) Select(_ *model.Round, _ *model.RoundSeed, totals []decimal.Decimal) (int, error) {
	return game.LeastWagered(totals), nil
}

// Seeded uses the committed seed pair, so anyone can recompute the digit
// once the server seed is revealed.
type Seeded struct{}

func (Seeded) Source() enum.DigitSource { return enum.DigitSourceSeeded }

func (Seeded) Select(_ *model.Round, seed *model.RoundSeed, _ []decimal.Decimal) (int, error) {
	if seed == nil {
		return 0, ErrSeedRequired
	}
	return fairness.RevealDigit(seed.ServerSeed, seed.ClientSeed, seed.Nonce)
}
