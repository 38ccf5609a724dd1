package game

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/rahul3988/game-sub000/pkg/common/enum"
)

const (
	ColorRed   = "red"
	ColorBlack = "black"
	ParityOdd  = "odd"
	ParityEven = "even"

	DigitCount = 10
)

var colorTable = [DigitCount]string{
	ColorRed,   // 0
	ColorBlack, // 1
	ColorBlack, // 2
	ColorRed,   // 3
	ColorRed,   // 4
	ColorBlack, // 5
	ColorBlack, // 6
	ColorRed,   // 7
	ColorRed,   // 8
	ColorBlack, // 9
}

func ColorOf(digit int) string {
	return colorTable[digit]
}

func ParityOf(digit int) string {
	if digit%2 == 1 {
		return ParityOdd
	}
	return ParityEven
}

// NormalizeBet checks that value is well formed for kind and returns its
// canonical spelling.
func NormalizeBet(kind enum.BetKind, value string) (string, error) {
	if !kind.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidBetKind, kind)
	}
	v := strings.ToLower(strings.TrimSpace(value))

	switch kind {
	case enum.BetKindDigit:
		d, err := strconv.Atoi(v)
		if err != nil || d < 0 || d >= DigitCount || len(v) != 1 {
			return "", fmt.Errorf("%w: digit must be 0-9, got %q", ErrInvalidBetValue, value)
		}
		return v, nil
	case enum.BetKindColor:
		if v != ColorRed && v != ColorBlack {
			return "", fmt.Errorf("%w: color must be red or black, got %q", ErrInvalidBetValue, value)
		}
	case enum.BetKindParity:
		if v != ParityOdd && v != ParityEven {
			return "", fmt.Errorf("%w: parity must be odd or even, got %q", ErrInvalidBetValue, value)
		}
	}
	return v, nil
}

// Wins reports whether a normalized bet wins against digit.
func Wins(kind enum.BetKind, value string, digit int) bool {
	switch kind {
	case enum.BetKindDigit:
		return value == strconv.Itoa(digit)
	case enum.BetKindColor:
		return value == ColorOf(digit)
	case enum.BetKindParity:
		return (value == ParityOdd) == (digit%2 == 1)
	}
	return false
}

func PotentialPayout(amount, multiplier decimal.Decimal) decimal.Decimal {
	return amount.Mul(multiplier).Round(2)
}

// CheckAmount enforces the inclusive [min, max] bet window.
func CheckAmount(amount, lo, hi decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrAmountOutOfRange)
	}
	if amount.LessThan(lo) || amount.GreaterThan(hi) {
		return fmt.Errorf("%w: %s not in [%s, %s]", ErrAmountOutOfRange, amount, lo, hi)
	}
	if !amount.Equal(amount.Round(2)) {
		return fmt.Errorf("%w: at most two decimal places", ErrAmountOutOfRange)
	}
	return nil
}
