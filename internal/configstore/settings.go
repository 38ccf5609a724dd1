package configstore

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rahul3988/game-sub000/internal/game"
	"github.com/rahul3988/game-sub000/pkg/common/config"
	"github.com/rahul3988/game-sub000/pkg/common/enum"
)

// Settings are the game parameters a round snapshots when it opens.
type Settings struct {
	BettingDuration    time.Duration    `json:"betting_duration"`
	SpinDuration       time.Duration    `json:"spin_duration"`
	ResultDuration     time.Duration    `json:"result_duration"`
	MinBet             decimal.Decimal  `json:"min_bet"`
	MaxBet             decimal.Decimal  `json:"max_bet"`
	PayoutMultiplier   decimal.Decimal  `json:"payout_multiplier"`
	CashbackPercentage decimal.Decimal  `json:"cashback_percentage"`
	MaxExposure        decimal.Decimal  `json:"max_exposure"`
	DigitSource        enum.DigitSource `json:"digit_source"`
	CashbackTimezone   string           `json:"cashback_timezone"`
}

// FromConfig converts the boot-time YAML section into Settings.
func FromConfig(cfg config.GameConfig) (Settings, error) {
	s := Settings{
		BettingDuration:  cfg.BettingDuration,
		SpinDuration:     cfg.SpinDuration,
		ResultDuration:   cfg.ResultDuration,
		DigitSource:      cfg.DigitSource,
		CashbackTimezone: cfg.CashbackTimezone,
	}

	fields := []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"min_bet", cfg.MinBet, &s.MinBet},
		{"max_bet", cfg.MaxBet, &s.MaxBet},
		{"payout_multiplier", cfg.PayoutMultiplier, &s.PayoutMultiplier},
		{"cashback_percentage", cfg.CashbackPercentage, &s.CashbackPercentage},
		{"max_exposure", cfg.MaxExposure, &s.MaxExposure},
	}
	for _, f := range fields {
		if f.raw == "" {
			*f.dst = decimal.Zero
			continue
		}
		v, err := decimal.NewFromString(f.raw)
		if err != nil {
			return Settings{}, fmt.Errorf("%w: %s: %w", game.ErrInvalidSettings, f.name, err)
		}
		*f.dst = v
	}

	if s.DigitSource == "" {
		s.DigitSource = enum.DigitSourceLeastWagered
	}
	return s, s.Validate()
}

func (s Settings) Validate() error {
	switch {
	case s.BettingDuration <= 0 || s.SpinDuration <= 0 || s.ResultDuration <= 0:
		return fmt.Errorf("%w: phase durations must be positive", game.ErrInvalidSettings)
	case !s.MinBet.IsPositive():
		return fmt.Errorf("%w: min_bet must be positive", game.ErrInvalidSettings)
	case s.MaxBet.LessThan(s.MinBet):
		return fmt.Errorf("%w: max_bet below min_bet", game.ErrInvalidSettings)
	case s.PayoutMultiplier.LessThanOrEqual(decimal.NewFromInt(1)):
		return fmt.Errorf("%w: payout_multiplier must exceed 1", game.ErrInvalidSettings)
	case s.CashbackPercentage.IsNegative() || s.CashbackPercentage.GreaterThan(decimal.NewFromInt(1)):
		return fmt.Errorf("%w: cashback_percentage must be within [0, 1]", game.ErrInvalidSettings)
	case s.MaxExposure.IsNegative():
		return fmt.Errorf("%w: max_exposure must not be negative", game.ErrInvalidSettings)
	case s.DigitSource != enum.DigitSourceLeastWagered && s.DigitSource != enum.DigitSourceSeeded:
		return fmt.Errorf("%w: unknown digit_source %q", game.ErrInvalidSettings, s.DigitSource)
	}
	if _, err := s.Location(); err != nil {
		return fmt.Errorf("%w: cashback_timezone: %w", game.ErrInvalidSettings, err)
	}
	return nil
}

// Location resolves CashbackTimezone; empty means UTC.
func (s Settings) Location() (*time.Location, error) {
	if s.CashbackTimezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(s.CashbackTimezone)
}

// Patch carries an admin update. Nil fields keep their current value.
type Patch struct {
	BettingDuration    *string `json:"betting_duration,omitempty"`
	SpinDuration       *string `json:"spin_duration,omitempty"`
	ResultDuration     *string `json:"result_duration,omitempty"`
	MinBet             *string `json:"min_bet,omitempty"             validate:"omitempty,numeric"`
	MaxBet             *string `json:"max_bet,omitempty"             validate:"omitempty,numeric"`
	PayoutMultiplier   *string `json:"payout_multiplier,omitempty"   validate:"omitempty,numeric"`
	CashbackPercentage *string `json:"cashback_percentage,omitempty" validate:"omitempty,numeric"`
	MaxExposure        *string `json:"max_exposure,omitempty"        validate:"omitempty,numeric"`
	DigitSource        *string `json:"digit_source,omitempty"        validate:"omitempty,oneof=least_wagered seeded"`
	CashbackTimezone   *string `json:"cashback_timezone,omitempty"`
}

// Apply returns a copy of s with the patch applied.
func (p Patch) Apply(s Settings) (Settings, error) {
	durations := []struct {
		raw *string
		dst *time.Duration
	}{
		{p.BettingDuration, &s.BettingDuration},
		{p.SpinDuration, &s.SpinDuration},
		{p.ResultDuration, &s.ResultDuration},
	}
	for _, f := range durations {
		if f.raw == nil {
			continue
		}
		v, err := time.ParseDuration(*f.raw)
		if err != nil {
			return Settings{}, fmt.Errorf("%w: %w", game.ErrInvalidSettings, err)
		}
		*f.dst = v
	}

	amounts := []struct {
		raw *string
		dst *decimal.Decimal
	}{
		{p.MinBet, &s.MinBet},
		{p.MaxBet, &s.MaxBet},
		{p.PayoutMultiplier, &s.PayoutMultiplier},
		{p.CashbackPercentage, &s.CashbackPercentage},
		{p.MaxExposure, &s.MaxExposure},
	}
	for _, f := range amounts {
		if f.raw == nil {
			continue
		}
		v, err := decimal.NewFromString(*f.raw)
		if err != nil {
			return Settings{}, fmt.Errorf("%w: %w", game.ErrInvalidSettings, err)
		}
		*f.dst = v
	}

	if p.DigitSource != nil {
		s.DigitSource = enum.DigitSource(*p.DigitSource)
	}
	if p.CashbackTimezone != nil {
		s.CashbackTimezone = *p.CashbackTimezone
	}
	return s, s.Validate()
}
