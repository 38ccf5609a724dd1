package config

import (
	"time"

	"github.com/rahul3988/game-sub000/pkg/common/enum"
)

type Env string

const (
	DevEnv  Env = "dev"
	ProdEnv Env = "prod"
	StgEnv  Env = "stag"
)

type Config struct {
	Environment Env             `yaml:"env"       validate:"required,oneof=dev prod stag"`
	Game        GameConfig      `yaml:"game"      validate:"required"`
	Scheduler   SchedulerConfig `yaml:"scheduler"`
	Services    Services        `yaml:"services"  validate:"required"`
}

// GameConfig holds the boot-time game parameters. Amounts are decimal strings
// so YAML never routes money through float64.
type GameConfig struct {
	BettingDuration    time.Duration    `yaml:"betting_duration"    validate:"required,gt=0"`
	SpinDuration       time.Duration    `yaml:"spin_duration"       validate:"required,gt=0"`
	ResultDuration     time.Duration    `yaml:"result_duration"     validate:"required,gt=0"`
	MinBet             string           `yaml:"min_bet"             validate:"required,numeric"`
	MaxBet             string           `yaml:"max_bet"             validate:"required,numeric"`
	PayoutMultiplier   string           `yaml:"payout_multiplier"   validate:"required,numeric"`
	CashbackPercentage string           `yaml:"cashback_percentage" validate:"omitempty,numeric"`
	MaxExposure        string           `yaml:"max_exposure"        validate:"omitempty,numeric"`
	DigitSource        enum.DigitSource `yaml:"digit_source"        validate:"omitempty,oneof=least_wagered seeded"`
	CashbackTimezone   string           `yaml:"cashback_timezone"`
	Throttle           Throttle         `yaml:"throttle"`
}

// Throttle limits bet placement per user.
type Throttle struct {
	RPS   int `yaml:"rps"   validate:"min=0"`
	Burst int `yaml:"burst" validate:"min=0"`
}

type SchedulerConfig struct {
	CloseDelay       time.Duration `yaml:"close_delay"`
	RecoveryInterval time.Duration `yaml:"recovery_interval"`
}
