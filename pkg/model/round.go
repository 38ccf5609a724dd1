package model

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rahul3988/game-sub000/pkg/common/enum"
)

// Round is one timed betting cycle. Game parameters are copied in at open so
// later configuration changes never touch a round in flight.
type Round struct {
	BaseModel
	Number int64      `gorm:"uniqueIndex;not null" json:"number"`
	Phase  enum.Phase `gorm:"type:varchar(16);index;not null" json:"phase"`

	BettingStart time.Time  `json:"betting_start"`
	BettingEnd   time.Time  `json:"betting_end"`
	SpinStart    *time.Time `json:"spin_start,omitempty"`
	ResultTime   *time.Time `json:"result_time,omitempty"`

	WinningDigit  *int    `json:"winning_digit,omitempty"`
	WinningColor  *string `gorm:"type:varchar(8)" json:"winning_color,omitempty"`
	WinningParity *string `gorm:"type:varchar(8)" json:"winning_parity,omitempty"`
	// DigitTotals holds the per-digit DIGIT wager totals the winner was chosen from.
	DigitTotals []decimal.Decimal `gorm:"serializer:json" json:"digit_totals,omitempty"`

	TotalWagered    decimal.Decimal `gorm:"type:numeric(20,2);not null;default:0" json:"total_wagered"`
	TotalPaid       decimal.Decimal `gorm:"type:numeric(20,2);not null;default:0" json:"total_paid"`
	HouseProfitLoss decimal.Decimal `gorm:"type:numeric(20,2);not null;default:0" json:"house_profit_loss"`

	DigitSource      enum.DigitSource `gorm:"type:varchar(16);not null" json:"digit_source"`
	BettingDuration  time.Duration    `json:"betting_duration"`
	SpinDuration     time.Duration    `json:"spin_duration"`
	ResultDuration   time.Duration    `json:"result_duration"`
	MinBet           decimal.Decimal  `gorm:"type:numeric(20,2)" json:"min_bet"`
	MaxBet           decimal.Decimal  `gorm:"type:numeric(20,2)" json:"max_bet"`
	PayoutMultiplier decimal.Decimal  `gorm:"type:numeric(10,4)" json:"payout_multiplier"`
	MaxExposure      decimal.Decimal  `gorm:"type:numeric(20,2)" json:"max_exposure"`

	CancelReason string `json:"cancel_reason,omitempty"`
}

func (Round) TableName() string {
	return "rounds"
}

// CycleDuration is the expected wall time from open to the next round.
func (r *Round) CycleDuration(closeDelay time.Duration) time.Duration {
	return r.BettingDuration + closeDelay + r.SpinDuration + r.ResultDuration
}

// RoundSeed is the fairness commitment bound 1:1 to a round. ServerSeed stays
// secret until RevealedAt is set.
type RoundSeed struct {
	RoundID        string     `gorm:"primarykey;type:uuid" json:"round_id"`
	ServerSeed     string     `gorm:"type:varchar(128);not null" json:"-"`
	ServerSeedHash string     `gorm:"type:varchar(128);not null" json:"server_seed_hash"`
	ClientSeed     string     `gorm:"type:varchar(128);not null" json:"client_seed"`
	Nonce          int64      `gorm:"not null" json:"nonce"`
	RevealedAt     *time.Time `json:"revealed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

func (RoundSeed) TableName() string {
	return "round_seeds"
}

// Revealed returns the server seed once it may be published.
func (s *RoundSeed) Revealed() string {
	if s == nil || s.RevealedAt == nil {
		return ""
	}
	return s.ServerSeed
}
