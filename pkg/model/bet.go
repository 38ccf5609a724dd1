package model

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rahul3988/game-sub000/pkg/common/enum"
)

type Bet struct {
	BaseModel
	UserID  string       `gorm:"type:varchar(64);index;not null" json:"user_id"`
	RoundID string       `gorm:"type:uuid;index;not null" json:"round_id"`
	Kind    enum.BetKind `gorm:"type:varchar(8);not null" json:"kind"`
	// Value is a digit "0".."9", "red"/"black" or "odd"/"even" depending on Kind.
	Value string `gorm:"type:varchar(8);not null" json:"value"`

	Amount          decimal.Decimal `gorm:"type:numeric(20,2);not null" json:"amount"`
	PotentialPayout decimal.Decimal `gorm:"type:numeric(20,2);not null" json:"potential_payout"`
	ActualPayout    decimal.Decimal `gorm:"type:numeric(20,2);not null;default:0" json:"actual_payout"`
	Outcome         enum.Outcome    `gorm:"type:varchar(10);index;not null" json:"outcome"`

	PlacedAt  time.Time  `json:"placed_at"`
	SettledAt *time.Time `json:"settled_at,omitempty"`
}

func (Bet) TableName() string {
	return "bets"
}

func (b *Bet) IsPending() bool {
	return b.Outcome == enum.OutcomePending
}
