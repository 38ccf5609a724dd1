package model

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rahul3988/game-sub000/pkg/common/enum"
)

// Account is the player's wallet. GameCredit is cashback that can be wagered
// but never withdrawn.
type Account struct {
	UserID     string          `gorm:"primarykey;type:varchar(64)" json:"user_id"`
	Balance    decimal.Decimal `gorm:"type:numeric(20,2);not null;default:0" json:"balance"`
	GameCredit decimal.Decimal `gorm:"type:numeric(20,2);not null;default:0" json:"game_credit"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

func (Account) TableName() string {
	return "accounts"
}

// LedgerEntry records one balance mutation. Debits are negative. Reference is
// unique so replays of the same mutation are rejected by the store.
type LedgerEntry struct {
	BaseModel
	UserID    string          `gorm:"type:varchar(64);index;not null" json:"user_id"`
	RoundID   *string         `gorm:"type:uuid" json:"round_id,omitempty"`
	BetID     *string         `gorm:"type:uuid" json:"bet_id,omitempty"`
	Kind      enum.EntryKind  `gorm:"type:varchar(20);not null" json:"kind"`
	Amount    decimal.Decimal `gorm:"type:numeric(20,2);not null" json:"amount"`
	Reference string          `gorm:"type:varchar(160);uniqueIndex;not null" json:"reference"`
	Reason    string          `json:"reason"`
}

func (LedgerEntry) TableName() string {
	return "ledger_entries"
}
