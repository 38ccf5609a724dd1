package events

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rahul3988/game-sub000/internal/game"
	"github.com/rahul3988/game-sub000/pkg/common/enum"
	"github.com/rahul3988/game-sub000/pkg/model"
)

const (
	TypeRoundOpened         = "round-opened"
	TypeBettingClosed       = "betting-closed"
	TypeSpinStarted         = "spin-started"
	TypeRoundCompleted      = "round-completed"
	TypeRoundCancelled      = "round-cancelled"
	TypeDistributionUpdated = "distribution-updated"
	TypeTimerTick           = "timer-tick"
)

type RoundOpened struct {
	RoundID        string          `json:"round_id"`
	Number         int64           `json:"number"`
	BettingStart   time.Time       `json:"betting_start"`
	BettingEnd     time.Time       `json:"betting_end"`
	ServerSeedHash string          `json:"server_seed_hash"`
	ClientSeed     string          `json:"client_seed"`
	Nonce          int64           `json:"nonce"`
	MinBet         decimal.Decimal `json:"min_bet"`
	MaxBet         decimal.Decimal `json:"max_bet"`
	Multiplier     decimal.Decimal `json:"payout_multiplier"`
}

type BettingClosed struct {
	RoundID string    `json:"round_id"`
	Number  int64     `json:"number"`
	At      time.Time `json:"at"`
}

type SpinStarted struct {
	RoundID string    `json:"round_id"`
	Number  int64     `json:"number"`
	At      time.Time `json:"at"`
	EndsAt  time.Time `json:"ends_at"`
}

type RoundCompleted struct {
	Round      *model.Round `json:"round"`
	ServerSeed string       `json:"server_seed"`
}

type RoundCancelled struct {
	RoundID  string    `json:"round_id"`
	Number   int64     `json:"number"`
	Reason   string    `json:"reason"`
	Refunded int       `json:"refunded"`
	At       time.Time `json:"at"`
}

type DistributionUpdated struct {
	Distribution game.Distribution `json:"distribution"`
}

type TimerTick struct {
	RoundID   string     `json:"round_id"`
	Phase     enum.Phase `json:"phase"`
	Remaining int        `json:"remaining"`
}

// Envelope is the wire form shared by the websocket hub and NATS. Key is
// stable per logical event so redelivery can be deduplicated.
type Envelope struct {
	Type      string `json:"type"`
	Key       string `json:"key"`
	Payload   any    `json:"payload"`
	Timestamp int64  `json:"timestamp"`
}

func roundKey(typ, roundID string) string {
	return typ + ":" + roundID
}

func tickKey(t TimerTick) string {
	return fmt.Sprintf("%s:%s:%s:%d", TypeTimerTick, t.RoundID, t.Phase, t.Remaining)
}
