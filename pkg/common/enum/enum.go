package enum

type Phase string
type BetKind string
type Outcome string
type EntryKind string
type KVStoreType string
type StoreType string
type CacheType string
type DigitSource string

const (
	PhaseBetting       Phase = "BETTING"
	PhaseBettingClosed Phase = "BETTING_CLOSED"
	PhaseSpinning      Phase = "SPINNING"
	PhaseCompleted     Phase = "COMPLETED"
	PhaseCancelled     Phase = "CANCELLED"
)

// IsTerminal reports whether a round in this phase can no longer change.
func (p Phase) IsTerminal() bool {
	return p == PhaseCompleted || p == PhaseCancelled
}

// NonTerminalPhases lists the phases a round can be recovered from.
var NonTerminalPhases = []Phase{PhaseBetting, PhaseBettingClosed, PhaseSpinning}

func (p Phase) IsValid() bool {
	switch p {
	case PhaseBetting, PhaseBettingClosed, PhaseSpinning, PhaseCompleted, PhaseCancelled:
		return true
	}
	return false
}

const (
	BetKindDigit  BetKind = "DIGIT"
	BetKindColor  BetKind = "COLOR"
	BetKindParity BetKind = "PARITY"
)

func (k BetKind) IsValid() bool {
	switch k {
	case BetKindDigit, BetKindColor, BetKindParity:
		return true
	}
	return false
}

const (
	OutcomePending  Outcome = "PENDING"
	OutcomeWon      Outcome = "WON"
	OutcomeLost     Outcome = "LOST"
	OutcomeRefunded Outcome = "REFUNDED"
)

// Ledger entry kinds. Debits are stored as negative amounts.
const (
	EntryBetDebit       EntryKind = "BET_DEBIT"
	EntryPayoutCredit   EntryKind = "PAYOUT_CREDIT"
	EntryRefundCredit   EntryKind = "REFUND_CREDIT"
	EntryCashbackCredit EntryKind = "CASHBACK_CREDIT"
	EntryDeposit        EntryKind = "DEPOSIT"
)

const (
	KVStoreTypeBadger KVStoreType = "badger"
	KVStoreTypeConsul KVStoreType = "consul"
)

const (
	StoreTypePostgres StoreType = "postgres"
	StoreTypeMemory   StoreType = "memory"
)

const (
	CacheTypeRedis  CacheType = "redis"
	CacheTypeMemory CacheType = "memory"
)

const (
	DigitSourceLeastWagered DigitSource = "least_wagered"
	DigitSourceSeeded       DigitSource = "seeded"
)
