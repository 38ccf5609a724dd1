package store

import "errors"

// Lookups that miss return these or the game package's ErrRoundNotFound.
// Conditional writes that find the row in an unexpected phase return
// game.ErrPhaseViolation; debits that would overdraw return
// game.ErrInsufficientFunds.
var (
	ErrAccountNotFound = errors.New("account not found")
	ErrBetNotFound     = errors.New("bet not found")
	ErrSeedNotFound    = errors.New("round seed not found")
)
