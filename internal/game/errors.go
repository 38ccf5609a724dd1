package game

import "errors"

// Validation errors. Rejected synchronously with no state change.
var (
	ErrInvalidBetKind   = errors.New("invalid bet kind")
	ErrInvalidBetValue  = errors.New("invalid bet value")
	ErrAmountOutOfRange = errors.New("amount out of range")
	ErrExposureLimit    = errors.New("round exposure limit reached")
	ErrRateLimited      = errors.New("too many bets")
	ErrInvalidSettings  = errors.New("invalid game settings")
)

var ErrInsufficientFunds = errors.New("insufficient balance")

// Phase errors.
var (
	ErrRoundNotFound  = errors.New("round not found")
	ErrBettingClosed  = errors.New("betting is closed for this round")
	ErrPhaseViolation = errors.New("phase violation")
)

var (
	ErrPersistence = errors.New("persistence failure")
	ErrFatalConfig = errors.New("fatal config error")
)

// Code maps an error to the stable reason code returned to clients.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidBetKind):
		return "INVALID_BET_KIND"
	case errors.Is(err, ErrInvalidBetValue):
		return "INVALID_BET_VALUE"
	case errors.Is(err, ErrAmountOutOfRange):
		return "AMOUNT_OUT_OF_RANGE"
	case errors.Is(err, ErrExposureLimit):
		return "EXPOSURE_LIMIT"
	case errors.Is(err, ErrRateLimited):
		return "RATE_LIMITED"
	case errors.Is(err, ErrInvalidSettings):
		return "INVALID_SETTINGS"
	case errors.Is(err, ErrInsufficientFunds):
		return "INSUFFICIENT_FUNDS"
	case errors.Is(err, ErrRoundNotFound):
		return "ROUND_NOT_FOUND"
	case errors.Is(err, ErrBettingClosed):
		return "BETTING_CLOSED"
	case errors.Is(err, ErrPhaseViolation):
		return "PHASE_VIOLATION"
	case errors.Is(err, ErrFatalConfig):
		return "FATAL_CONFIG"
	case errors.Is(err, ErrPersistence):
		return "PERSISTENCE_ERROR"
	default:
		return "INTERNAL_ERROR"
	}
}

// IsValidation reports whether err is a caller mistake rather than a system fault.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidBetKind) ||
		errors.Is(err, ErrInvalidBetValue) ||
		errors.Is(err, ErrAmountOutOfRange) ||
		errors.Is(err, ErrExposureLimit) ||
		errors.Is(err, ErrInvalidSettings)
}
