package settlement

import (
	"context"
	"fmt"

	"github.com/rahul3988/game-sub000/internal/fairness"
	"github.com/rahul3988/game-sub000/internal/game"
	"github.com/rahul3988/game-sub000/pkg/common/enum"
	"github.com/rahul3988/game-sub000/pkg/model"
)

// Verification is the public audit of one completed round.
type Verification struct {
	RoundID         string           `json:"round_id"`
	Number          int64            `json:"number"`
	DigitSource     enum.DigitSource `json:"digit_source"`
	WinningDigit    int              `json:"winning_digit"`
	RecomputedDigit int              `json:"recomputed_digit"`
	ServerSeedHash  string           `json:"server_seed_hash"`
	ServerSeed      string           `json:"server_seed"`
	ClientSeed      string           `json:"client_seed"`
	Nonce           int64            `json:"nonce"`
	CommitmentValid bool             `json:"commitment_valid"`
	DigitValid      bool             `json:"digit_valid"`
	Detail          string           `json:"detail,omitempty"`
}

func (v Verification) Valid() bool {
	return v.CommitmentValid && v.DigitValid
}

// Check audits a completed round against its revealed seed. For seeded
// rounds the digit must equal the reveal; for least-wagered rounds it must
// equal the rule re-run on the stored per-digit totals.
func Check(round *model.Round, seed *model.RoundSeed) (Verification, error) {
	if round.Phase != enum.PhaseCompleted || round.WinningDigit == nil {
		return Verification{}, fmt.Errorf("%w: round %d is %s", game.ErrPhaseViolation, round.Number, round.Phase)
	}
	if seed == nil || seed.RevealedAt == nil {
		return Verification{}, fmt.Errorf("%w: seed of round %d not revealed", game.ErrPhaseViolation, round.Number)
	}

	v := Verification{
		RoundID:        round.ID,
		Number:         round.Number,
		DigitSource:    round.DigitSource,
		WinningDigit:   *round.WinningDigit,
		ServerSeedHash: seed.ServerSeedHash,
		ServerSeed:     seed.ServerSeed,
		ClientSeed:     seed.ClientSeed,
		Nonce:          seed.Nonce,
	}

	if err := fairness.VerifyCommitment(seed.ServerSeedHash, seed.ServerSeed); err != nil {
		v.Detail = err.Error()
	} else {
		v.CommitmentValid = true
	}

	switch round.DigitSource {
	case enum.DigitSourceSeeded:
		digit, err := fairness.RevealDigit(seed.ServerSeed, seed.ClientSeed, seed.Nonce)
		if err != nil {
			v.Detail = err.Error()
			return v, nil
		}
		v.RecomputedDigit = digit
	default:
		v.RecomputedDigit = game.LeastWagered(round.DigitTotals)
	}
	v.DigitValid = v.RecomputedDigit == v.WinningDigit
	if !v.DigitValid && v.Detail == "" {
		v.Detail = fmt.Sprintf("recorded digit %d, recomputed %d", v.WinningDigit, v.RecomputedDigit)
	}
	return v, nil
}

func (e *Engine) VerifyRound(ctx context.Context, roundID string) (Verification, error) {
	round, err := e.store.GetRound(ctx, roundID)
	if err != nil {
		return Verification{}, err
	}
	seed, err := e.store.GetSeed(ctx, roundID)
	if err != nil {
		return Verification{}, err
	}
	if round.Phase == enum.PhaseCompleted {
		if err := e.reveal(ctx, round, seed); err != nil {
			return Verification{}, err
		}
	}
	return Check(round, seed)
}
