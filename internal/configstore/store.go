// Package configstore holds the active game settings. Reads are lock-free;
// updates are validated, persisted to the KV store and swapped atomically.
package configstore

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/go-playground/validator/v10"

	"github.com/rahul3988/game-sub000/internal/game"
	"github.com/rahul3988/game-sub000/pkg/common/constant"
	"github.com/rahul3988/game-sub000/pkg/infra"
)

var validate = validator.New()

type Store struct {
	kv      infra.KVStore
	current atomic.Pointer[Settings]
	mu      sync.Mutex // serializes updates
	log     *slog.Logger
}

// New loads persisted settings, falling back to boot. Settings that fail
// validation are fatal: the engine must not start with them.
func New(kv infra.KVStore, boot Settings, log *slog.Logger) (*Store, error) {
	s := &Store{kv: kv, log: log}

	settings := boot
	if kv != nil {
		var persisted Settings
		found, err := kv.GetAny(constant.GameSettingsKey, &persisted)
		if err != nil {
			return nil, fmt.Errorf("%w: load settings: %w", game.ErrFatalConfig, err)
		}
		if found {
			settings = persisted
			log.Info("Loaded game settings from kvstore", "store", kv.GetName())
		}
	}

	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", game.ErrFatalConfig, err)
	}

	if kv != nil {
		if err := kv.SetAny(constant.GameSettingsKey, settings); err != nil {
			return nil, fmt.Errorf("%w: persist settings: %w", game.ErrFatalConfig, err)
		}
	}

	s.current.Store(&settings)
	return s, nil
}

func (s *Store) Current() Settings {
	return *s.current.Load()
}

// Update validates and applies patch. The new values take effect for rounds
// opened after the call returns.
func (s *Store) Update(patch Patch) (Settings, error) {
	if err := validate.Struct(patch); err != nil {
		return Settings{}, fmt.Errorf("%w: %w", game.ErrInvalidSettings, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := patch.Apply(s.Current())
	if err != nil {
		return Settings{}, err
	}

	if s.kv != nil {
		if err := s.kv.SetAny(constant.GameSettingsKey, next); err != nil {
			return Settings{}, errors.Join(game.ErrPersistence, err)
		}
	}

	s.current.Store(&next)
	s.log.Info("Game settings updated",
		"betting_duration", next.BettingDuration,
		"min_bet", next.MinBet,
		"max_bet", next.MaxBet,
		"multiplier", next.PayoutMultiplier,
		"digit_source", next.DigitSource,
	)
	return next, nil
}
