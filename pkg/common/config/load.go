package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-yaml"
	"github.com/imdario/mergo"

	"github.com/rahul3988/game-sub000/pkg/common/constant"
	"github.com/rahul3988/game-sub000/pkg/common/enum"
)

var validate = validator.New()

var ErrInvalidConfig = errors.New("invalid config")

var defaults = Config{
	Game: GameConfig{
		CashbackPercentage: "0",
		MaxExposure:        "0",
		DigitSource:        enum.DigitSourceLeastWagered,
		CashbackTimezone:   "UTC",
	},
	Scheduler: SchedulerConfig{
		CloseDelay:       constant.DefaultCloseDelay,
		RecoveryInterval: constant.DefaultRecoveryInterval,
	},
	Services: Services{
		HTTP:  HTTPConfig{Port: 8080},
		Store: StoreConfig{Type: enum.StoreTypeMemory},
		Cache: CacheConfig{Type: enum.CacheTypeMemory},
		KVS:   KVSConfig{Type: enum.KVStoreTypeBadger},
		Nats:  NatsConfig{SubjectPrefix: constant.EventSubjectPrefix},
	},
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse expands ${VAR} references, decodes YAML, fills defaults and validates.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(substituteEnvVars(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}

	// apply defaults
	if err := mergo.Merge(&cfg, defaults); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}

	// validate
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("%w: struct validation failed: %w", ErrInvalidConfig, err)
	}
	if err := cfg.Services.validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	return &cfg, nil
}

func substituteEnvVars(s string) string {
	for {
		start := strings.Index(s, "${")
		if start == -1 {
			return s
		}
		end := strings.Index(s[start:], "}")
		if end == -1 {
			return s
		}
		end += start
		varName := s[start+2 : end]
		s = strings.ReplaceAll(s, "${"+varName+"}", os.Getenv(varName))
	}
}
