package constant

import "time"

const (
	EnvProduction  = "prod"
	EnvDevelopment = "dev"

	// Gap between BETTING_CLOSED and SPINNING; lets observers render a closing state.
	DefaultCloseDelay       = time.Second
	DefaultRecoveryInterval = 10 * time.Second
	TickInterval            = time.Second

	// Cache TTL margin on top of a round's full cycle.
	CacheTTLMargin = 30 * time.Second

	CurrentRoundKey       = "roulette:round:current"
	DistributionKeyPrefix = "roulette:distribution:"

	GameSettingsKey = "game_settings"

	EventSubjectPrefix = "roulette.events"
	EventStreamName    = "ROULETTE_EVENTS"
)
