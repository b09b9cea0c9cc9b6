// Package config loads service configuration from environment variables.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config holds everything the service reads from its environment.
type Config struct {
	Port   int    `env:"PORT" envDefault:"8080"`
	DBPath string `env:"DB_PATH" envDefault:"data/referral.db"`

	// BotUsername is the chat bot handle used to build invite deep links,
	// with or without a leading @.
	BotUsername string `env:"BOT_USERNAME" envDefault:"campaign_bot"`
	// Channel is the campaign channel handle shown to participants who
	// haven't subscribed yet.
	Channel string `env:"CHANNEL" envDefault:"@campaign_channel"`

	// JWTSecret protects the API. Empty disables authentication — fine on a
	// private network, logged loudly either way. The gateway's token is
	// minted from the same secret with cmd/token.
	JWTSecret string `env:"JWT_SECRET"`

	// LeaderboardLimit is the board size served when the caller doesn't ask
	// for a specific one.
	LeaderboardLimit int `env:"LEADERBOARD_LIMIT" envDefault:"10"`

	// DBConnectMaxRetries bounds the startup connection attempts before the
	// process gives up and exits.
	DBConnectMaxRetries uint64 `env:"DB_CONNECT_MAX_RETRIES" envDefault:"8"`

	// GateMode controls link disclosure while no platform membership checker
	// is wired: "off" reveals links to everyone, "closed" withholds them.
	GateMode string `env:"SUBSCRIPTION_GATE" envDefault:"off"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load parses the environment into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parsing environment: %w", err)
	}
	return cfg, nil
}
