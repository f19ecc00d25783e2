package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads environment variables from a .env file if present.
// Existing environment variables are not overwritten.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}

type Config struct {
	BotToken                 string
	MetricsAddr              string
	MaxLinesPerPlayer        int
	MinPlayersToStart        int
	CodeRetries              int
	PromptTTLSeconds         int
	StoreTimeoutSeconds      int
	PollTimeoutSeconds       int
	CommandsPerMinute        int
	DBMaxOpenConns           int
	DBMaxIdleConns           int
	DBConnMaxLifetimeSeconds int
	DBConnMaxIdleTimeSeconds int
}

func Default() Config {
	return Config{
		MetricsAddr:              ":9091",
		MaxLinesPerPlayer:        2,
		MinPlayersToStart:        2,
		CodeRetries:              5,
		PromptTTLSeconds:         300,
		StoreTimeoutSeconds:      5,
		PollTimeoutSeconds:       30,
		CommandsPerMinute:        20,
		DBMaxOpenConns:           10,
		DBMaxIdleConns:           10,
		DBConnMaxLifetimeSeconds: 300,
		DBConnMaxIdleTimeSeconds: 60,
	}
}

func Load() Config {
	cfg := Default()
	if raw := os.Getenv("BOT_TOKEN"); raw != "" {
		cfg.BotToken = raw
	}
	if raw := os.Getenv("METRICS_ADDR"); raw != "" {
		cfg.MetricsAddr = raw
	}
	if raw := os.Getenv("MAX_LINES_PER_PLAYER"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			cfg.MaxLinesPerPlayer = value
		}
	}
	if raw := os.Getenv("MIN_PLAYERS_TO_START"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 1 {
			cfg.MinPlayersToStart = value
		}
	}
	if raw := os.Getenv("CODE_RETRIES"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			cfg.CodeRetries = value
		}
	}
	if raw := os.Getenv("PROMPT_TTL_SECONDS"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			cfg.PromptTTLSeconds = value
		}
	}
	if raw := os.Getenv("STORE_TIMEOUT_SECONDS"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			cfg.StoreTimeoutSeconds = value
		}
	}
	if raw := os.Getenv("POLL_TIMEOUT_SECONDS"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			cfg.PollTimeoutSeconds = value
		}
	}
	if raw := os.Getenv("COMMANDS_PER_MINUTE"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			cfg.CommandsPerMinute = value
		}
	}
	if raw := os.Getenv("DB_MAX_OPEN_CONNS"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			cfg.DBMaxOpenConns = value
		}
	}
	if raw := os.Getenv("DB_MAX_IDLE_CONNS"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			cfg.DBMaxIdleConns = value
		}
	}
	if raw := os.Getenv("DB_CONN_MAX_LIFETIME_SECONDS"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			cfg.DBConnMaxLifetimeSeconds = value
		}
	}
	if raw := os.Getenv("DB_CONN_MAX_IDLE_SECONDS"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			cfg.DBConnMaxIdleTimeSeconds = value
		}
	}
	return cfg
}
