package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type StoreConfig struct {
	Addr           string
	URL            string
	DBDriver       string
	DBDSN          string
	BackupInterval time.Duration
	RateLimit      float64
	RateBurst      int
}

type JudgeConfig struct {
	URL          string
	Host         string
	Key          string
	PollInterval time.Duration
	PollTimeout  time.Duration
	MaxPolls     int
}

type Config struct {
	Store StoreConfig
	Judge JudgeConfig
}

// Load reads the optional env files (".env" when none are given) into the
// process environment and builds the config from it. Variables already set
// in the environment take precedence over the files.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("failed to load env file %s: %w", f, err)
		}
	}
	return FromEnv()
}

func FromEnv() (Config, error) {
	var err error
	cfg := Config{
		Store: StoreConfig{
			Addr:     getEnv("CODEPAD_ADDR", "localhost:8080"),
			URL:      getEnv("CODEPAD_STORE_URL", "http://localhost:8080"),
			DBDriver: getEnv("CODEPAD_DB_DRIVER", "sqlite3"),
			DBDSN:    getEnv("CODEPAD_DB_DSN", "codepad.sqlite3"),
		},
		Judge: JudgeConfig{
			URL:  os.Getenv("JUDGE_API_URL"),
			Host: os.Getenv("JUDGE_API_HOST"),
			Key:  os.Getenv("JUDGE_API_KEY"),
		},
	}
	if cfg.Store.BackupInterval, err = getDuration("CODEPAD_BACKUP_INTERVAL", 5*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.Store.RateLimit, err = getFloat("CODEPAD_RATE_LIMIT", 10); err != nil {
		return Config{}, err
	}
	if cfg.Store.RateBurst, err = getInt("CODEPAD_RATE_BURST", 50); err != nil {
		return Config{}, err
	}
	if cfg.Judge.PollInterval, err = getDuration("JUDGE_POLL_INTERVAL", 2*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.Judge.PollTimeout, err = getDuration("JUDGE_POLL_TIMEOUT", 2*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.Judge.MaxPolls, err = getInt("JUDGE_MAX_POLLS", 60); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the values needed to talk to the execution service.
func (c JudgeConfig) Validate() error {
	if c.URL == "" {
		return errors.New("JUDGE_API_URL is required")
	}
	if c.Key == "" {
		return errors.New("JUDGE_API_KEY is required")
	}
	return nil
}

// getEnv returns the value of the environment variable named by the key.
// If the variable is not set, it returns the fallback value.
func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s: %w", key, err)
	}
	return d, nil
}

func getInt(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s: %w", key, err)
	}
	return v, nil
}

func getFloat(key string, fallback float64) (float64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s: %w", key, err)
	}
	return v, nil
}
