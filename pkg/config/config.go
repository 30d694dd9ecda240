// Package config reads environment-driven settings, optionally overlaid
// with a YAML file for the per-controller tuning knobs.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Duration parses "2s"/"5m" style YAML values into a time.Duration.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// Std returns the wrapped standard duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Controllers holds the tuning knobs of the four order controllers. All
// zero values mean "use the controller's default".
type Controllers struct {
	StopLimitPollInterval Duration `yaml:"stop_limit_poll_interval"`
	OCOPollInterval       Duration `yaml:"oco_poll_interval"`
	GridPollInterval      Duration `yaml:"grid_poll_interval"`
	Retries               int      `yaml:"retries"`
}

// Config holds runtime settings for the order engine.
type Config struct {
	Port string

	// LogFile redirects log output when set; empty keeps stderr.
	LogFile string

	// Binance
	BinanceTestnet   bool
	BinanceAPIKey    string
	BinanceAPISecret string
	RecvWindowMs     int64

	// Auth
	JWTSecret        string
	OperatorPassword string

	// API rate limiting (requests per second per client, with burst)
	RateLimitRPS   float64
	RateLimitBurst int

	// Event journal
	JournalPath string

	// Fear & Greed dataset; empty disables the sentiment endpoint.
	SentimentPath string

	Controllers Controllers
}

// Load reads environment variables (optionally via .env) into Config, then
// overlays the YAML file named by CONTROLLERS_CONFIG when set.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		LogFile:          os.Getenv("LOG_FILE"),
		BinanceTestnet:   getEnv("BINANCE_TESTNET", "true") == "true",
		BinanceAPIKey:    os.Getenv("BINANCE_API_KEY"),
		BinanceAPISecret: os.Getenv("BINANCE_API_SECRET"),
		RecvWindowMs:     int64(getEnvInt("BINANCE_RECV_WINDOW_MS", 5000)),
		JWTSecret:        getEnv("JWT_SECRET", "dev-secret"),
		OperatorPassword: getEnv("OPERATOR_PASSWORD", "admin"),
		RateLimitRPS:     getEnvFloat("RATE_LIMIT_RPS", 10),
		RateLimitBurst:   getEnvInt("RATE_LIMIT_BURST", 20),
		JournalPath:      getEnv("JOURNAL_PATH", "./data/journal.db"),
		SentimentPath:    os.Getenv("SENTIMENT_PATH"),
	}

	if path := os.Getenv("CONTROLLERS_CONFIG"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read controllers config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg.Controllers); err != nil {
			return nil, fmt.Errorf("parse controllers config: %w", err)
		}
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
