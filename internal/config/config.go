package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultModel        = "gpt-4o-mini"
	DefaultBaseURL      = "https://api.openai.com/v1"
	DefaultDatabasePath = "prices.db"
	DefaultMaxRounds    = 5
	DefaultModelTimeout = 60 * time.Second
)

var ErrMissingAPIKey = errors.New("OPENAI_API_KEY environment variable is not set")

type Config struct {
	Model        string             `yaml:"model"`
	BaseURL      string             `yaml:"base_url"`
	APIKey       string             `yaml:"-"`
	DatabasePath string             `yaml:"database_path"`
	MaxRounds    int                `yaml:"max_rounds"`
	ModelTimeout time.Duration      `yaml:"model_timeout"`
	MaxTokens    int                `yaml:"max_tokens"`
	Temperature  float64            `yaml:"temperature"`
	Seed         bool               `yaml:"seed"`
	SeedPrices   map[string]float64 `yaml:"seed_prices"`
	Debug        bool               `yaml:"debug"`
	LogsDir      string             `yaml:"logs_dir"`
}

func Default() Config {
	return Config{
		Model:        DefaultModel,
		BaseURL:      DefaultBaseURL,
		DatabasePath: DefaultDatabasePath,
		MaxRounds:    DefaultMaxRounds,
		ModelTimeout: DefaultModelTimeout,
		MaxTokens:    4096,
		Temperature:  0.7,
		Seed:         true,
		SeedPrices: map[string]float64{
			"london": 799,
			"paris":  899,
			"tokyo":  1420,
			"sydney": 2999,
		},
		LogsDir: ".ticketdesk/logs",
	}
}

// Load layers the YAML file at path over the defaults. A missing file yields
// the defaults. A seed_prices key replaces the default seed set as a whole.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("error reading config file: %w", err)
	}
	var keys map[string]any
	if err := yaml.Unmarshal(data, &keys); err != nil {
		return Config{}, fmt.Errorf("error parsing config file %s: %w", path, err)
	}
	// seed prices from the file replace the defaults instead of merging into them
	if _, ok := keys["seed_prices"]; ok {
		cfg.SeedPrices = nil
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("error parsing config file %s: %w", path, err)
	}
	return cfg, nil
}

// ReadEnv applies environment overrides on top of whatever is already set.
func (c *Config) ReadEnv() error {
	if v := os.Getenv("MODEL"); v != "" {
		c.Model = v
	}
	if v := os.Getenv("DB"); v != "" {
		c.DatabasePath = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		c.BaseURL = v
	}
	c.APIKey = os.Getenv("OPENAI_API_KEY")
	if v := os.Getenv("MAX_ROUNDS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid MAX_ROUNDS environment variable: %s", v)
		}
		c.MaxRounds = n
	}
	if v := os.Getenv("DEBUG"); v != "" {
		c.Debug = v == "1" || v == "true"
	}
	return nil
}

func (c Config) Validate() error {
	if c.APIKey == "" {
		return ErrMissingAPIKey
	}
	if c.Model == "" {
		return errors.New("model must not be empty")
	}
	if c.DatabasePath == "" {
		return errors.New("database path must not be empty")
	}
	if c.MaxRounds <= 0 {
		return fmt.Errorf("max rounds must be positive, got %d", c.MaxRounds)
	}
	if c.ModelTimeout <= 0 {
		return fmt.Errorf("model timeout must be positive, got %s", c.ModelTimeout)
	}
	for city, price := range c.SeedPrices {
		if price < 0 || math.IsNaN(price) || math.IsInf(price, 0) {
			return fmt.Errorf("invalid seed price for %s: %v", city, price)
		}
	}
	return nil
}
