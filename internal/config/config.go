package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/MikeSquared-Agency/aboutnine/internal/chemistry"
)

// Config is read from an optional YAML file named by ABOUTNINE_CONFIG and
// then from environment variables, which take precedence.
type Config struct {
	Port            int      `yaml:"port"`
	NatsURL         string   `yaml:"nats_url"`
	NatsToken       string   `yaml:"nats_token"`
	DatabaseURL     string   `yaml:"database_url"`
	SQLitePath      string   `yaml:"sqlite_path"`
	LogLevel        string   `yaml:"log_level"`
	APIToken        string   `yaml:"api_token"`
	LatencyNoData   string   `yaml:"latency_no_data"`
	SortByTimestamp bool     `yaml:"sort_by_timestamp"`
	EmpathyPhrases  []string `yaml:"empathy_phrases"`
}

func defaults() Config {
	return Config{
		Port:          8790,
		SQLitePath:    "aboutnine.db",
		LogLevel:      "info",
		LatencyNoData: chemistry.NoDataNeutral.String(),
	}
}

func Load() (Config, error) {
	cfg := defaults()

	if path := os.Getenv("ABOUTNINE_CONFIG"); path != "" {
		f, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: open %s: %w", path, err)
		}
		defer f.Close()
		if err := decodeYAML(f, &cfg); err != nil {
			return Config{}, err
		}
	}

	cfg.Port = envInt("ABOUTNINE_PORT", cfg.Port)
	cfg.NatsURL = envStr("NATS_URL", cfg.NatsURL)
	cfg.NatsToken = envStr("NATS_TOKEN", cfg.NatsToken)
	cfg.DatabaseURL = envStr("DATABASE_URL", cfg.DatabaseURL)
	cfg.SQLitePath = envStr("SQLITE_PATH", cfg.SQLitePath)
	cfg.LogLevel = envStr("LOG_LEVEL", cfg.LogLevel)
	cfg.APIToken = envStr("ABOUTNINE_API_TOKEN", cfg.APIToken)
	cfg.LatencyNoData = envStr("ABOUTNINE_LATENCY_DEFAULT", cfg.LatencyNoData)
	cfg.SortByTimestamp = envBool("ABOUTNINE_SORT_BY_TIMESTAMP", cfg.SortByTimestamp)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFromReader decodes YAML over the defaults without consulting the
// environment.
func LoadFromReader(r io.Reader) (Config, error) {
	cfg := defaults()
	if err := decodeYAML(r, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeYAML(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: decode yaml: %w", err)
	}
	return nil
}

// Validate checks that cfg contains a coherent set of values.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", c.Port)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.LogLevel)
	}
	if _, err := chemistry.ParseNoDataPolicy(c.LatencyNoData); err != nil {
		return fmt.Errorf("config: latency_no_data: %w", err)
	}
	if c.DatabaseURL == "" && strings.TrimSpace(c.SQLitePath) == "" {
		return errors.New("config: one of database_url or sqlite_path is required")
	}
	return nil
}

// ScorerOptions translates the scoring settings into chemistry options.
// Call only on a validated Config.
func (c Config) ScorerOptions() []chemistry.Option {
	policy, _ := chemistry.ParseNoDataPolicy(c.LatencyNoData)
	opts := []chemistry.Option{
		chemistry.WithNoDataPolicy(policy),
		chemistry.WithTimestampOrder(c.SortByTimestamp),
	}
	if len(c.EmpathyPhrases) > 0 {
		opts = append(opts, chemistry.WithLexicon(chemistry.DefaultLexicon.With(c.EmpathyPhrases...)))
	}
	return opts
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
