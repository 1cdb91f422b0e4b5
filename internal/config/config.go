// Package config loads service and solver settings from an optional YAML file
// and environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

var ErrInvalid = errors.New("config: invalid")

type Server struct {
	Port      string  `yaml:"port"`
	RateRPS   float64 `yaml:"rateRps"`
	RateBurst int     `yaml:"rateBurst"`
	MaxRuns   int     `yaml:"maxRuns"` // concurrent solves accepted by the API
}

type Storage struct {
	DatabaseURL string `yaml:"databaseUrl"`
	Migrate     bool   `yaml:"migrate"`
}

type Events struct {
	RedisURL string `yaml:"redisUrl"`
}

type Auth struct {
	Mode       string `yaml:"mode"` // off, dev, hmac
	HMACSecret string `yaml:"hmacSecret"`
}

type Webhook struct {
	URL         string `yaml:"url"`
	Secret      string `yaml:"secret"`
	MaxAttempts int    `yaml:"maxAttempts"`
}

type Solver struct {
	Backend          string        `yaml:"backend"`
	Policy           string        `yaml:"policy"`
	Restarts         int           `yaml:"restarts"`
	Workers          int           `yaml:"workers"`
	BaseSeed         int64         `yaml:"baseSeed"`
	SeedTimeout      time.Duration `yaml:"seedTimeout"`
	TimeBudget       time.Duration `yaml:"timeBudget"`
	RelocationRadius int           `yaml:"relocationRadius"`
	Relocation       string        `yaml:"relocation"` // best, sampled
}

type Scoreboard struct {
	URL string  `yaml:"url"`
	RPS float64 `yaml:"rps"`
}

type Config struct {
	Server     Server     `yaml:"server"`
	Storage    Storage    `yaml:"storage"`
	Events     Events     `yaml:"events"`
	Auth       Auth       `yaml:"auth"`
	Webhook    Webhook    `yaml:"webhook"`
	Solver     Solver     `yaml:"solver"`
	Scoreboard Scoreboard `yaml:"scoreboard"`
}

func Default() Config {
	return Config{
		Server:  Server{Port: "8080", RateRPS: 2, RateBurst: 5, MaxRuns: 4},
		Storage: Storage{Migrate: true},
		Auth:    Auth{Mode: "off"},
		Webhook: Webhook{MaxAttempts: 5},
		Solver: Solver{
			Backend:     "sat",
			Policy:      "lexicographic",
			Restarts:    16,
			SeedTimeout: 30 * time.Second,
			Relocation:  "best",
		},
		Scoreboard: Scoreboard{RPS: 2},
	}
}

// Load reads path (if non-empty) over the defaults, then applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return cfg, fmt.Errorf("config: %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// ApplyEnv overrides fields from environment variables looked up by getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	var errs []error
	num := func(key string, dst *int) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%w: %s=%q", ErrInvalid, key, v))
				return
			}
			*dst = n
		}
	}
	flt := func(key string, dst *float64) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%w: %s=%q", ErrInvalid, key, v))
				return
			}
			*dst = f
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%w: %s=%q", ErrInvalid, key, v))
				return
			}
			*dst = d
		}
	}

	str("PORT", &c.Server.Port)
	flt("RATE_RPS", &c.Server.RateRPS)
	num("RATE_BURST", &c.Server.RateBurst)
	str("DATABASE_URL", &c.Storage.DatabaseURL)
	if v := getenv("DB_MIGRATE"); v != "" {
		c.Storage.Migrate = v != "false"
	}
	str("REDIS_URL", &c.Events.RedisURL)
	str("AUTH_MODE", &c.Auth.Mode)
	str("AUTH_HMAC_SECRET", &c.Auth.HMACSecret)
	str("WEBHOOK_URL", &c.Webhook.URL)
	str("WEBHOOK_SECRET", &c.Webhook.Secret)
	num("WEBHOOK_MAX_ATTEMPTS", &c.Webhook.MaxAttempts)
	str("SOLVER_BACKEND", &c.Solver.Backend)
	str("SOLVER_POLICY", &c.Solver.Policy)
	num("SOLVER_RESTARTS", &c.Solver.Restarts)
	num("SOLVER_WORKERS", &c.Solver.Workers)
	dur("SOLVER_TIMEOUT", &c.Solver.SeedTimeout)
	dur("SOLVER_TIME_BUDGET", &c.Solver.TimeBudget)
	str("SCOREBOARD_URL", &c.Scoreboard.URL)
	return errors.Join(errs...)
}

func (c Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}
	if p, err := strconv.Atoi(c.Server.Port); err != nil || p <= 0 || p > 65535 {
		bad("server.port %q", c.Server.Port)
	}
	if c.Server.RateRPS < 0 || c.Server.RateBurst < 0 {
		bad("rate limit must be >= 0")
	}
	switch c.Auth.Mode {
	case "off", "dev":
	case "hmac":
		if c.Auth.HMACSecret == "" {
			bad("auth.hmacSecret required in hmac mode")
		}
	default:
		bad("auth.mode %q", c.Auth.Mode)
	}
	switch c.Solver.Backend {
	case "sat", "greedy":
	default:
		bad("solver.backend %q", c.Solver.Backend)
	}
	switch c.Solver.Policy {
	case "lexicographic", "penalty":
	default:
		bad("solver.policy %q", c.Solver.Policy)
	}
	switch c.Solver.Relocation {
	case "best", "sampled":
	default:
		bad("solver.relocation %q", c.Solver.Relocation)
	}
	if c.Solver.Restarts <= 0 {
		bad("solver.restarts must be > 0")
	}
	if c.Solver.Workers < 0 || c.Solver.SeedTimeout < 0 || c.Solver.TimeBudget < 0 || c.Solver.RelocationRadius < 0 {
		bad("solver limits must be >= 0")
	}
	if c.Webhook.MaxAttempts < 1 {
		bad("webhook.maxAttempts must be >= 1")
	}
	return errors.Join(errs...)
}
