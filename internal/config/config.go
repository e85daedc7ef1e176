package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"opsgate.io/internal/ratelimit"
)

// Config is the process configuration, read once at startup from OPSGATE_*
// environment variables.
type Config struct {
	Addr        string
	Environment string
	LogLevel    string

	PostgresDSN string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration

	LockoutThreshold int
	LockoutDuration  time.Duration
	APIKeyTTL        time.Duration

	RateLimitFailMode ratelimit.FailMode
	RateLimitPolicies map[ratelimit.Category]ratelimit.Policy
}

// Load reads and validates the configuration. The token secrets and the rate
// limit fail mode have no defaults; a process without them must not start.
func Load() (*Config, error) {
	cfg := &Config{
		Addr:        getenv("OPSGATE_ADDR", ":8080"),
		Environment: getenv("OPSGATE_ENV", "development"),
		LogLevel:    getenv("OPSGATE_LOG_LEVEL", "info"),

		PostgresDSN: os.Getenv("OPSGATE_PG_DSN"),

		RedisAddr:     os.Getenv("OPSGATE_REDIS_ADDR"),
		RedisPassword: os.Getenv("OPSGATE_REDIS_PASSWORD"),

		AccessSecret:  os.Getenv("OPSGATE_ACCESS_SECRET"),
		RefreshSecret: os.Getenv("OPSGATE_REFRESH_SECRET"),
	}

	var err error
	if cfg.RedisDB, err = getenvInt("OPSGATE_REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.AccessTTL, err = getenvDuration("OPSGATE_ACCESS_TTL", time.Hour); err != nil {
		return nil, err
	}
	if cfg.RefreshTTL, err = getenvDuration("OPSGATE_REFRESH_TTL", 7*24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.LockoutThreshold, err = getenvInt("OPSGATE_LOCKOUT_THRESHOLD", 10); err != nil {
		return nil, err
	}
	if cfg.LockoutDuration, err = getenvDuration("OPSGATE_LOCKOUT_DURATION", time.Hour); err != nil {
		return nil, err
	}
	if cfg.APIKeyTTL, err = getenvDuration("OPSGATE_APIKEY_TTL", 30*24*time.Hour); err != nil {
		return nil, err
	}

	if cfg.AccessSecret == "" || cfg.RefreshSecret == "" {
		return nil, fmt.Errorf("OPSGATE_ACCESS_SECRET and OPSGATE_REFRESH_SECRET are required")
	}
	if cfg.AccessSecret == cfg.RefreshSecret {
		return nil, fmt.Errorf("OPSGATE_ACCESS_SECRET and OPSGATE_REFRESH_SECRET must differ")
	}

	cfg.RateLimitFailMode, err = ratelimit.ParseFailMode(os.Getenv("OPSGATE_RATELIMIT_FAIL_MODE"))
	if err != nil {
		return nil, fmt.Errorf("OPSGATE_RATELIMIT_FAIL_MODE: %w", err)
	}

	cfg.RateLimitPolicies = ratelimit.DefaultPolicies()
	for category := range cfg.RateLimitPolicies {
		if err := overridePolicy(cfg.RateLimitPolicies, category); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// overridePolicy applies OPSGATE_RATELIMIT_<CATEGORY>_{BUDGET,WINDOW,BLOCK}
// overrides for one category.
func overridePolicy(policies map[ratelimit.Category]ratelimit.Policy, category ratelimit.Category) error {
	prefix := "OPSGATE_RATELIMIT_" + strings.ToUpper(string(category))
	p := policies[category]

	var err error
	if p.Budget, err = getenvInt(prefix+"_BUDGET", p.Budget); err != nil {
		return err
	}
	if p.Window, err = getenvDuration(prefix+"_WINDOW", p.Window); err != nil {
		return err
	}
	if p.BlockFor, err = getenvDuration(prefix+"_BLOCK", p.BlockFor); err != nil {
		return err
	}
	if p.Budget <= 0 || p.Window <= 0 {
		return fmt.Errorf("%s: budget and window must be positive", prefix)
	}
	policies[category] = p
	return nil
}

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getenvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
