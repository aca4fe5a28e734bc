package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Env          string
	Addr         string
	PublicURL    *url.URL
	DBDSN        string
	DBMigrate    bool
	CookieSecret string
	SessionTTL   time.Duration
	LogLevel     string

	AdminBootstrapEmail    string
	AdminBootstrapUsername string
	AdminBootstrapPassword string

	FCMProjectID   string
	FCMCredentials string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	TokenCleanupInterval time.Duration
	TokenMaxAgeDays      int
	RoutineInterval      time.Duration
	DispatchConcurrency  int
}

// Load reads the process environment after seeding it from APP_ENV_FILE
// (default ".env"). A missing file is not an error.
func Load() (Config, error) {
	path := os.Getenv("APP_ENV_FILE")
	explicit := path != ""
	if !explicit {
		path = ".env"
	}
	if err := loadDotEnvFile(path, os.Setenv, os.Getenv); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("APP_ENV_FILE: %w", err)
		}
	}
	return LoadFromEnv(os.Getenv)
}

func LoadFromEnv(getenv func(string) string) (Config, error) {
	cfg := Config{
		Env:            getenv("APP_ENV"),
		Addr:           getenv("APP_ADDR"),
		DBDSN:          getenv("APP_DB_DSN"),
		LogLevel:       strings.ToLower(getenv("APP_LOG_LEVEL")),
		CookieSecret:   getenv("APP_COOKIE_SECRET"),
		FCMProjectID:   strings.TrimSpace(getenv("APP_FCM_PROJECT_ID")),
		FCMCredentials: strings.TrimSpace(getenv("APP_FCM_CREDENTIALS")),
		RedisAddr:      strings.TrimSpace(getenv("APP_REDIS_ADDR")),
		RedisPassword:  getenv("APP_REDIS_PASSWORD"),
	}

	if cfg.Env == "" {
		cfg.Env = "dev"
	}
	switch cfg.Env {
	case "dev", "prod", "test":
	default:
		return Config{}, errors.New("APP_ENV: must be one of dev, test, prod")
	}
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8080"
	}

	if raw := getenv("APP_PUBLIC_URL"); raw != "" {
		parsed, err := url.Parse(raw)
		if err != nil {
			return Config{}, fmt.Errorf("APP_PUBLIC_URL: %w", err)
		}
		if !parsed.IsAbs() || parsed.Host == "" {
			return Config{}, errors.New("APP_PUBLIC_URL: must be an absolute URL")
		}
		switch parsed.Scheme {
		case "http", "https":
		default:
			return Config{}, errors.New("APP_PUBLIC_URL: scheme must be http or https")
		}
		cfg.PublicURL = parsed
	}

	var err error
	if cfg.DBMigrate, err = boolVar(getenv, "APP_DB_MIGRATE", false); err != nil {
		return Config{}, err
	}
	if cfg.SessionTTL, err = durationVar(getenv, "APP_SESSION_TTL", 30*24*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.TokenCleanupInterval, err = durationVar(getenv, "APP_TOKEN_CLEANUP_INTERVAL", 24*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.RoutineInterval, err = durationVar(getenv, "APP_ROUTINE_INTERVAL", 5*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.TokenMaxAgeDays, err = positiveIntVar(getenv, "APP_TOKEN_MAX_AGE_DAYS", 30); err != nil {
		return Config{}, err
	}
	if cfg.DispatchConcurrency, err = positiveIntVar(getenv, "APP_DISPATCH_CONCURRENCY", 8); err != nil {
		return Config{}, err
	}
	if raw := strings.TrimSpace(getenv("APP_REDIS_DB")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return Config{}, errors.New("APP_REDIS_DB: must be a non-negative integer")
		}
		cfg.RedisDB = n
	}

	if (cfg.FCMProjectID == "") != (cfg.FCMCredentials == "") {
		return Config{}, errors.New("APP_FCM_PROJECT_ID and APP_FCM_CREDENTIALS must be set together")
	}

	cfg.AdminBootstrapEmail = strings.TrimSpace(strings.ToLower(getenv("APP_ADMIN_BOOTSTRAP_EMAIL")))
	cfg.AdminBootstrapUsername = strings.TrimSpace(getenv("APP_ADMIN_BOOTSTRAP_USERNAME"))
	cfg.AdminBootstrapPassword = getenv("APP_ADMIN_BOOTSTRAP_PASSWORD")
	if cfg.AdminBootstrapPassword != "" && cfg.AdminBootstrapEmail == "" {
		return Config{}, errors.New("APP_ADMIN_BOOTSTRAP_EMAIL: required when APP_ADMIN_BOOTSTRAP_PASSWORD is set")
	}
	if cfg.AdminBootstrapPassword != "" && cfg.AdminBootstrapUsername == "" {
		cfg.AdminBootstrapUsername = "admin"
	}

	if cfg.IsProd() {
		if cfg.DBDSN == "" {
			return Config{}, errors.New("APP_DB_DSN: required in prod")
		}
		if len(cfg.CookieSecret) < 32 {
			return Config{}, errors.New("APP_COOKIE_SECRET: must be at least 32 bytes in prod")
		}
	}

	return cfg, nil
}

func (c Config) IsProd() bool { return c.Env == "prod" }

func (c Config) CookieSecure() bool {
	if c.PublicURL != nil {
		return c.PublicURL.Scheme == "https"
	}
	return c.IsProd()
}

func (c Config) PushEnabled() bool { return c.FCMProjectID != "" && c.FCMCredentials != "" }

func durationVar(getenv func(string) string, key string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(getenv(key))
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s: must be > 0", key)
	}
	return d, nil
}

func positiveIntVar(getenv func(string) string, key string, def int) (int, error) {
	raw := strings.TrimSpace(getenv(key))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s: must be a positive integer", key)
	}
	return n, nil
}

func boolVar(getenv func(string) string, key string, def bool) (bool, error) {
	raw := strings.TrimSpace(getenv(key))
	if raw == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s: must be true or false", key)
	}
	return b, nil
}
