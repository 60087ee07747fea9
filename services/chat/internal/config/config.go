package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file, overridable with CHAT_CONFIG.
var ConfigPath = envOr("CHAT_CONFIG", "config.yaml")

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port                      string   `yaml:"port"`
	DatabaseURL               string   `yaml:"databaseURL"`
	RedisAddr                 string   `yaml:"redisAddr"`
	RedisPassword             string   `yaml:"redisPassword"`
	LogLevel                  string   `yaml:"logLevel"`
	JWTSecret                 string   `yaml:"jwtSecret"`
	JWTIssuer                 string   `yaml:"jwtIssuer"`
	JWTAudience               string   `yaml:"jwtAudience"`
	NotifyPrefix              string   `yaml:"notifyPrefix"`
	NotifyFanOut              int      `yaml:"notifyFanOut"`
	LedgerURL                 string   `yaml:"ledgerURL"`
	LedgerTimeout             string   `yaml:"ledgerTimeout"`
	MirrorStream              string   `yaml:"mirrorStream"`
	MirrorGroup               string   `yaml:"mirrorGroup"`
	MirrorWorkers             int      `yaml:"mirrorWorkers"`
	MirrorMaxRetries          int      `yaml:"mirrorMaxRetries"`
	AllowedOrigins            []string `yaml:"allowedOrigins"`
	TrustedProxies            []string `yaml:"trustedProxies"`
	MessageRateLimitPerMinute int      `yaml:"messageRateLimitPerMinute"`
	FileRateLimitPerMinute    int      `yaml:"fileRateLimitPerMinute"`
	GroupRateLimitPerMinute   int      `yaml:"groupRateLimitPerMinute"`
}

// Load reads config from path (defaults to ConfigPath).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	// Override with environment variables
	overrideString(&cfg.Port, "PORT")
	overrideString(&cfg.DatabaseURL, "DATABASE_URL")
	overrideString(&cfg.RedisAddr, "REDIS_ADDR")
	overrideString(&cfg.RedisPassword, "REDIS_PASSWORD")
	overrideString(&cfg.LogLevel, "LOG_LEVEL")
	overrideString(&cfg.JWTSecret, "JWT_SECRET")
	overrideString(&cfg.JWTIssuer, "JWT_ISSUER")
	overrideString(&cfg.JWTAudience, "JWT_AUDIENCE")
	overrideString(&cfg.LedgerURL, "LEDGER_URL")
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = splitList(v)
	}
	if v := os.Getenv("TRUSTED_PROXIES"); v != "" {
		cfg.TrustedProxies = splitList(v)
	}
	overrideInt(&cfg.MirrorWorkers, "CHAT_MIRROR_WORKERS")
	overrideInt(&cfg.MessageRateLimitPerMinute, "CHAT_MESSAGE_RATE_LIMIT_PER_MINUTE")
	overrideInt(&cfg.FileRateLimitPerMinute, "CHAT_FILE_RATE_LIMIT_PER_MINUTE")
	overrideInt(&cfg.GroupRateLimitPerMinute, "CHAT_GROUP_RATE_LIMIT_PER_MINUTE")
	if cfg.MirrorWorkers == 0 {
		cfg.MirrorWorkers = 2
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml)")
	}
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("config: redisAddr is required for notifications, the mirror queue and rate limiting")
	}
	if len(strings.TrimSpace(cfg.JWTSecret)) < 32 {
		return errors.New("config: jwtSecret is required and must be at least 32 characters (set JWT_SECRET)")
	}
	if cfg.MirrorWorkers < 0 || cfg.MirrorMaxRetries < 0 || cfg.NotifyFanOut < 0 {
		return errors.New("config: mirrorWorkers, mirrorMaxRetries and notifyFanOut must be >= 0")
	}
	if cfg.MessageRateLimitPerMinute < 0 || cfg.FileRateLimitPerMinute < 0 || cfg.GroupRateLimitPerMinute < 0 {
		return errors.New("config: rate limits must be >= 0")
	}
	return nil
}

// ParseLedgerTimeout parses the optional ledger request timeout.
func ParseLedgerTimeout(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil || dur <= 0 {
		return 0, fmt.Errorf("invalid ledgerTimeout duration %q", raw)
	}
	return dur, nil
}

func overrideString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func overrideInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
