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

// ConfigPath is the default config file, overridable with GATEWAY_CONFIG.
var ConfigPath = envOr("GATEWAY_CONFIG", "config.yaml")

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port                      string   `yaml:"port"`
	LogLevel                  string   `yaml:"logLevel"`
	AccountServiceURL         string   `yaml:"accountServiceURL"`
	ChatServiceURL            string   `yaml:"chatServiceURL"`
	UpstreamTimeout           string   `yaml:"upstreamTimeout"`
	RedisAddr                 string   `yaml:"redisAddr"`
	RedisPassword             string   `yaml:"redisPassword"`
	RequestRateLimitPerMinute int      `yaml:"requestRateLimitPerMinute"`
	AllowedOrigins            []string `yaml:"allowedOrigins"`
	TrustedProxyCIDRs         []string `yaml:"trustedProxyCidrs"`
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
	overrideString(&cfg.Port, "PORT")
	overrideString(&cfg.LogLevel, "LOG_LEVEL")
	overrideString(&cfg.AccountServiceURL, "GATEWAY_ACCOUNT_SERVICE_URL")
	overrideString(&cfg.ChatServiceURL, "GATEWAY_CHAT_SERVICE_URL")
	overrideString(&cfg.RedisAddr, "REDIS_ADDR")
	overrideString(&cfg.RedisPassword, "REDIS_PASSWORD")
	if v := os.Getenv("GATEWAY_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RequestRateLimitPerMinute = n
		}
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = splitList(v)
	}
	if v := os.Getenv("GATEWAY_TRUSTED_PROXY_CIDRS"); v != "" {
		cfg.TrustedProxyCIDRs = splitList(v)
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
	if strings.TrimSpace(cfg.AccountServiceURL) == "" {
		return errors.New("config: accountServiceURL is required (set GATEWAY_ACCOUNT_SERVICE_URL)")
	}
	if strings.TrimSpace(cfg.ChatServiceURL) == "" {
		return errors.New("config: chatServiceURL is required (set GATEWAY_CHAT_SERVICE_URL)")
	}
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("config: redisAddr is required for rate limiting")
	}
	if cfg.RequestRateLimitPerMinute < 0 {
		return errors.New("config: requestRateLimitPerMinute must be >= 0")
	}
	return nil
}

// ParseUpstreamTimeout parses the upstream response header timeout.
func ParseUpstreamTimeout(raw string) (time.Duration, error) {
	if raw == "" {
		return 30 * time.Second, nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil || dur <= 0 {
		return 0, fmt.Errorf("invalid upstreamTimeout duration %q", raw)
	}
	return dur, nil
}

func overrideString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
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
