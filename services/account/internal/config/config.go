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

// ConfigPath is the default config file, overridable with ACCOUNT_CONFIG.
var ConfigPath = envOr("ACCOUNT_CONFIG", "config.yaml")

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port                         string   `yaml:"port"`
	DatabaseURL                  string   `yaml:"databaseURL"`
	RedisAddr                    string   `yaml:"redisAddr"`
	RedisPassword                string   `yaml:"redisPassword"`
	LogLevel                     string   `yaml:"logLevel"`
	JWTSecret                    string   `yaml:"jwtSecret"`
	JWTIssuer                    string   `yaml:"jwtIssuer"`
	JWTAudience                  string   `yaml:"jwtAudience"`
	SessionTTL                   string   `yaml:"sessionTTL"`
	RabbitMQURL                  string   `yaml:"rabbitmqURL"`
	MailQueue                    string   `yaml:"mailQueue"`
	MinioEndpoint                string   `yaml:"minioEndpoint"`
	MinioAccessKey               string   `yaml:"minioAccessKey"`
	MinioSecretKey               string   `yaml:"minioSecretKey"`
	MinioBucket                  string   `yaml:"minioBucket"`
	MinioUseSSL                  bool     `yaml:"minioUseSSL"`
	CaptchaSecret                string   `yaml:"captchaSecret"`
	CaptchaVerifyURL             string   `yaml:"captchaVerifyURL"`
	AllowedOrigins               []string `yaml:"allowedOrigins"`
	TrustedProxies               []string `yaml:"trustedProxies"`
	BlockCooldown                string   `yaml:"blockCooldown"`
	MaxActiveBlocks              int      `yaml:"maxActiveBlocks"`
	SignupRateLimitPerMinute     int      `yaml:"signupRateLimitPerMinute"`
	LoginRateLimitPerMinute      int      `yaml:"loginRateLimitPerMinute"`
	OTPRateLimitPerMinute        int      `yaml:"otpRateLimitPerMinute"`
	ResendRateLimitPerMinute     int      `yaml:"resendRateLimitPerMinute"`
	PaymentOTPRateLimitPerMinute int      `yaml:"paymentOtpRateLimitPerMinute"`
	CaptchaRateLimitPerMinute    int      `yaml:"captchaRateLimitPerMinute"`
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
	overrideString(&cfg.SessionTTL, "SESSION_TTL")
	overrideString(&cfg.RabbitMQURL, "RABBITMQ_URL")
	overrideString(&cfg.MailQueue, "MAIL_QUEUE")
	overrideString(&cfg.MinioEndpoint, "MINIO_ENDPOINT")
	overrideString(&cfg.MinioAccessKey, "MINIO_ACCESS_KEY")
	overrideString(&cfg.MinioSecretKey, "MINIO_SECRET_KEY")
	overrideString(&cfg.MinioBucket, "MINIO_BUCKET")
	overrideString(&cfg.CaptchaSecret, "CAPTCHA_SECRET")
	if v := os.Getenv("MINIO_USE_SSL"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.MinioUseSSL = b
		}
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = splitList(v)
	}
	if v := os.Getenv("TRUSTED_PROXIES"); v != "" {
		cfg.TrustedProxies = splitList(v)
	}
	overrideInt(&cfg.SignupRateLimitPerMinute, "ACCOUNT_SIGNUP_RATE_LIMIT_PER_MINUTE")
	overrideInt(&cfg.LoginRateLimitPerMinute, "ACCOUNT_LOGIN_RATE_LIMIT_PER_MINUTE")
	overrideInt(&cfg.OTPRateLimitPerMinute, "ACCOUNT_OTP_RATE_LIMIT_PER_MINUTE")
	overrideInt(&cfg.ResendRateLimitPerMinute, "ACCOUNT_RESEND_RATE_LIMIT_PER_MINUTE")
	overrideInt(&cfg.PaymentOTPRateLimitPerMinute, "ACCOUNT_PAYMENT_OTP_RATE_LIMIT_PER_MINUTE")
	overrideInt(&cfg.CaptchaRateLimitPerMinute, "ACCOUNT_CAPTCHA_RATE_LIMIT_PER_MINUTE")
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
		return errors.New("config: redisAddr is required for token revocation and rate limiting")
	}
	if len(strings.TrimSpace(cfg.JWTSecret)) < 32 {
		return errors.New("config: jwtSecret is required and must be at least 32 characters (set JWT_SECRET)")
	}
	if cfg.MinioEndpoint != "" && (cfg.MinioAccessKey == "" || cfg.MinioSecretKey == "" || cfg.MinioBucket == "") {
		return errors.New("config: minioEndpoint requires minioAccessKey, minioSecretKey and minioBucket")
	}
	if cfg.MaxActiveBlocks < 0 {
		return errors.New("config: maxActiveBlocks must be >= 0")
	}
	if cfg.SignupRateLimitPerMinute < 0 || cfg.LoginRateLimitPerMinute < 0 || cfg.OTPRateLimitPerMinute < 0 ||
		cfg.ResendRateLimitPerMinute < 0 || cfg.PaymentOTPRateLimitPerMinute < 0 || cfg.CaptchaRateLimitPerMinute < 0 {
		return errors.New("config: rate limits must be >= 0")
	}
	return nil
}

// ParseSessionTTL parses optional session TTL duration string.
func ParseSessionTTL(ttlStr string) (time.Duration, error) {
	if ttlStr == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(ttlStr)
	if err != nil {
		return 0, fmt.Errorf("invalid sessionTTL duration: %w", err)
	}
	return dur, nil
}

// ParseBlockCooldown parses the optional block cooldown duration string.
func ParseBlockCooldown(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil || dur <= 0 {
		return 0, fmt.Errorf("invalid blockCooldown duration %q", raw)
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
