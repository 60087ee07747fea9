package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const baseConfig = `
port: "8081"
databaseURL: postgres://localhost/ransomhub
redisAddr: localhost:6379
jwtSecret: 0123456789abcdef0123456789abcdef
allowedOrigins: ["https://app.example.com"]
loginRateLimitPerMinute: 7
`

func TestLoadAppliesEnvOverrides(t *testing.T) {
	path := writeConfig(t, baseConfig)
	t.Setenv("DATABASE_URL", "postgres://db/override")
	t.Setenv("RABBITMQ_URL", "amqp://guest:guest@mq:5672/")
	t.Setenv("ACCOUNT_LOGIN_RATE_LIMIT_PER_MINUTE", "3")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8, 192.168.0.1")
	t.Setenv("MINIO_USE_SSL", "true")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DatabaseURL != "postgres://db/override" || cfg.RabbitMQURL != "amqp://guest:guest@mq:5672/" {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
	if cfg.LoginRateLimitPerMinute != 3 {
		t.Fatalf("expected login limit 3, got %d", cfg.LoginRateLimitPerMinute)
	}
	if len(cfg.TrustedProxies) != 2 || cfg.TrustedProxies[1] != "192.168.0.1" {
		t.Fatalf("unexpected trusted proxies: %v", cfg.TrustedProxies)
	}
	if !cfg.MinioUseSSL || len(cfg.AllowedOrigins) != 1 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestLoadRejectsShortSecret(t *testing.T) {
	path := writeConfig(t, strings.Replace(baseConfig, "0123456789abcdef0123456789abcdef", "short", 1))
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "jwtSecret") {
		t.Fatalf("expected jwtSecret error, got %v", err)
	}
}

func TestLoadRejectsPartialMinio(t *testing.T) {
	path := writeConfig(t, baseConfig+"minioEndpoint: minio:9000\n")
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "minioEndpoint") {
		t.Fatalf("expected minio error, got %v", err)
	}
}

func TestParseBlockCooldown(t *testing.T) {
	if d, err := ParseBlockCooldown(""); err != nil || d != 0 {
		t.Fatalf("empty cooldown: %v %v", d, err)
	}
	if d, err := ParseBlockCooldown("10m"); err != nil || d != 10*time.Minute {
		t.Fatalf("10m cooldown: %v %v", d, err)
	}
	if _, err := ParseBlockCooldown("-1s"); err == nil {
		t.Fatalf("expected error for negative cooldown")
	}
}
