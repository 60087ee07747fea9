package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"time"

	"ransomhub/internal/captcha"
	"ransomhub/internal/ratelimit"
	"ransomhub/internal/util"
	"ransomhub/pkg/mail"
	"ransomhub/pkg/storage"
	"ransomhub/pkg/verification"
	"ransomhub/services/account/internal/app"
	"ransomhub/services/account/internal/config"
	"ransomhub/services/account/internal/security"
	"ransomhub/services/account/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	sessionTTL, err := config.ParseSessionTTL(cfg.SessionTTL)
	if err != nil {
		log.Fatalf("failed to parse session TTL: %v", err)
	}
	blockCooldown, err := config.ParseBlockCooldown(cfg.BlockCooldown)
	if err != nil {
		log.Fatalf("failed to parse block cooldown: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	var mailer verification.Mailer = mail.LogMailer{Logger: logger}
	if cfg.RabbitMQURL != "" {
		amqpMailer, err := mail.NewAMQPMailer(cfg.RabbitMQURL, cfg.MailQueue)
		if err != nil {
			log.Fatalf("failed to init mailer: %v", err)
		}
		defer amqpMailer.Close()
		mailer = amqpMailer
	} else {
		logger.Warn("rabbitmqURL not set, verification codes are only logged")
	}

	var objects storage.ObjectStore
	if cfg.MinioEndpoint != "" {
		minioStore, err := storage.NewMinioStore(context.Background(), storage.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			log.Fatalf("failed to init object storage: %v", err)
		}
		objects = minioStore
	}

	var captchaVerifier app.CaptchaVerifier
	if cfg.CaptchaSecret != "" {
		verifier, err := captcha.NewVerifier(cfg.CaptchaSecret, cfg.CaptchaVerifyURL, &http.Client{Timeout: 10 * time.Second})
		if err != nil {
			log.Fatalf("failed to init captcha: %v", err)
		}
		captchaVerifier = verifier
	}

	cooldown := ratelimit.DefaultCooldownPolicy()
	if blockCooldown > 0 {
		cooldown.Cooldown = blockCooldown
	}
	if cfg.MaxActiveBlocks > 0 {
		cooldown.MaxBlocks = cfg.MaxActiveBlocks
	}

	appCore, err := app.New(app.Config{
		DatabaseURL:   cfg.DatabaseURL,
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		JWTSecret:     cfg.JWTSecret,
		JWTIssuer:     cfg.JWTIssuer,
		JWTAudience:   cfg.JWTAudience,
		SessionTTL:    sessionTTL,
		Mailer:        mailer,
		Objects:       objects,
		Captcha:       captchaVerifier,
		Cooldown:      cooldown,
		Logger:        logger,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	trusted, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}
	alerter := security.NewAuditAlerter(cfg.RedisAddr, cfg.RedisPassword, "")
	defer alerter.Close()

	httpServer, err := server.New(server.Config{
		App:                          appCore,
		Alerter:                      alerter,
		RedisAddr:                    cfg.RedisAddr,
		RedisPassword:                cfg.RedisPassword,
		SignupRateLimitPerMinute:     cfg.SignupRateLimitPerMinute,
		LoginRateLimitPerMinute:      cfg.LoginRateLimitPerMinute,
		OTPRateLimitPerMinute:        cfg.OTPRateLimitPerMinute,
		ResendRateLimitPerMinute:     cfg.ResendRateLimitPerMinute,
		PaymentOTPRateLimitPerMinute: cfg.PaymentOTPRateLimitPerMinute,
		CaptchaRateLimitPerMinute:    cfg.CaptchaRateLimitPerMinute,
		AllowedOrigins:               cfg.AllowedOrigins,
		TrustedProxies:               trusted,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("account server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
