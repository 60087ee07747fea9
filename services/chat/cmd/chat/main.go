package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"ransomhub/internal/util"
	"ransomhub/pkg/ledger"
	"ransomhub/pkg/notify"
	"ransomhub/pkg/queue"
	"ransomhub/services/chat/internal/app"
	"ransomhub/services/chat/internal/config"
	"ransomhub/services/chat/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	ledgerTimeout, err := config.ParseLedgerTimeout(cfg.LedgerTimeout)
	if err != nil {
		log.Fatalf("failed to parse ledger timeout: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	publisher, err := notify.NewRedisPublisher(cfg.RedisAddr, cfg.RedisPassword, cfg.NotifyPrefix)
	if err != nil {
		log.Fatalf("failed to init notifier: %v", err)
	}
	defer publisher.Close()

	var ledgerClient app.Ledger
	var mirror *queue.RedisMirrorQueue
	if cfg.LedgerURL != "" {
		client, err := ledger.NewClient(ledger.Config{
			BaseURL: cfg.LedgerURL,
			Timeout: ledgerTimeout,
			Logger:  logger,
		})
		if err != nil {
			log.Fatalf("failed to init ledger client: %v", err)
		}
		ledgerClient = client
		mirror, err = queue.NewRedisMirrorQueue(queue.MirrorQueueConfig{
			Addr:       cfg.RedisAddr,
			Password:   cfg.RedisPassword,
			Stream:     cfg.MirrorStream,
			Group:      cfg.MirrorGroup,
			MaxRetries: cfg.MirrorMaxRetries,
			Logger:     logger,
		})
		if err != nil {
			log.Fatalf("failed to init mirror queue: %v", err)
		}
		defer mirror.Close()
	} else {
		logger.Warn("ledgerURL not set, messages are not mirrored")
	}

	appCfg := app.Config{
		DatabaseURL:   cfg.DatabaseURL,
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		JWTSecret:     cfg.JWTSecret,
		JWTIssuer:     cfg.JWTIssuer,
		JWTAudience:   cfg.JWTAudience,
		Notifier:      publisher,
		Ledger:        ledgerClient,
		FanOut:        cfg.NotifyFanOut,
		Logger:        logger,
	}
	if mirror != nil {
		appCfg.Mirror = mirror
	}
	appCore, err := app.New(appCfg)
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}
	if mirror != nil {
		mirror.Start(ctx, cfg.MirrorWorkers, appCore.MirrorHandler())
	}

	trusted, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}
	httpServer, err := server.New(server.Config{
		App:                       appCore,
		RedisAddr:                 cfg.RedisAddr,
		RedisPassword:             cfg.RedisPassword,
		MessageRateLimitPerMinute: cfg.MessageRateLimitPerMinute,
		FileRateLimitPerMinute:    cfg.FileRateLimitPerMinute,
		GroupRateLimitPerMinute:   cfg.GroupRateLimitPerMinute,
		AllowedOrigins:            cfg.AllowedOrigins,
		TrustedProxies:            trusted,
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
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("chat server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
