package main

import (
	"log"
	"log/slog"
	"net/http"
	"time"

	"ransomhub/internal/util"
	"ransomhub/services/gateway/internal/config"
	"ransomhub/services/gateway/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	upstreamTimeout, err := config.ParseUpstreamTimeout(cfg.UpstreamTimeout)
	if err != nil {
		log.Fatalf("failed to parse upstream timeout: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	trusted, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}
	httpServer, err := server.New(server.Config{
		AccountURL:                cfg.AccountServiceURL,
		ChatURL:                   cfg.ChatServiceURL,
		RedisAddr:                 cfg.RedisAddr,
		RedisPassword:             cfg.RedisPassword,
		RequestRateLimitPerMinute: cfg.RequestRateLimitPerMinute,
		UpstreamTimeout:           upstreamTimeout,
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
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("gateway listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
