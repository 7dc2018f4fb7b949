package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"realty-chat/internal/api"
	"realty-chat/internal/audit"
	"realty-chat/internal/auth"
	"realty-chat/internal/bus"
	"realty-chat/internal/config"
	"realty-chat/internal/logger"
	"realty-chat/internal/middleware"
	"realty-chat/internal/presence"
	"realty-chat/internal/storage"
	"realty-chat/internal/websocket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Logger.Level, cfg.Logger.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if !cfg.Logger.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(cfg, log); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	opts := websocket.Options{Logger: log, NodeName: cfg.Server.NodeName}

	if cfg.Redis.Addr != "" {
		rdb, err := presence.NewRedisClient(presence.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return err
		}
		defer func() { _ = rdb.Close() }()

		opts.Registry = presence.NewRedisRegistry(rdb, cfg.Redis.Prefix, cfg.Server.NodeName)
		opts.Membership = presence.NewRedisMembership(rdb, cfg.Redis.Prefix)
		log.Info("using redis presence stores", zap.String("addr", cfg.Redis.Addr), zap.String("prefix", cfg.Redis.Prefix))
	} else {
		log.Info("using in-memory presence stores")
	}

	if cfg.NATS.URL != "" {
		natsBus, err := bus.Connect(bus.Config{URL: cfg.NATS.URL, Name: cfg.Server.NodeName, Prefix: cfg.Redis.Prefix}, log)
		if err != nil {
			return err
		}
		defer func() {
			if err := natsBus.Close(); err != nil {
				log.Warn("nats drain failed", zap.Error(err))
			}
		}()
		opts.Bus = natsBus
		log.Info("cross-node bus enabled", zap.String("url", cfg.NATS.URL))
	}

	var auditQuerier api.AuditQuerier
	if cfg.Storage.DBPath != "" {
		db, err := storage.Connect(cfg.Storage.DBPath)
		if err != nil {
			return err
		}
		defer func() { _ = storage.Close(db) }()

		auditService := audit.NewAuditService(db)
		opts.Recorder = auditService
		auditQuerier = auditService
	}

	hub := websocket.NewHub(opts)
	recoverCtx, cancelRecover := context.WithTimeout(context.Background(), 10*time.Second)
	err := hub.Recover(recoverCtx)
	cancelRecover()
	if err != nil {
		return err
	}
	tokens := auth.NewTokenService(cfg.JWT.Secret, cfg.JWT.TokenTTL)

	router := api.NewRouter(api.Dependencies{
		Hub:            hub,
		Gate:           auth.NewGate(tokens),
		Audit:          auditQuerier,
		ServiceKeyHash: cfg.Security.ServiceKeyHash,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		HandshakeLimit: middleware.RateLimitConfig{
			RequestsPerSecond: float64(cfg.Server.HandshakeRPS),
			BurstSize:         cfg.Server.HandshakeBurst,
		},
		Logger: log,
	})
	server := api.NewServer(cfg.Addr(), api.NewEngine(log), router, hub, log)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Serve() }()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		log.Info("shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Warn("shutdown incomplete", zap.Error(err))
	}
	return nil
}
