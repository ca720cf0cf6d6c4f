package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/silvermint/dexquote/internal/cache"
	"github.com/silvermint/dexquote/internal/compute"
	"github.com/silvermint/dexquote/internal/config"
	"github.com/silvermint/dexquote/internal/pool"
	"github.com/silvermint/dexquote/internal/pubsub"
	"github.com/silvermint/dexquote/internal/server"
	"github.com/silvermint/dexquote/internal/source"
	"github.com/silvermint/dexquote/pkg/logger"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zapLogger, err := logger.New(cfg.Log.Level)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	markets, err := cfg.TrackedMarkets()
	if err != nil {
		zapLogger.Fatal("Failed to parse tracked markets", zap.Error(err))
	}

	src, err := source.NewChainSource(zapLogger, cfg.Chain.RPCURL, cfg.Chain.Contract, markets, cfg.Chain.AtomDecimals)
	if err != nil {
		zapLogger.Fatal("Failed to create chain source", zap.Error(err))
	}

	// Snapshot publishing is optional: an empty redis address disables it.
	var books *cache.Cache
	if cfg.Redis.Addr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		publisher, err := pubsub.NewRedisPublisher(ctx, zapLogger, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		cancel()
		if err != nil {
			zapLogger.Fatal("Failed to connect to redis", zap.Error(err))
		}
		defer publisher.Close()
		books = cache.New(zapLogger, src, cfg.Cache.PollInterval, publisher)
	} else {
		books = cache.New(zapLogger, src, cfg.Cache.PollInterval, nil)
	}

	computePool, err := pool.New(zapLogger, pool.Config{
		MinWorkers:   cfg.Pool.MinWorkers,
		MaxWorkers:   cfg.Pool.MaxWorkers,
		MaxQueueSize: cfg.Pool.MaxQueueSize,
	})
	if err != nil {
		zapLogger.Fatal("Failed to create compute pool", zap.Error(err))
	}
	compute.RegisterHandlers(computePool)
	computePool.Start()

	if err := books.Start(); err != nil {
		zapLogger.Fatal("Failed to start orderbook cache", zap.Error(err))
	}

	srv := server.New(zapLogger, books, computePool, cfg.Quote.MaxHops, decimal.NewFromFloat(cfg.Quote.RoundingBuffer))

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	go func() {
		if err := srv.Start(addr); err != nil {
			zapLogger.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	// Wait for interrupt to shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zapLogger.Info("Shutting down...")

	if err := books.Stop(); err != nil {
		zapLogger.Error("Failed to stop orderbook cache", zap.Error(err))
	}
	// Drain: in-flight and queued jobs finish before the process exits.
	computePool.Stop()

	zapLogger.Info("Server exited properly")
}
