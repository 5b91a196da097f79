// Package main runs the background job worker: PayPal fulfilment and tracking forwarding.
package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aura-webinar/funnel/config"
	"github.com/aura-webinar/funnel/internal/models"
	"github.com/aura-webinar/funnel/internal/offers"
	"github.com/aura-webinar/funnel/internal/payments"
	"github.com/aura-webinar/funnel/internal/telemetry"
	"github.com/aura-webinar/funnel/internal/tracking"
	"github.com/aura-webinar/funnel/internal/worker"
	"github.com/aura-webinar/funnel/pkg/database"
	"github.com/aura-webinar/funnel/pkg/queue"
	"github.com/aura-webinar/funnel/pkg/redis"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), database.PoolOptions{MaxConns: int32(cfg.Database.MaxConns)}, logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := redis.NewClient(ctx, redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	// Pending payments are granted only after the provider confirms the capture.
	verifiers := map[string]worker.PaymentVerifier{}
	if cfg.PayPal.Enabled() {
		paypalGateway, err := payments.NewPayPalGateway(payments.PayPalConfig{
			ClientID: cfg.PayPal.ClientID,
			Secret:   cfg.PayPal.ClientSecret,
			Sandbox:  cfg.PayPal.Sandbox,
		}, logger)
		if err != nil {
			logger.Fatal("paypal", zap.Error(err))
		}
		verifiers[models.PaymentProviderPayPal] = paypalGateway
	} else {
		logger.Warn("paypal not configured; pending paypal payments stay unfulfilled")
	}

	processor := worker.NewProcessor(worker.Deps{
		Queue:     queue.NewQueue(rdb.Client, logger),
		Pending:   payments.NewPendingRepository(pool),
		Offers:    offers.NewRepository(pool),
		Verifiers: verifiers,
		Events:    tracking.NewRepository(pool),
		Forwarder: tracking.NewLogForwarder(logger),
		Reporter:  telemetry.NewReporter(logger),
		Logger:    logger,
	})

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		processor.Run(workerCtx)
	}()
	go func() {
		defer wg.Done()
		processor.RunSweeper(workerCtx, worker.DefaultSweepInterval)
	}()
	logger.Info("worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	wg.Wait()
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
