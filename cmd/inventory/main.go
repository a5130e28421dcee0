package main

import (
	"context"
	"github.com/ariefcatur/go-flower-orders/internal/config"
	"github.com/ariefcatur/go-flower-orders/internal/inventory/projector"
	kafkax "github.com/ariefcatur/go-flower-orders/internal/kafka"
	"github.com/ariefcatur/go-flower-orders/internal/logging"
	"github.com/ariefcatur/go-flower-orders/internal/redisx"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log := logging.MustNew(cfg.ServiceName+"-inventory", cfg.Env)
	defer func() { _ = log.Sync() }()
	zap.ReplaceGlobals(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	if err := redisx.Ping(ctx, rdb); err != nil {
		log.Fatal("redis", zap.Error(err))
	}

	p := &projector.Projector{
		Dedup:             &redisx.Dedup{RDB: rdb, Service: "inventory"},
		Stock:             &redisx.StockCache{RDB: rdb},
		LowStockThreshold: cfg.LowStockThreshold,
		Log:               log,
	}

	// Consumer
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.InventoryGroup, projector.Topics, cfg.InventoryWorkers, log)
	done := make(chan struct{})
	go func() {
		defer close(done)
		log.Info("inventory projector started",
			zap.String("group", cfg.InventoryGroup),
			zap.Strings("topics", projector.Topics),
			zap.Int("workers", cfg.InventoryWorkers),
		)
		if err := cons.Start(ctx, p.Handle); err != nil {
			log.Error("consumer exit", zap.Error(err))
			cancel()
		}
	}()

	// graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
		log.Info("shutting down consumer")
	case <-ctx.Done():
	}
	cancel()
	<-done
}
