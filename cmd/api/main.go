package main

import (
	"context"
	"errors"
	"github.com/ariefcatur/go-flower-orders/internal/config"
	"github.com/ariefcatur/go-flower-orders/internal/httpx"
	"github.com/ariefcatur/go-flower-orders/internal/inventory"
	kafkax "github.com/ariefcatur/go-flower-orders/internal/kafka"
	"github.com/ariefcatur/go-flower-orders/internal/logging"
	"github.com/ariefcatur/go-flower-orders/internal/memory"
	"github.com/ariefcatur/go-flower-orders/internal/metrics"
	"github.com/ariefcatur/go-flower-orders/internal/orders"
	"github.com/ariefcatur/go-flower-orders/internal/postgres"
	"github.com/ariefcatur/go-flower-orders/internal/redisx"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logging.MustNew(cfg.ServiceName, cfg.Env)
	defer func() { _ = log.Sync() }()
	zap.ReplaceGlobals(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Store
	var store orders.Store
	switch cfg.StoreDriver {
	case config.DriverMemory:
		mem := memory.NewStore()
		seedFlowers(mem, log)
		store = mem
	default:
		db, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.PGMaxConns)
		if err != nil {
			log.Fatal("db connect", zap.Error(err))
		}
		defer db.Close()
		if cfg.AutoMigrate {
			if err := postgres.Migrate(ctx, db); err != nil {
				log.Fatal("migrate", zap.Error(err))
			}
		}
		store = &orders.Repo{DB: db}
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	if err := redisx.Ping(ctx, rdb); err != nil {
		log.Warn("redis unavailable, cache and idempotency calls will fail", zap.Error(err))
	}

	// Kafka producer
	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024, log)
	prod.Start()

	m := metrics.New(prometheus.DefaultRegisterer)
	svc := &orders.Service{
		Store:     store,
		Ledger:    inventory.NewLedger(m),
		Publisher: prod,
		Metrics:   m,
		Producer:  cfg.ServiceName,
	}

	router := httpx.NewRouter(log, cfg.RequestTimeout, prometheus.DefaultGatherer)
	oh := &httpx.OrdersHandler{
		Service: svc,
		Idem:    &redisx.Idempotency{RDB: rdb},
		Status:  &redisx.StatusCache{RDB: rdb},
		Stock:   &redisx.StockCache{RDB: rdb},
	}
	oh.Register(router)

	// HTTP server
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	// graceful shutdown
	go func() {
		log.Info("http listening", zap.String("addr", cfg.HTTPAddr), zap.String("store", cfg.StoreDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("listen", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	if err := srv.Shutdown(ctx2); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	prod.Close() // flush buffered events before exit
}

// seedFlowers gives the memory store a small catalogue with stable ids.
func seedFlowers(s *memory.Store, log *zap.Logger) {
	catalogue := []struct {
		name  string
		price int64
		stock int
	}{
		{"red rose", 15000, 50},
		{"white tulip", 12000, 30},
		{"peony", 30000, 10},
	}
	for _, c := range catalogue {
		id := uuid.NewSHA1(uuid.NameSpaceOID, []byte("flower:"+c.name)).String()
		s.PutFlower(orders.Flower{ID: id, Name: c.name, Price: c.price, Stock: c.stock})
		log.Info("seeded flower", zap.String("flower_id", id), zap.String("name", c.name), zap.Int("stock", c.stock))
	}
}
