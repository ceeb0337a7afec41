package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"activation-relay/internal/config"
	"activation-relay/internal/db"
	"activation-relay/internal/fulfillment"
	"activation-relay/internal/gateway"
	"activation-relay/internal/kafka"
	"activation-relay/internal/logging"
	"activation-relay/internal/metrics"
	"activation-relay/internal/outbox"
	"activation-relay/internal/reconcile"
	"activation-relay/internal/relay"
	"activation-relay/internal/settlement"
	"activation-relay/internal/snapshot"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	cfg := config.MustLoadConfig(".")
	logger := logging.GetLogger(cfg.Logs)
	slog.SetDefault(logger)

	metrics.Setup(cfg.Metrics, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	connStr := db.GetConnStr(cfg.Database)
	if err := db.RunMigrations(connStr); err != nil {
		log.Fatal(err)
	}

	dbpool, err := db.GetPool(ctx, connStr, cfg.Database.MaxConns)
	if err != nil {
		log.Fatal(err)
	}
	defer dbpool.Close()

	payments := db.NewPaymentRepository(dbpool)
	users := db.NewUserRepository(dbpool)
	callbacks := db.NewCallbackRepository(dbpool)
	ledger := db.NewLedgerRepository(dbpool)
	jobs := db.NewJobRepository(dbpool)

	processor := fulfillment.NewProcessor(jobs, users, ledger, db.NewCommissionDistributor(),
		cfg.Activation.Fee, cfg.Outbox, logger)
	settler := settlement.NewService(payments, jobs, callbacks, processor,
		config.Millis(cfg.Outbox.InlineGraceMs), logger)

	var publisher outbox.Publisher = outbox.NewLocalPublisher(processor, logger)
	if cfg.Kafka.Enabled() {
		jobWriter := kafka.NewWriter(cfg.Kafka)
		defer jobWriter.Close()
		publisher = kafka.NewJobPublisher(jobWriter)

		jobReader := kafka.NewReader(cfg.Kafka)
		defer jobReader.Close()
		go kafka.ReadActivationJobs(ctx, jobReader, processor, logger)

		logger.Info("Activation jobs routed through Kafka", "topic", cfg.Kafka.Topic.ActivationJobs)
	}
	outbox.NewProducer(jobs, publisher, cfg.Outbox, logger).Start(ctx)

	sweeper := reconcile.NewSweeper(payments, cfg.Reconcile, logger)
	if err := sweeper.Start(); err != nil {
		log.Fatal(err)
	}

	snapshots := newSnapshotStore(cfg.Snapshot, logger)
	gw := gateway.NewClient(cfg.Gateway, logger)
	router := relay.NewRouter(relay.NewHandler(gw, settler, snapshots, logger), cfg.Server.CORSAllowedOrigins)

	server := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Relay listening", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown", "error", err)
	}
	select {
	case <-sweeper.Stop().Done():
	case <-shutdownCtx.Done():
	}
}

func newSnapshotStore(cfg config.Snapshot, logger *slog.Logger) snapshot.Store {
	ttl := config.Millis(cfg.TTLMs)
	if cfg.RedisURL == "" {
		return snapshot.NewMemoryStore(ttl)
	}

	client, err := snapshot.NewRedisClient(cfg.RedisURL)
	if err != nil {
		logger.Error("Invalid redis url, keeping status snapshots in memory", "error", err)
		return snapshot.NewMemoryStore(ttl)
	}
	return snapshot.NewRedisStore(client, cfg.Prefix, ttl)
}
