// crawlsched is the crawl scheduling service: it accepts URLs over HTTP,
// leases due work from Postgres, dispatches it to RabbitMQ, runs the fetch
// pipeline workers and recycles failed deliveries through the dead-letter
// retry ring.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"crawlsched/internal/api"
	"crawlsched/internal/broker"
	"crawlsched/internal/config"
	"crawlsched/internal/dlq"
	"crawlsched/internal/domain"
	"crawlsched/internal/events"
	"crawlsched/internal/scheduler"
	"crawlsched/internal/store"
	"crawlsched/internal/worker"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg := config.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Storage.
	pool, err := store.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := store.EnsureSchema(ctx, pool); err != nil {
		return err
	}

	// Broker and topology.
	conn, err := broker.Dial(cfg.AMQPURL, logger)
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := conn.DeclareTopology(domain.Events()); err != nil {
		return err
	}
	publisher := broker.NewPublisher(conn, logger)

	// Intake service shared by the HTTP surface and the discovery worker.
	intake := scheduler.NewIntake(pool, store.SchedulerRepo{}, logger)

	// Event stream hub; dispatch events go to both the log and the stream.
	hub := api.NewHub(logger)
	defer hub.Close()
	sink := events.Fanout{events.LogPublisher{Logger: logger}, hub}

	// Dispatch loops.
	dispatcher := scheduler.New(store.NewWork(pool), publisher, sink, logger)
	if err := dispatcher.Start(ctx); err != nil {
		return err
	}
	defer dispatcher.Stop()

	// Dead-letter retry ring.
	ring := dlq.NewRing(publisher, logger)
	if err := ring.Start(ctx, conn, domain.Events()); err != nil {
		return err
	}

	// Pipeline workers.
	breaker := worker.NewCircuitBreaker(3, 5*time.Second)
	client := worker.NewHTTPClient(breaker)
	if err := worker.NewFetcher(pool, client, publisher, logger).Start(ctx, conn); err != nil {
		return err
	}
	if err := worker.NewParser(pool, logger).Start(ctx, conn); err != nil {
		return err
	}
	if err := worker.NewDiscovery(client, intake, logger).Start(ctx, conn); err != nil {
		return err
	}

	// Intake API.
	var idem api.IdempotencyStore = api.NewMemoryIdempotency()
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		idem = api.NewRedisIdempotency(rdb, logger)
	}
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: api.New(intake, pool, idem, hub, logger).Routes(),
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		return err
	case amqpErr := <-conn.NotifyClose():
		if amqpErr != nil {
			return amqpErr
		}
		return errors.New("amqp connection closed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "err", err)
	}
	return nil
}
