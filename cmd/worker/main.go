package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/chartquery-api/internal/config"
	"github.com/jwalitptl/chartquery-api/internal/llm"
	"github.com/jwalitptl/chartquery-api/internal/objectstore"
	"github.com/jwalitptl/chartquery-api/internal/repository/postgres"
	summaryService "github.com/jwalitptl/chartquery-api/internal/service/summary"
	"github.com/jwalitptl/chartquery-api/internal/worker"
	"github.com/jwalitptl/chartquery-api/pkg/logger"
	"github.com/jwalitptl/chartquery-api/pkg/messaging"
	messagingRedis "github.com/jwalitptl/chartquery-api/pkg/messaging/redis"
	"github.com/jwalitptl/chartquery-api/pkg/metrics"
	"github.com/jwalitptl/chartquery-api/pkg/upstream"
)

func main() {
	log.Logger = logger.NewLogger(nil).Zerolog()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	broker, err := messagingRedis.NewRedisBroker(messagingRedis.Config{
		URL:          cfg.Redis.URL,
		MaxRetries:   cfg.Redis.MaxRetries,
		RetryBackoff: cfg.Redis.RetryBackoff,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
	}, &log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create redis broker")
	}
	defer broker.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.NewMetrics("chartquery", "worker")

	patientRepo := postgres.NewPatientRepository(db)
	encounterRepo := postgres.NewEncounterRepository(db)
	documentRepo := postgres.NewDocumentRepository(db)
	summaryRepo := postgres.NewSummaryRepository(db)

	objects, err := objectstore.NewGCSStore(ctx, cfg.ObjectStore, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create object store client")
	}
	completer, err := llm.NewClient(cfg.LLM, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create LLM client")
	}

	objectCaller := upstream.NewCaller("object_store", cfg.Engine.RetryBackoff, m)
	llmCaller := upstream.NewCaller("llm", cfg.Engine.RetryBackoff, m)

	summarySvc := summaryService.NewService(
		patientRepo, encounterRepo, documentRepo, summaryRepo,
		objects, completer, objectCaller, llmCaller, m, log.Logger,
	)

	aggregator := worker.NewAggregator(
		messaging.NewBrokerAdapter(broker),
		encounterRepo,
		summarySvc,
		worker.AggregatorConfig{SweepInterval: cfg.Engine.SweepInterval},
		log.Logger,
	)

	setupHealthCheck()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info().Msg("shutting down")
		cancel()
	}()

	if err := aggregator.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("aggregator failed")
	}
}

func setupHealthCheck() {
	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	go func() {
		if err := http.ListenAndServe(":8081", mux); err != nil {
			log.Error().Err(err).Msg("health check server failed")
			os.Exit(1)
		}
	}()
}
