package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/chartquery-api/internal/cache"
	"github.com/jwalitptl/chartquery-api/internal/config"
	"github.com/jwalitptl/chartquery-api/internal/handler"
	queryHandler "github.com/jwalitptl/chartquery-api/internal/handler/query"
	summaryHandler "github.com/jwalitptl/chartquery-api/internal/handler/summary"
	"github.com/jwalitptl/chartquery-api/internal/llm"
	"github.com/jwalitptl/chartquery-api/internal/model"
	"github.com/jwalitptl/chartquery-api/internal/objectstore"
	"github.com/jwalitptl/chartquery-api/internal/repository/postgres"
	"github.com/jwalitptl/chartquery-api/internal/router"
	"github.com/jwalitptl/chartquery-api/internal/semindex"
	queryService "github.com/jwalitptl/chartquery-api/internal/service/query"
	summaryService "github.com/jwalitptl/chartquery-api/internal/service/summary"
	"github.com/jwalitptl/chartquery-api/pkg/logger"
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

	m := metrics.NewMetrics("chartquery", "api")

	patientRepo := postgres.NewPatientRepository(db)
	encounterRepo := postgres.NewEncounterRepository(db)
	documentRepo := postgres.NewDocumentRepository(db)
	summaryRepo := cache.NewSummaryCache(postgres.NewSummaryRepository(db), cfg.Engine.SummaryCacheTTL, m)

	ctx := context.Background()

	index, err := semindex.NewClient(cfg.SemanticIndex, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create semantic index client")
	}
	objects, err := objectstore.NewGCSStore(ctx, cfg.ObjectStore, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create object store client")
	}
	completer, err := llm.NewClient(cfg.LLM, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create LLM client")
	}

	indexCaller := upstream.NewCaller("semantic_index", cfg.Engine.RetryBackoff, m)
	objectCaller := upstream.NewCaller("object_store", cfg.Engine.RetryBackoff, m)
	llmCaller := upstream.NewCaller("llm", cfg.Engine.RetryBackoff, m)

	summarySvc := summaryService.NewService(
		patientRepo, encounterRepo, documentRepo, summaryRepo,
		objects, completer, objectCaller, llmCaller, m, log.Logger,
	)

	resolver := queryService.NewResolver(patientRepo, encounterRepo, documentRepo, log.Logger)
	extractor := queryService.NewExtractor(cfg.Engine.DefaultWindowDays)
	selector := queryService.NewSelector(
		resolver, index, objects, completer, summarySvc,
		queryService.SelectorConfig{
			DirectLoadTokenLimit: cfg.Engine.DirectLoadTokenLimit,
			TopK:                 cfg.SemanticIndex.TopK,
		},
		queryService.Callers{Index: indexCaller, ObjectStore: objectCaller, LLM: llmCaller},
		m, log.Logger,
	)
	querySvc := queryService.NewService(extractor, resolver, selector, m, log.Logger)

	registerValidations()

	queryH := queryHandler.NewHandler(querySvc)
	summaryH := summaryHandler.NewHandler(summarySvc)

	r := router.NewRouter(queryH, summaryH, handler.NewHandler(), router.RouterConfig{
		RateLimit:      rate.Limit(cfg.Server.RateLimit),
		RateBurst:      cfg.Server.RateBurst,
		RequestTimeout: time.Duration(cfg.Server.TimeoutSeconds) * time.Second,
	})
	r.Setup()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r.Engine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
}

func registerValidations() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("mrn", func(fl validator.FieldLevel) bool {
			return model.ValidMRN(fl.Field().String())
		})
	}
}
