package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/MimeLyc/doctrans/internal/config"
	"github.com/MimeLyc/doctrans/internal/httpapi"
	"github.com/MimeLyc/doctrans/internal/ingest"
	"github.com/MimeLyc/doctrans/internal/jobs"
	"github.com/MimeLyc/doctrans/internal/lifecycle"
	"github.com/MimeLyc/doctrans/internal/llm"
	"github.com/MimeLyc/doctrans/internal/persistence"
	"github.com/MimeLyc/doctrans/internal/worker"
	"github.com/MimeLyc/doctrans/pkg/log"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.NewFromEnv()
	if err != nil {
		log.Fatal("Failed to load configuration: %v", err)
	}
	log.InitLogger(log.ParseLevel(cfg.System.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store jobs.Store
	if cfg.Storage.DBPath != "" {
		sqliteStore, err := persistence.NewSQLiteStore(cfg.Storage.DBPath)
		if err != nil {
			log.Fatal("Failed to open job store: %v", err)
		}
		defer sqliteStore.Close()
		store = sqliteStore
	} else {
		log.Warn("DB_PATH is empty, jobs will not survive a restart")
		store = jobs.NewMemoryStore()
	}

	llmClient, err := llm.NewClient(&llm.Config{
		APIKey:      cfg.LLM.APIKey,
		APIURL:      cfg.LLM.APIURL,
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout,
		SiteURL:     cfg.LLM.SiteURL,
		AppName:     cfg.LLM.AppName,
	})
	if err != nil {
		log.Fatal("Failed to create LLM client: %v", err)
	}

	translator := worker.NewLLMTranslator(llmClient, cfg.Translate.CostPer1KTokens)
	pool := worker.NewPool(cfg.Translate.WorkerCount, store, translator,
		time.Duration(cfg.Translate.ChunkTimeoutSec)*time.Second)
	pool.Start()
	defer pool.Stop()

	controllerCfg := lifecycle.DefaultControllerConfig()
	controllerCfg.SupportedLanguages = cfg.Translate.SupportedLanguages
	controller, err := lifecycle.NewController(store, pool, controllerCfg)
	if err != nil {
		log.Fatal("Failed to create lifecycle controller: %v", err)
	}

	sweeper := lifecycle.NewSweeper(store, cron.New(), cfg.Sweep.CronExpr,
		time.Duration(cfg.Sweep.StallAfterMin)*time.Minute)
	if err := sweeper.Schedule(ctx); err != nil {
		log.Fatal("Failed to schedule stall sweeper: %v", err)
	}

	ingestSvc := ingest.NewService(store, cfg.Translate.ChunkSize)
	server := httpapi.NewServer(ingestSvc, controller, store,
		httpapi.WithSweeper(sweeper),
		httpapi.WithRateLimit(cfg.HTTP.RateLimitRPS, cfg.HTTP.RateLimitBurst),
	)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.Info("HTTP server listening on %s", cfg.HTTP.Addr)
		return server.ListenAndServe(cfg.HTTP.Addr)
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && ctx.Err() == nil {
		log.Fatal("Server error: %v", err)
	}
	log.Info("Shutdown complete")
}
