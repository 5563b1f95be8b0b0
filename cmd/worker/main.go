// cmd/worker/main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/unclebandit/outreach-engine/internal/config"
	"github.com/unclebandit/outreach-engine/internal/db"
	"github.com/unclebandit/outreach-engine/internal/gateway"
	"github.com/unclebandit/outreach-engine/internal/queue"
	"github.com/unclebandit/outreach-engine/internal/repository"
	"github.com/unclebandit/outreach-engine/internal/service"
	"github.com/unclebandit/outreach-engine/internal/tenant"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	setupLogging(cfg.LogLevel)

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer conn.Close()

	events, closeEvents, err := queue.NewAMQPPublisher(cfg.RabbitURL, cfg.RabbitQueue)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
	}
	defer closeEvents()

	executionRepo := &repository.ExecutionRepository{DB: conn}
	tenantRepo := &repository.TenantRepository{DB: conn}
	resolver := tenant.NewResolver(tenantRepo, cfg.AccountCacheTTL)

	dispatcher := &service.Dispatcher{
		Executions:  executionRepo,
		Sequences:   &repository.SequenceRepository{DB: conn},
		Contacts:    &repository.ContactRepository{DB: conn},
		Tenants:     tenantRepo,
		Resolver:    resolver,
		Gateway:     gateway.NewHTTPClient(cfg.GatewayBaseURL, cfg.GatewayToken, cfg.GatewayTimeout),
		Events:      events,
		MaxAttempts: cfg.MaxSendAttempts,
	}

	scheduler := &service.Scheduler{
		Executions:      executionRepo,
		Dispatcher:      dispatcher,
		Resolver:        resolver,
		Interval:        cfg.TickInterval,
		BatchSize:       cfg.ClaimBatchSize,
		PoolSize:        int64(cfg.WorkerPoolSize),
		TenantInFlight:  int64(cfg.TenantInFlight),
		MaxAttempts:     cfg.MaxSendAttempts,
		StaleClaimAfter: cfg.StaleClaimAfter,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Stale counter buckets are dead weight once their window has passed;
	// sweep them shortly after the daily rollover.
	sweeper := cron.New()
	if _, err := sweeper.AddFunc(cfg.CounterSweepSpec, func() {
		removed, err := tenantRepo.ResetExpiredWindows(ctx, time.Now().UTC())
		if err != nil {
			log.Error().Err(err).Msg("counter sweep failed")
			return
		}
		log.Info().Int64("removed", removed).Msg("swept expired counter windows")
	}); err != nil {
		log.Fatal().Err(err).Str("spec", cfg.CounterSweepSpec).Msg("invalid counter sweep schedule")
	}
	sweeper.Start()
	defer sweeper.Stop()

	log.Info().
		Dur("tick_interval", cfg.TickInterval).
		Int("batch_size", cfg.ClaimBatchSize).
		Int("pool_size", cfg.WorkerPoolSize).
		Msg("worker starting")
	scheduler.Run(ctx)
}

func setupLogging(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}
