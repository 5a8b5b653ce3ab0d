package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/aristath/folio/internal/clientdata"
	"github.com/aristath/folio/internal/clients/binance"
	"github.com/aristath/folio/internal/clients/bybit"
	"github.com/aristath/folio/internal/clients/nbp"
	"github.com/aristath/folio/internal/config"
	"github.com/aristath/folio/internal/database"
	"github.com/aristath/folio/internal/modules/costbasis"
	costbasishandlers "github.com/aristath/folio/internal/modules/costbasis/handlers"
	"github.com/aristath/folio/internal/modules/ledger"
	ledgerhandlers "github.com/aristath/folio/internal/modules/ledger/handlers"
	syncmod "github.com/aristath/folio/internal/modules/sync"
	"github.com/aristath/folio/internal/modules/valuation"
	"github.com/aristath/folio/internal/reliability"
	"github.com/aristath/folio/internal/scheduler"
	"github.com/aristath/folio/internal/server"
	"github.com/aristath/folio/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := logger.New(logger.Config{Level: "info", Pretty: true})
		fallback.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})

	log.Info().Str("data_dir", cfg.DataDir).Msg("Starting Folio")

	// Databases: the ledger gets full durability, the cache trades
	// durability for speed since everything in it can be refetched.
	ledgerDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "ledger.db"),
		Profile: database.ProfileLedger,
		Name:    "ledger",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open ledger database")
	}
	defer ledgerDB.Close()

	cacheDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "cache.db"),
		Profile: database.ProfileCache,
		Name:    "cache",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open cache database")
	}
	defer cacheDB.Close()

	for _, db := range []*database.DB{ledgerDB, cacheDB} {
		if err := db.Migrate(); err != nil {
			log.Fatal().Err(err).Str("database", db.Name()).Msg("Failed to run migrations")
		}
	}

	// Repositories and services
	ledgerRepo := ledger.NewRepository(ledgerDB.Conn(), log)
	cacheRepo := clientdata.NewRepository(cacheDB.Conn())

	nbpClient := nbp.NewClient(cfg.NBPBaseURL, cacheRepo, log)
	valuationSvc := valuation.NewService(nbpClient, log)
	costBasisSvc := costbasis.NewService(ledgerRepo, cacheRepo, log)

	var exchanges []syncmod.ExchangeClient
	if cfg.Binance.Configured() {
		exchanges = append(exchanges, binance.NewClient(cfg.Binance.APIKey, cfg.Binance.APISecret, log))
	}
	if cfg.Bybit.Configured() {
		exchanges = append(exchanges, bybit.NewClient(cfg.Bybit.APIKey, cfg.Bybit.APISecret, log))
	}
	if len(exchanges) == 0 {
		log.Warn().Msg("No exchange credentials configured, sync disabled")
	}

	syncSvc := syncmod.NewService(
		exchanges,
		ledgerRepo,
		valuationSvc,
		costBasisSvc,
		reliability.NewRetryPolicy(log),
		cfg.SyncSymbols,
		1000,
		log,
	)

	// Background jobs
	sched := scheduler.New(log)

	if len(exchanges) > 0 {
		if err := sched.AddJob(cfg.SyncSpec, syncmod.NewJob(syncSvc, log)); err != nil {
			log.Fatal().Err(err).Msg("Failed to register sync job")
		}
	}
	if err := sched.AddJob("@daily", clientdata.NewCleanupJob(cacheRepo, log)); err != nil {
		log.Fatal().Err(err).Msg("Failed to register cleanup job")
	}

	if cfg.Backup.Enabled {
		s3Client, err := reliability.NewS3Client(context.Background(), reliability.S3Config{
			Endpoint:  cfg.Backup.Endpoint,
			Region:    cfg.Backup.Region,
			Bucket:    cfg.Backup.Bucket,
			AccessKey: cfg.Backup.AccessKey,
			SecretKey: cfg.Backup.SecretKey,
		}, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize backup storage")
		}
		backupSvc := reliability.NewBackupService(s3Client, cfg.DataDir, log)
		if err := sched.AddJob(cfg.Backup.Spec, reliability.NewBackupJob(backupSvc)); err != nil {
			log.Fatal().Err(err).Msg("Failed to register backup job")
		}
	}

	sched.Start()
	defer sched.Stop()

	// Live price stream for unrealized P&L
	streamCtx, stopStream := context.WithCancel(context.Background())
	defer stopStream()
	go binance.NewTickerStream(cacheRepo, log).Run(streamCtx, cfg.SyncSymbols)

	// HTTP server
	srv := server.New(server.Config{
		Port:          cfg.Port,
		DevMode:       cfg.DevMode,
		Log:           log,
		LedgerDB:      ledgerDB,
		CacheDB:       cacheDB,
		LedgerHandler: ledgerhandlers.NewHandler(ledgerRepo, log),
		PnLHandler:    costbasishandlers.NewHandler(costBasisSvc, log),
		SyncService:   syncSvc,
		Valuation:     valuationSvc,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}
