package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"ledger-mirror/config"
	httpHandler "ledger-mirror/internal/adapter/http/handler"
	"ledger-mirror/internal/adapter/rpc"
	pgStorage "ledger-mirror/internal/adapter/storage/postgres"
	redisStorage "ledger-mirror/internal/adapter/storage/redis"
	"ledger-mirror/internal/core/ports"
	"ledger-mirror/internal/service"
	"ledger-mirror/pkg/logger"

	"github.com/gin-gonic/gin"
)

func main() {
	// Load configuration
	cfg, err := config.Load(os.Getenv("LEDGER_CONFIG_FILE"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)
	gin.SetMode(cfg.Server.Mode)

	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Str("ledger", cfg.Ledger.Address).
		Msg("Starting ledger mirror")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// A missing or broken deployment is reported through every operation,
	// so the process still starts and serves the CONFIGURATION status.
	contract, err := rpc.LoadContract(cfg.Ledger)
	if err != nil {
		log.Error().Err(err).Msg("Ledger is not configured, running without it")
		contract = nil
	}

	gateway := rpc.NewGateway(contract, cfg.Ledger, logger.Component(log, "gateway"))
	wallet := rpc.NewWallet(contract, cfg.Wallet, logger.Component(log, "wallet"))
	checkers := []ports.HealthChecker{gateway}

	// Optional Redis: snapshot cache, inconclusive-tx journal, rate limits
	var (
		snapshotCache  ports.SnapshotCache
		txJournal      ports.TxJournal
		rateLimitStore *redisStorage.RateLimitStore
	)
	if cfg.Redis.Enabled {
		rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer rdb.Close()
		log.Info().Msg("Redis connected")

		ns := redisStorage.Namespace(cfg.Ledger.Address)
		snapshotCache = redisStorage.NewSnapshotCache(rdb, ns, cfg.Redis.SnapshotTTL)
		txJournal = redisStorage.NewTxJournal(rdb, ns, cfg.Redis.JournalTTL)
		rateLimitStore = redisStorage.NewRateLimitStore(rdb, ns)
		checkers = append(checkers, redisStorage.NewHealthCheck(rdb))
	}

	// Optional PostgreSQL: confirmed entry archive
	var archive ports.EntryArchive
	if cfg.Database.Enabled {
		pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
		}
		defer pool.Close()
		if err := pgStorage.EnsureSchema(ctx, pool); err != nil {
			log.Fatal().Err(err).Msg("Failed to prepare PostgreSQL schema")
		}
		log.Info().Msg("PostgreSQL connected")

		archive = pgStorage.NewEntryArchive(pool, pgStorage.NewTransactor(pool), cfg.Ledger.Address)
		checkers = append(checkers, pgStorage.NewHealthCheck(pool))
	}

	// Core
	store := service.NewStore(service.StoreOptions{
		MaxEntries:        cfg.Mirror.MaxEntries,
		OptimisticEntries: cfg.Mirror.OptimisticEntries,
	}, logger.Component(log, "store"))

	loader := service.NewSnapshotLoader(gateway, store, snapshotCache, cfg.Snapshot, logger.Component(log, "snapshot"))
	if restored, err := loader.Restore(ctx); err != nil {
		log.Warn().Err(err).Msg("Snapshot cache unreadable, waiting for the first load")
	} else if restored {
		log.Info().Msg("Rendering cached snapshot until the first load completes")
	}

	reconciler := service.NewReconciler(gateway, store, loader, cfg.Mirror, logger.Component(log, "reconciler"))
	txController := service.NewTxController(gateway, wallet, store, loader, txJournal, service.TxControllerOptions{
		Configured:         contract != nil,
		BroadcastViaWallet: cfg.Wallet.BroadcastViaWallet,
		ReceiptTimeout:     cfg.Ledger.ReceiptTimeout,
	}, logger.Component(log, "tx_controller"))
	mirror := service.NewMirrorService(store, txController, archive, cfg.Mirror.RecentEntries, logger.Component(log, "mirror"))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := reconciler.Run(ctx); err != nil {
			log.Error().Err(err).Msg("Reconciler stopped")
		}
	}()
	go func() {
		defer wg.Done()
		mirror.RunArchiver(ctx)
	}()
	if txJournal != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := txController.ResumeInconclusive(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("Re-checking inconclusive transactions failed")
				return
			}
			if n > 0 {
				log.Info().Int("settled", n).Msg("Settled inconclusive transactions from a previous run")
			}
		}()
	}

	// Setup Gin router with all routes
	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		Mirror:         mirror,
		RateLimitStore: rateLimitStore,
		HealthCheckers: checkers,
		Logger:         logger.Component(log, "http"),
	})

	// HTTP Server with graceful shutdown
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		// Event streams end when their request context does.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	txController.Close()
	wg.Wait()
	log.Info().Msg("Server exited")
}
