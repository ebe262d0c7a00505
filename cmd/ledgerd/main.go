// Command ledgerd runs the off-chain deposit session ledger service.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/prizepool-labs/ledger-service/api"
	"github.com/prizepool-labs/ledger-service/internal/config"
	"github.com/prizepool-labs/ledger-service/internal/store"
	"github.com/prizepool-labs/ledger-service/pkg/logger"
	"github.com/prizepool-labs/ledger-service/services/ledger"
	"github.com/prizepool-labs/ledger-service/services/wallet"
)

func main() {
	configPath := flag.String("config", "config/ledgerd.yaml", "path to configuration file")
	flag.Parse()

	// Optional .env for local development.
	_ = godotenv.Load()

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		logger.NewDefault("ledgerd").WithError(err).Error("failed to load configuration")
		os.Exit(1)
	}

	log := logger.New("ledgerd", logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	if cfg.Auth.JWTSecret == "" {
		log.Error("LEDGERD_JWT_SECRET is required")
		os.Exit(1)
	}

	recordStore, err := store.New(cfg.Store.Backend, store.Options{
		DataDir:     cfg.Store.DataDir,
		RedisAddr:   cfg.Store.RedisAddr,
		RedisDB:     cfg.Store.RedisDB,
		PostgresDSN: cfg.Store.PostgresDSN,
		Logger:      log,
	})
	if err != nil {
		log.WithError(err).Error("failed to open record store")
		os.Exit(1)
	}
	defer recordStore.Close()

	log.WithField("backend", cfg.Store.Backend).Info("record store ready")

	auth := wallet.NewAuthenticator(
		[]byte(cfg.Auth.JWTSecret),
		cfg.Auth.TokenTTL,
		cfg.Auth.NonceTTL,
		log,
	)

	hub := api.NewEventHub(func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, allowed := range cfg.Server.AllowedOrigins {
			if allowed == origin {
				return true
			}
		}
		return false
	}, log)

	ledgerSvc := ledger.New(recordStore, ledger.NewSimulatedSubmitter(), log,
		ledger.WithTTL(cfg.Ledger.SessionTTL),
		ledger.WithMetrics(ledger.NewMetrics(nil)),
		ledger.WithEvents(hub),
	)

	// Background expiry sweep. Lazy checks in each operation remain
	// authoritative; this only tightens purge latency.
	var sweeper *cron.Cron
	if cfg.Ledger.SweepEnable {
		sweeper = cron.New()
		if _, err := sweeper.AddFunc(cfg.Ledger.SweepSpec, func() {
			if purged := ledgerSvc.SweepExpired(context.Background()); purged > 0 {
				log.WithField("purged", purged).Info("expired sessions swept")
			}
		}); err != nil {
			log.WithError(err).Error("invalid sweep schedule")
			os.Exit(1)
		}
		sweeper.Start()
		defer sweeper.Stop()
	}

	server := api.NewServer(ledgerSvc, auth, hub, cfg.Server, log)
	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.WithField("addr", cfg.Server.Addr).Info("ledgerd listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("http server failed")
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("graceful shutdown incomplete")
	}
}
