package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	httpapi "github.com/roleclock/roleclock/internal/api/http"
	appAuth "github.com/roleclock/roleclock/internal/application/auth"
	appReport "github.com/roleclock/roleclock/internal/application/report"
	appRole "github.com/roleclock/roleclock/internal/application/role"
	appSync "github.com/roleclock/roleclock/internal/application/sync"
	appTracker "github.com/roleclock/roleclock/internal/application/tracker"
	"github.com/roleclock/roleclock/internal/clock"
	"github.com/roleclock/roleclock/internal/config"
	"github.com/roleclock/roleclock/internal/domain/apikey"
	"github.com/roleclock/roleclock/internal/infrastructure/httpsync"
	"github.com/roleclock/roleclock/internal/store"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	persister, err := store.OpenBolt(cfg.DataPath)
	if err != nil {
		log.Fatalf("store error: %v", err)
	}
	defer persister.Close()

	st, err := store.Open(persister)
	if err != nil {
		log.Fatalf("store error: %v", err)
	}

	// Seed timing settings on first run.
	if err := st.Update(func(d *store.Data) error {
		if d.Settings.MinSessionSeconds == 0 {
			d.Settings.MinSessionSeconds = int(cfg.MinSession.Seconds())
		}
		if d.Settings.TransitionSeconds == 0 {
			d.Settings.TransitionSeconds = int(cfg.TransitionDelay.Seconds())
		}
		if d.Settings.SyncIntervalSeconds == 0 {
			d.Settings.SyncIntervalSeconds = int(cfg.SyncInterval.Seconds())
		}
		return nil
	}); err != nil {
		log.Fatalf("settings error: %v", err)
	}

	clk := clock.System{}

	// services
	authSvc := appAuth.NewService(st, clk, cfg.SignatureTolerance, logger)
	trackerSvc := appTracker.NewService(st, clk, logger)
	roleSvc := appRole.NewService(st, logger)
	reportSvc := appReport.NewService(st, clk, logger)
	syncSvc := appSync.NewService(st, authSvc, httpsync.New(nil), clk, cfg.DeviceID, cfg.DeviceName, logger)

	if cfg.AdminAPIKey != "" {
		if err := authSvc.ProvisionKey("bootstrap admin", cfg.AdminAPIKey, "", []apikey.Permission{apikey.PermissionAdmin}); err != nil {
			log.Fatalf("admin key error: %v", err)
		}
	}

	apiServer := httpapi.NewServer(trackerSvc, roleSvc, reportSvc, authSvc, syncSvc)

	httpServer := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      apiServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// background sync loop
	syncCtx, cancelSync := context.WithCancel(context.Background())
	defer cancelSync()
	go syncSvc.Run(syncCtx, cfg.SyncInterval)

	// start server
	go func() {
		logger.Info().Str("addr", cfg.ServerAddr).Str("device_id", cfg.DeviceID).Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	// graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	cancelSync()
	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctxShutdown)
}
