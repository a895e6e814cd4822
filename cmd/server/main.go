package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/peerdash/peerdash/pkg/clients"
	"github.com/peerdash/peerdash/pkg/config"
	"github.com/peerdash/peerdash/pkg/server"
	"github.com/peerdash/peerdash/pkg/server/monitor"
)

const (
	serverReadTimeout  = 10 * time.Second
	serverWriteTimeout = 30 * time.Second
	shutdownTimeout    = 30 * time.Second
)

func main() {
	cfg, err := server.LoadConfig()
	if err != nil {
		// Logger is not up yet.
		panic(err)
	}
	server.InitLogger(cfg)
	defer func() { _ = zap.L().Sync() }()

	store, err := server.InitializeStorage(cfg)
	if err != nil {
		zap.L().Fatal("failed to initialize storage", zap.Error(err))
	}
	defer store.Close()

	catalog := clients.DefaultCatalog()
	engine, queryHandler, ingestHandler, hub := server.InitializeHandlers(store, catalog)

	// Hand legacy placeholder rows to the registered instances before any
	// ingestion traffic starts.
	registry := clients.ParseInstances(config.GetEnvString("PEERDASH_INSTANCES", ""))
	if len(registry) > 0 {
		adoptCtx, cancel := context.WithTimeout(context.Background(), config.AdoptTimeout)
		if err := engine.AdoptLegacy(adoptCtx, registry); err != nil {
			zap.L().Error("legacy adoption failed", zap.Error(err))
		}
		cancel()
	}

	storageMonitor := monitor.NewStorageMonitor(cfg.DataDir, cfg.MaxStorageGB<<30)
	sweepMonitor := &monitor.SweepMonitor{}

	sched := cron.New()
	retention := time.Duration(cfg.RetentionDays) * 24 * time.Hour
	if err := server.StartRetentionSweep(sched, engine, sweepMonitor, retention); err != nil {
		zap.L().Fatal("failed to schedule retention sweep", zap.Error(err))
	}
	sched.Start()

	hubCtx, hubCancel := context.WithCancel(context.Background())
	go hub.Run(hubCtx)

	stopGC := make(chan bool)
	var wg sync.WaitGroup
	wg.Add(1)
	go server.RunBadgerGC(store, stopGC, &wg)

	router := mux.NewRouter()
	server.SetupRoutes(router, queryHandler, ingestHandler, store, storageMonitor, sweepMonitor, cfg.Port)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
	}

	go func() {
		zap.L().Info("peerdash listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zap.L().Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zap.L().Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zap.L().Warn("server shutdown error", zap.Error(err))
	}

	sched.Stop()
	hubCancel()
	close(stopGC)
	wg.Wait()

	zap.L().Info("shutdown complete")
}
