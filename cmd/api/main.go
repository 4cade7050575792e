package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wolfman30/claims-fulfillment/cmd/mainconfig"
	"github.com/wolfman30/claims-fulfillment/internal/app/bootstrap"
	appconfig "github.com/wolfman30/claims-fulfillment/internal/config"
	"github.com/wolfman30/claims-fulfillment/internal/turnlog"
	"github.com/wolfman30/claims-fulfillment/pkg/logging"
)

func main() {
	mainconfig.LoadEnv()
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting claims fulfillment API server",
		"env", cfg.Env,
		"port", cfg.Port,
		"case_store", cfg.CaseStore,
		"turn_log_store", cfg.TurnLogStore,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, bootstrap.Options{
		Config:  cfg,
		Logger:  logger,
		LoadAWS: mainconfig.AWSLoader(cfg),
	})
	if err != nil {
		logger.Error("failed to build application", "error", err)
		os.Exit(1)
	}

	// With the in-memory queue the turn-log worker must run in this process.
	workerCtx, stopWorker := context.WithCancel(context.Background())
	worker := app.NewWorker()
	if worker != nil && cfg.UseMemoryQueue {
		worker.Start(workerCtx)
		logger.Info("in-process turn log worker started", "workers", cfg.WorkerCount)
	} else {
		worker = nil
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      app.Handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	// Background turn work publishes to the queue, so drain it before the worker stops.
	app.Service.Wait()
	if worker != nil {
		drainMemoryQueue(app.Queue, logger)
		stopWorker()
		worker.Wait()
	} else {
		stopWorker()
	}
	app.Close()

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

func drainMemoryQueue(queue turnlog.Queue, logger *logging.Logger) {
	mq, ok := queue.(*turnlog.MemoryQueue)
	if !ok {
		return
	}
	deadline := time.Now().Add(5 * time.Second)
	for mq.Pending() > 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	if n := mq.Pending(); n > 0 {
		logger.Warn("turn log queue not drained before shutdown", "pending", n)
	}
}
