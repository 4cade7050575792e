package main

import (
	"context"
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
	// This binary exists to drain SQS; an in-memory queue would never see the API's turns.
	cfg.UseMemoryQueue = false
	logger := logging.New(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tl, err := bootstrap.NewTurnLog(ctx, bootstrap.Options{
		Config:  cfg,
		Logger:  logger,
		LoadAWS: mainconfig.AWSLoader(cfg),
	})
	if err != nil {
		logger.Error("failed to build turn log", "error", err)
		os.Exit(1)
	}
	defer tl.Close()

	worker := turnlog.NewWorker(tl.Queue, tl.Store, logger,
		turnlog.WithWorkerCount(cfg.WorkerCount),
		turnlog.WithReceiveWaitSeconds(20),
		turnlog.WithReceiveBatchSize(10),
	)
	worker.Start(ctx)
	logger.Info("turn log worker started", "store", cfg.TurnLogStore, "workers", cfg.WorkerCount)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down turn log worker...")
	cancel()

	doneCtx, doneCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer doneCancel()

	waitCh := make(chan struct{})
	go func() {
		worker.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Info("turn log worker stopped")
	case <-doneCtx.Done():
		logger.Error("turn log worker shutdown timed out", "error", doneCtx.Err())
	}
}
