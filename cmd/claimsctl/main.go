// Command claimsctl is the operator CLI for inspecting conversation
// transcripts and turn logs.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/wolfman30/claims-fulfillment/cmd/mainconfig"
	"github.com/wolfman30/claims-fulfillment/internal/app/bootstrap"
	appconfig "github.com/wolfman30/claims-fulfillment/internal/config"
	"github.com/wolfman30/claims-fulfillment/pkg/logging"
)

func main() {
	mainconfig.LoadEnv()
	root := buildRootCommand(func(ctx context.Context) (*bootstrap.App, error) {
		cfg := appconfig.Load()
		// Reads only; nothing here should publish turns.
		cfg.UseMemoryQueue = false
		cfg.TurnLogQueueURL = ""
		return bootstrap.New(ctx, bootstrap.Options{
			Config:  cfg,
			Logger:  logging.NewWithWriter(cfg.LogLevel, os.Stderr),
			LoadAWS: mainconfig.AWSLoader(cfg),
		})
	})
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
