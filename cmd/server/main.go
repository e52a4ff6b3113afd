package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/Simmak7/project-Mnemosyne-sub001/internal/app"
)

func main() {
	// Local development reads .env; deployments set real environment.
	_ = godotenv.Load()

	a, err := app.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup failed: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	if err := a.Start(); err != nil {
		a.Log.Error("Background startup failed", "error", err)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !a.Cfg.RunServer {
		// Worker-only process: block until a shutdown signal.
		a.Log.Info("Running in worker-only mode")
		<-ctx.Done()
		return
	}

	// Serve in the foreground; a signal drains the listener and Close
	// cancels the background loops.
	if err := a.Run(ctx, a.Cfg.ServerAddr); err != nil {
		a.Log.Error("Server stopped", "error", err)
	}
}
