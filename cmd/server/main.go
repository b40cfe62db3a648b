package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/placenote/placenote/internal/config"
	"github.com/placenote/placenote/internal/core/observability/log"
	"github.com/placenote/placenote/internal/injector"
)

func main() {
	configPath := flag.String("config", "", "path to the server YAML config")
	flag.Parse()

	cfg, err := config.LoadServer(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error loading config:", err)
		os.Exit(1)
	}

	srv, cleanup, err := injector.InitializeServer(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error creating server:", err)
		os.Exit(1)
	}
	defer cleanup()

	logger := srv.Logger()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		logger.Error("Server exited", log.Error(err))
		cleanup()
		os.Exit(1)
	}
	logger.Info("Shut down", log.Int64("sessions", srv.Sessions()))
}
