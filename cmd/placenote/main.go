package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/placenote/placenote/internal/config"
	"github.com/placenote/placenote/internal/injector"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "placenote",
	Short:         "Manage maps and run mapping sessions",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to the client YAML config")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func loadConfig() (config.Client, error) {
	cfg, err := config.LoadClient(configPath)
	if err != nil {
		return config.Client{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// await runs the consumer loop on the calling goroutine until start's
// callback chain calls finish, or ctx ends.
func await(ctx context.Context, c *injector.Client, start func(finish func(error)) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		finished bool
		result   error
	)
	finish := func(err error) {
		finished, result = true, err
		cancel()
	}
	if err := start(finish); err != nil {
		return err
	}
	if err := c.Run(ctx); err != nil {
		return err
	}
	if !finished {
		return context.Cause(ctx)
	}
	return result
}

// connect dials the map server and completes the SDK handshake.
func connect(ctx context.Context) (*injector.Client, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	c, cleanup, err := injector.InitializeRemoteClient(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to %s: %w", cfg.Cloud.URL, err)
	}

	err = await(ctx, c, func(finish func(error)) error {
		c.Manager.OnInitialized(finish)
		return c.Manager.Initialize(cfg.SDK.Params())
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return c, cleanup, nil
}
