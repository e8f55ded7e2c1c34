package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/iudanet/woodtime/internal/client/api"
	"github.com/iudanet/woodtime/internal/client/auth"
	"github.com/iudanet/woodtime/internal/client/cli"
	"github.com/iudanet/woodtime/internal/client/iocli"
	"github.com/iudanet/woodtime/internal/client/localdb"
	"github.com/iudanet/woodtime/internal/client/queue"
	"github.com/iudanet/woodtime/internal/client/replication"
	"github.com/iudanet/woodtime/internal/client/storage/boltdb"
	"github.com/iudanet/woodtime/internal/config"
)

var (
	// Version information set via ldflags during build
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

func main() {
	if err := run(); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if err := config.LoadEnvFile(); err != nil {
		return err
	}

	cfg, args, err := config.LoadClient(os.Args[1:], os.Stderr)
	if err != nil {
		return err
	}

	if cfg.ShowVersion {
		printVersion()
		return nil
	}

	console := iocli.NewStdio()
	if len(args) == 0 {
		cli.PrintUsage(console)
		return errors.New("no command given")
	}

	logger, err := cfg.Log.NewLogger(os.Stderr)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Открываем BoltDB storage
	store, err := boltdb.New(ctx, cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close database", "error", err)
		}
	}()

	apiClient := api.NewClient(cfg.ServerURL)
	authService := auth.NewService(apiClient, store)
	apiClient.SetTokenSource(authService.Token)

	db, err := localdb.Open(ctx, store, logger)
	if err != nil {
		return fmt.Errorf("failed to open local database: %w", err)
	}

	writes := queue.New(store, db.Checkpoints(), logger)
	if err := writes.Restore(ctx); err != nil {
		return fmt.Errorf("failed to restore write queue: %w", err)
	}

	manager := replication.NewManager(apiClient, db, store, replication.Config{
		RetryInterval: cfg.RetryInterval,
		PullBatchSize: cfg.PullBatchSize,
		PushBatchSize: cfg.PushBatchSize,
	}, logger)

	return cli.New(console, authService, db, writes, manager, logger).Run(ctx, args[0], args[1:])
}

func printVersion() {
	fmt.Printf("Woodtime Client\n")
	fmt.Printf("Version:    %s\n", Version)
	fmt.Printf("Build Date: %s\n", BuildDate)
	fmt.Printf("Git Commit: %s\n", GitCommit)
}
