package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aschepis/backscratcher/mnemo/app"
	"github.com/aschepis/backscratcher/mnemo/config"
	mnemologger "github.com/aschepis/backscratcher/mnemo/logger"
	"github.com/aschepis/backscratcher/mnemo/mcp"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Parse command-line flags
	var (
		owner      = flag.String("owner", os.Getenv("USER"), "Owner id used when a tool call names none")
		configPath = flag.String("config", config.GetConfigPath(), "Path to config file")
		logFile    = flag.String("logfile", "", "Path to log file. If empty, logs to stderr")
	)
	flag.Parse()

	// stdout carries the protocol, so logs never go there
	logger, err := mnemologger.InitWithOptions(*logFile, false)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(ctx, cfg, app.Options{}, logger)
	if err != nil {
		return err
	}
	defer a.Close() //nolint:errcheck // No remedy for close errors on exit

	srv, err := mcp.NewServer(a.Registry, *owner, version, logger)
	if err != nil {
		return err
	}
	return srv.ServeStdio()
}
