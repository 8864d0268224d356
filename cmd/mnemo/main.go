package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/aschepis/backscratcher/mnemo/app"
	"github.com/aschepis/backscratcher/mnemo/config"
	mnemologger "github.com/aschepis/backscratcher/mnemo/logger"
	"github.com/aschepis/backscratcher/mnemo/memory"
	"github.com/aschepis/backscratcher/mnemo/session"
)

const helpText = `Commands:
  /memories    list everything remembered about you
  /categories  list your memory categories
  /forget      delete all of your memories and history
  /help        show this help
  /quit        exit`

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Parse command-line flags
	var (
		owner      = flag.String("owner", os.Getenv("USER"), "Owner id the memories belong to")
		configPath = flag.String("config", config.GetConfigPath(), "Path to config file")
		backend    = flag.String("backend", "", "Override store.backend (sqlite, chromem, qdrant)")
		logFile    = flag.String("logfile", "mnemo.log", "Path to log file. If empty, logs to stderr")
		pretty     = flag.Bool("pretty", false, "Use pretty console output (only valid when logfile is empty)")
		initCfg    = flag.Bool("init-config", false, "Write a default config file to --config and exit")
	)
	flag.Parse()

	if *initCfg {
		if err := initConfig(*configPath); err != nil {
			return err
		}
		fmt.Printf("Wrote default configuration to %s\n", config.ExpandPath(*configPath))
		return nil
	}

	if *logFile != "" && *pretty {
		return fmt.Errorf("--logfile and --pretty are mutually exclusive")
	}
	if strings.TrimSpace(*owner) == "" {
		return fmt.Errorf("--owner is required")
	}

	logger, err := mnemologger.InitWithOptions(*logFile, *pretty)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if *backend != "" {
		cfg.Store.Backend = *backend
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(ctx, cfg, app.Options{}, logger)
	if err != nil {
		return err
	}
	defer a.Close() //nolint:errcheck // No remedy for close errors on exit

	logger.Info().Str("owner_id", *owner).Msg("mnemo chat started")
	fmt.Printf("mnemo: chatting as %s. Type /help for commands.\n", *owner)
	return chat(ctx, a.Orchestrator, *owner, os.Stdin, os.Stdout)
}

// initConfig writes the default configuration to path. An existing file is
// left alone.
func initConfig(path string) error {
	expanded := config.ExpandPath(path)
	if _, err := os.Stat(expanded); err == nil {
		return fmt.Errorf("config file %s already exists", expanded)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to check config file: %w", err)
	}
	cfg := config.Default()
	return config.Save(&cfg, path)
}

func chat(ctx context.Context, o *session.Orchestrator, owner string, in io.Reader, out io.Writer) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		fmt.Fprint(out, "> ")
		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return nil
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(l)
		}
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			quit, err := command(ctx, o, owner, line, out)
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
			}
			if quit {
				return nil
			}
			continue
		}

		res, err := o.Turn(ctx, owner, line)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		fmt.Fprintln(out, res.Response)
		for _, w := range res.Warnings {
			fmt.Fprintf(out, "  (warning: %s)\n", w)
		}
		if res.Outcome != nil && res.Outcome.Mutated() {
			fmt.Fprintf(out, "  (memory: %s)\n", res.Outcome.Describe())
		}
	}
}

func command(ctx context.Context, o *session.Orchestrator, owner, line string, out io.Writer) (bool, error) {
	switch strings.Fields(line)[0] {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		fmt.Fprintln(out, helpText)
	case "/memories":
		records, err := o.List(ctx, owner)
		if err != nil {
			return false, err
		}
		if len(records) == 0 {
			fmt.Fprintln(out, "No memories yet.")
		}
		for _, r := range records {
			fmt.Fprintln(out, formatRecord(r))
		}
	case "/categories":
		cats, err := o.RefreshCategories(ctx, owner)
		if err != nil {
			return false, err
		}
		if len(cats) == 0 {
			fmt.Fprintln(out, "No categories yet.")
			return false, nil
		}
		fmt.Fprintln(out, strings.Join(cats, ", "))
	case "/forget":
		if err := o.Forget(ctx, owner); err != nil {
			return false, err
		}
		fmt.Fprintln(out, "Forgot everything.")
	default:
		fmt.Fprintf(out, "unknown command %s\n%s\n", line, helpText)
	}
	return false, nil
}

func formatRecord(r memory.Record) string {
	return fmt.Sprintf("[%s] %s (Categories: %s)", r.CreatedAt, r.Text, strings.Join(r.Categories, ", "))
}
