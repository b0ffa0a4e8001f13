package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"taskstream/internal/adapter/api"
	"taskstream/internal/domain"
	"taskstream/internal/infra/config"
	"taskstream/internal/infra/logger"
	"taskstream/internal/infra/tracer"
	"taskstream/internal/usecase/draft"
	"taskstream/internal/usecase/registry"
	"taskstream/internal/usecase/timeline"
)

func main() {
	if len(os.Args) < 2 {
		showUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "--help", "-h", "help":
		showUsage()
	case "watch":
		if err := runWatch(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "watch: %v\n", err)
			os.Exit(1)
		}
	case "draft":
		if err := runDraft(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "draft: %v\n", err)
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		showUsage()
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Print(`taskstream - live attempt-timeline mirror

Usage:
  taskstream watch [flags] <attempt-id>        stream an attempt's timeline
  taskstream draft save [flags] <attempt-id> <text>
  taskstream draft queue [flags] <attempt-id>
  taskstream draft unqueue [flags] <attempt-id>

Flags:
  -config <path>   config file (default: taskstream.yaml)
  -server <url>    server base URL (overrides config)
`)
}

// loadConfig reads the config file, tolerating a missing file when -server is
// given on the command line.
func loadConfig(path, serverOverride string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		def := config.Default()
		cfg = &def
	}
	if serverOverride != "" {
		cfg.Server.BaseURL = serverOverride
	}
	if cfg.Server.BaseURL == "" {
		return nil, fmt.Errorf("no server configured (use -server or %s)", path)
	}
	return cfg, nil
}

func runWatch(args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	cfgPath := fs.String("config", "taskstream.yaml", "config file path")
	server := fs.String("server", "", "server base URL")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: taskstream watch [flags] <attempt-id>")
	}
	attemptID := fs.Arg(0)

	cfg, err := loadConfig(*cfgPath, *server)
	if err != nil {
		return err
	}
	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return err
	}
	defer shutdownTracer(context.Background())

	client := api.NewClient(cfg.Server, log)
	reg := registry.New(client.RosterTransport(ctx), client.RosterEndpoint, log,
		registry.WithBackoff(
			config.Duration(cfg.Sync.ReconnectBase, time.Second),
			config.Duration(cfg.Sync.ReconnectCap, 8*time.Second),
		),
	)
	agg := timeline.New(reg,
		api.NewHistoricFetcher(client, log),
		api.NewLiveLogStreamer(client, log),
		timeline.Config{
			InitialEntries:    cfg.Sync.InitialEntries,
			BackfillBatch:     cfg.Sync.BackfillBatch,
			BackfillPause:     config.Duration(cfg.Sync.BackfillPause, time.Second),
			LiveRetryAttempts: cfg.Sync.LiveRetryAttempts,
			LiveRetryDelay:    config.Duration(cfg.Sync.LiveRetryDelay, 500*time.Millisecond),
		},
		log,
	)
	defer agg.Close()

	err = agg.Subscribe(ctx, attemptID, func(u domain.TimelineUpdate) {
		printUpdate(u)
	})
	if err != nil {
		return err
	}

	log.Info("watching attempt", "attempt", attemptID)
	<-ctx.Done()
	return nil
}

// printUpdate rewrites the visible timeline on every emission.
func printUpdate(u domain.TimelineUpdate) {
	fmt.Printf("\n=== timeline (%s", u.Phase)
	if u.Loading {
		fmt.Print(", loading")
	}
	fmt.Println(") ===")
	for _, e := range u.Entries {
		switch e.Type {
		case domain.TimelineUserMessage:
			fmt.Printf("[%s] user: %s\n", e.Key, e.Content)
		case domain.TimelineToolCall:
			status := "…"
			if e.Success != nil {
				if *e.Success {
					status = "ok"
				} else {
					status = "failed"
				}
			}
			if e.Command != "" {
				fmt.Printf("[%s] %s (%s): %s\n", e.Key, e.ToolName, status, e.Command)
			} else {
				fmt.Printf("[%s] tool %s: %s\n", e.Key, e.ToolName, e.Content)
			}
		case domain.TimelineLoading:
			fmt.Printf("[%s] …\n", e.Key)
		default:
			fmt.Printf("[%s] %s: %s\n", e.Key, e.Type, e.Content)
		}
	}
}

func runDraft(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: taskstream draft <save|queue|unqueue> [flags] <attempt-id> [text]")
	}
	sub := args[0]

	fs := flag.NewFlagSet("draft "+sub, flag.ExitOnError)
	cfgPath := fs.String("config", "taskstream.yaml", "config file path")
	server := fs.String("server", "", "server base URL")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("attempt id required")
	}
	attemptID := fs.Arg(0)

	cfg, err := loadConfig(*cfgPath, *server)
	if err != nil {
		return err
	}
	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client := api.NewClient(cfg.Server, log)
	debounce := config.Duration(cfg.Sync.DraftDebounce, 400*time.Millisecond)
	ctl := draft.NewController(api.NewDraftAPI(client), attemptID, debounce, log, nil)
	defer ctl.Close()
	if err := ctl.Start(ctx); err != nil {
		return err
	}

	switch sub {
	case "save":
		if fs.NArg() < 2 {
			return fmt.Errorf("usage: taskstream draft save <attempt-id> <text>")
		}
		ctl.SetPrompt(fs.Arg(1))
		// Let the debounced write and any conflict adoption settle.
		time.Sleep(debounce + time.Second)
		d := ctl.Draft()
		if ctl.Conflict() {
			fmt.Printf("saved with conflict: server version %d adopted\n", d.Version)
		} else {
			fmt.Printf("saved (version %d)\n", d.Version)
		}
	case "queue":
		if err := ctl.Queue(ctx); err != nil {
			return err
		}
		fmt.Printf("status: %s\n", ctl.Status())
	case "unqueue":
		if err := ctl.Unqueue(ctx); err != nil {
			return err
		}
		fmt.Printf("status: %s\n", ctl.Status())
	default:
		return fmt.Errorf("unknown draft subcommand %q", sub)
	}
	return nil
}
