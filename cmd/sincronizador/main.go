package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"sincroniza-dispositivos/internal/agent"
	"sincroniza-dispositivos/internal/api"
	"sincroniza-dispositivos/internal/board"
	"sincroniza-dispositivos/internal/config"
	"sincroniza-dispositivos/internal/console"
	"sincroniza-dispositivos/internal/device"
	"sincroniza-dispositivos/internal/events"
	"sincroniza-dispositivos/internal/logging"
)

func main() {
	envFile := pflag.String("env-file", "", "env file to load instead of .env")
	transport := pflag.String("transport", "", "event transport: sse, websocket or mqtt")
	logLevel := pflag.String("log-level", "", "log level: debug, info, warn or error")
	logFile := pflag.String("log-file", "", "file the log is appended to, besides stdout")
	pflag.Parse()

	var files []string
	if *envFile != "" {
		files = append(files, *envFile)
	}
	cfg, err := config.Load(files...)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *transport != "" {
		cfg.EventTransport = *transport
		if err := cfg.Validate(); err != nil {
			log.Fatalf("Invalid configuration: %v", err)
		}
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *logFile != "" {
		cfg.LogFile = *logFile
	}

	logger, f, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	err = run(cfg, logger)
	if f != nil {
		f.Close()
	}
	if err != nil {
		log.Fatalf("Sync stopped: %v", err)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	logger.Info("starting device sync",
		"server", cfg.BaseURL,
		"transport", cfg.EventTransport,
		"client_id", cfg.ClientID,
	)

	client, err := api.NewClient(cfg.BaseURL, cfg.ClientID, cfg.HTTPTimeout)
	if err != nil {
		return err
	}
	source, err := newSource(cfg, client, logger)
	if err != nil {
		return err
	}

	var a *agent.Agent
	surface := board.New(func(deviceID string, p device.Property) { a.OnEdit(deviceID, p) })
	a = agent.New(agent.Options{
		API:          client,
		Source:       source,
		Surface:      surface,
		Logger:       logger,
		QuietPeriod:  cfg.QuietPeriod,
		PollInterval: cfg.PollInterval,
		RetryDelay:   cfg.RetryDelay,
		RetryBudget:  cfg.RetryBudget,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	var opts console.Options
	if term.IsTerminal(int(os.Stdin.Fd())) {
		opts.Prompt = "> "
	}
	con := console.New(a, os.Stdout, opts)
	go func() {
		if err := con.Run(ctx, os.Stdin); err != nil {
			logger.Error("failed to read commands", "error", err)
		}
		cancel()
	}()

	err = <-done
	logger.Info("device sync stopped")
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("session failed: %w", err)
	}
	return nil
}

func newSource(cfg *config.Config, client *api.Client, logger *slog.Logger) (events.Source, error) {
	logger = logger.With("component", "events")
	switch cfg.EventTransport {
	case config.TransportSSE:
		return events.NewSSESource(client, logger), nil
	case config.TransportWebSocket:
		return events.NewWebSocketSource(client, client.HTTPClient().Jar, logger), nil
	case config.TransportMQTT:
		return events.NewMQTTSource(cfg.MQTTBroker, cfg.MQTTTopic, cfg.ClientID, logger), nil
	}
	return nil, fmt.Errorf("unknown event transport %q", cfg.EventTransport)
}
