// Command tinymqc wires the local store, the serial acquisition
// service, a broker connection, the publish orchestrator, and the
// delegation subsystem into one running client process.
//
// It is a thin driver, not an interactive shell: it establishes the
// connection, keeps DAS and publish state in sync, and exits on signal.
// The operator surface described in the design (set identity, create
// topic, subscribe, and so on) maps directly onto the tinymq package's
// exported operations and is intentionally left to callers of that
// package rather than built in here.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	tinymq "github.com/RodrigoJC20/tinymq-client"
	"github.com/RodrigoJC20/tinymq-client/internal/config"
	"github.com/RodrigoJC20/tinymq-client/internal/das"
	"github.com/RodrigoJC20/tinymq-client/internal/store"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the client's YAML configuration")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if err := run(*configPath, logger); err != nil {
		logger.Error("tinymqc: exiting", "error", err)
		os.Exit(1)
	}
}

func run(configPath string, logger *slog.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("load config: %w", err)
		}
		logger.Warn("tinymqc: no config file found, using defaults", "path", configPath)
		cfg = config.Default()
		if err := cfg.Save(configPath); err != nil {
			logger.Warn("tinymqc: could not persist default config", "error", err)
		}
	}

	db, err := store.Open(cfg.StorePath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	if _, err := db.GetClientID(); err != nil {
		if err := db.SetClientID(cfg.ClientID); err != nil {
			return fmt.Errorf("set client id: %w", err)
		}
	}

	dasOpts := []das.Option{das.WithLogger(logger)}
	if cfg.Verbose {
		dasOpts = append(dasOpts, das.WithVerbose(true))
	}
	service := das.New(db, cfg.SerialPort, cfg.BaudRate, dasOpts...)
	service.Start(true)
	defer service.Stop()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	client, err := tinymq.Connect(ctx, cfg.BrokerHost, cfg.BrokerPort, cfg.ClientID, tinymq.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer client.Disconnect()

	deleg := tinymq.NewDelegation(client, service)
	if err := deleg.EnableOwnerNotifications(); err != nil {
		logger.Warn("tinymqc: could not subscribe to admin notifications", "error", err)
	}

	persistReading := func(name string, reading das.Reading) {
		if err := db.AddReading(name, reading.Value, reading.Timestamp, reading.Units); err != nil {
			logger.Error("tinymqc: persist reading failed", "sensor", name, "error", err)
		}
	}
	orchestrator := tinymq.NewPublishOrchestrator(client, db, service, persistReading)
	if err := orchestrator.Run(); err != nil {
		logger.Error("tinymqc: initial orchestrator run failed", "error", err)
	}

	client.ObserveState(func(state tinymq.State) {
		logger.Info("tinymqc: connection state changed", "state", state)
		if state == tinymq.Connected {
			if err := orchestrator.Run(); err != nil {
				logger.Error("tinymqc: orchestrator re-run failed", "error", err)
			}
		}
	})

	logger.Info("tinymqc: running", "client_id", cfg.ClientID, "broker", fmt.Sprintf("%s:%d", cfg.BrokerHost, cfg.BrokerPort))

	<-ctx.Done()
	logger.Info("tinymqc: shutting down")
	return nil
}
