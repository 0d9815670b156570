// Command tasktimerd is the tasktimer daemon. It loads the task list from
// the configured durable store, runs the stopwatch and serves the HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/GoCodeAlone/tasktimer/comms"
	"github.com/GoCodeAlone/tasktimer/config"
	"github.com/GoCodeAlone/tasktimer/internal/version"
	"github.com/GoCodeAlone/tasktimer/kv"
	"github.com/GoCodeAlone/tasktimer/server"
	"github.com/GoCodeAlone/tasktimer/task"
	"github.com/GoCodeAlone/tasktimer/timer"
)

var configPath = flag.String("config", "tasktimer.yaml", "path to config file")

func main() {
	flag.Parse()

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config %s: %v", *configPath, err)
	}
	level, _ := cfg.Level()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))

	logger.Info("starting tasktimerd",
		"version", version.Version,
		"commit", version.Commit,
		"storage", cfg.Storage.Driver,
	)

	backend, err := kv.Open(cfg.Storage)
	if err != nil {
		log.Fatalf("Failed to open storage: %v", err)
	}
	defer backend.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := task.Open(ctx, backend, task.Options{Key: cfg.Storage.Key, Logger: logger})
	if err != nil {
		log.Fatalf("Failed to load tasks: %v", err)
	}
	logger.Info("tasks loaded", "count", store.Len())

	bus := comms.NewInMemoryBus()
	ctrl := timer.NewController(timer.Config{
		Store:        store,
		Bus:          bus,
		TickInterval: cfg.Timer.TickInterval,
		Logger:       logger,
		OnComplete:   celebrate(bus),
	})
	defer ctrl.Close()

	srv := server.New(*cfg, version.Version, logger, ctrl, bus)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	fmt.Printf("tasktimer running on %s\n", cfg.Server.Addr)
	fmt.Printf("Version: %s (%s)\n", version.Version, version.Commit)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
		}
	}

	fmt.Println("Shutting down...")
	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Error("server stop error", "error", err)
	}
	if store.Dirty() {
		if err := store.Persist(shutdownCtx); err != nil {
			logger.Error("final persist failed", "error", err)
		}
	}
	fmt.Println("Shutdown complete")
}

// celebrate publishes a task_completed event so connected UIs can play their
// completion effect.
func celebrate(bus comms.Bus) func(task.Task) {
	return func(t task.Task) {
		_ = bus.Publish(context.Background(), &comms.Event{
			Type:    comms.TypeTaskCompleted,
			Payload: t,
		})
	}
}
