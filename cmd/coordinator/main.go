package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.temporal.io/sdk/client"

	"github.com/Keyring-Network/keyring-gavryn/window-coordinator/internal/api"
	"github.com/Keyring-Network/keyring-gavryn/window-coordinator/internal/config"
	"github.com/Keyring-Network/keyring-gavryn/window-coordinator/internal/coordinator"
	"github.com/Keyring-Network/keyring-gavryn/window-coordinator/internal/events"
	"github.com/Keyring-Network/keyring-gavryn/window-coordinator/internal/hints"
	"github.com/Keyring-Network/keyring-gavryn/window-coordinator/internal/store"
	"github.com/Keyring-Network/keyring-gavryn/window-coordinator/internal/store/memory"
	"github.com/Keyring-Network/keyring-gavryn/window-coordinator/internal/store/postgres"
	"github.com/Keyring-Network/keyring-gavryn/window-coordinator/internal/tracing"
	"github.com/Keyring-Network/keyring-gavryn/window-coordinator/internal/workflows"
)

type server interface {
	Start(ctx context.Context, addr string) error
}

type sweeper interface {
	StartLivenessSweep(ctx context.Context, interval time.Duration) error
}

type tracerProvider interface {
	Tracer() trace.Tracer
	Shutdown(ctx context.Context) error
}

var (
	loadConfig = func() (config.Config, error) {
		return config.Load(), nil
	}
	newBroker        = events.NewBroker
	newMemoryStore   = func() store.Store { return memory.New() }
	newPostgresStore = func(conn string) (*postgres.PostgresStore, error) {
		return postgres.New(conn)
	}
	newTracing = func(cfg tracing.Config) (tracerProvider, error) {
		return tracing.NewProvider(cfg)
	}
	dialTemporal       = client.Dial
	newWorkflowService = func(c client.Client, taskQueue string) sweeper {
		return workflows.NewService(c, taskQueue)
	}
	newServer = func(coord *coordinator.Coordinator, st store.Store, broker *events.Broker, hintStore *hints.Hints, cfg config.Config, tracer trace.Tracer) server {
		return api.NewServer(coord, st, broker, hintStore, cfg, api.WithTracer(tracer))
	}
	notifyContext = signal.NotifyContext
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := notifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	provider, err := newTracing(tracing.Config{Exporter: cfg.TracingExporter})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			log.Printf("warning: tracing shutdown failed: %v", err)
		}
	}()

	st, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	coord := coordinator.New(st,
		coordinator.WithLivenessTimeout(cfg.LivenessTimeout),
		coordinator.WithFocusTimeout(cfg.FocusTimeout),
		coordinator.WithQueueCapacity(cfg.QueueCapacity),
		coordinator.WithTracer(provider.Tracer()),
	)
	go coord.Run(ctx)

	if cfg.TemporalEnabled() {
		workflowClient, err := dialTemporal(client.Options{HostPort: cfg.TemporalAddress})
		if err != nil {
			return err
		}
		if workflowClient != nil {
			defer workflowClient.Close()
		}
		if err := newWorkflowService(workflowClient, cfg.TemporalTaskQueue).StartLivenessSweep(ctx, cfg.SweepInterval); err != nil {
			return fmt.Errorf("start liveness sweep: %w", err)
		}
	} else {
		go coord.Sweep(ctx, cfg.SweepInterval)
	}

	server := newServer(coord, st, newBroker(), hints.New(st, cfg.SessionFlagTTL), cfg, provider.Tracer())

	addr := fmt.Sprintf(":%s", cfg.CoordinatorPort)
	log.Printf("window coordinator listening on %s (store=%s temporal=%t)", addr, cfg.StoreBackend, cfg.TemporalEnabled())
	if err := server.Start(ctx, addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func openStore(cfg config.Config) (store.Store, func(), error) {
	switch cfg.StoreBackend {
	case "", "memory":
		return newMemoryStore(), func() {}, nil
	case "postgres":
		st, err := newPostgresStore(cfg.PostgresURL)
		if err != nil {
			return nil, nil, err
		}
		return st, func() { _ = st.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported store backend: %s", cfg.StoreBackend)
	}
}
