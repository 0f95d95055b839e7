package main

import (
	"errors"
	"log"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/Keyring-Network/keyring-gavryn/window-coordinator/internal/config"
	"github.com/Keyring-Network/keyring-gavryn/window-coordinator/internal/workflows"
)

var errTemporalDisabled = errors.New("worker requires TEMPORAL_ADDRESS")

var (
	loadConfig = func() (config.Config, error) {
		return config.Load(), nil
	}
	dialTemporal  = client.Dial
	newActivities = func(coordinatorURL string, opts ...workflows.SweepActivitiesOption) *workflows.SweepActivities {
		return workflows.NewSweepActivities(coordinatorURL, opts...)
	}
	newWorker       = worker.New
	workerInterrupt = worker.InterruptCh
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
	if !cfg.TemporalEnabled() {
		return errTemporalDisabled
	}
	temporalClient, err := dialTemporal(client.Options{
		HostPort: cfg.TemporalAddress,
	})
	if err != nil {
		return err
	}
	if temporalClient != nil {
		defer temporalClient.Close()
	}

	activities := newActivities(cfg.CoordinatorURL, workflows.WithRequestTimeout(cfg.LivenessTimeout))

	w := newWorker(temporalClient, cfg.TemporalTaskQueue, worker.Options{})
	w.RegisterWorkflow(workflows.LivenessSweepWorkflow)
	w.RegisterActivity(activities)

	log.Printf("liveness worker started queue=%s coordinator=%s", cfg.TemporalTaskQueue, cfg.CoordinatorURL)
	if err := w.Run(workerInterrupt()); err != nil {
		return err
	}

	return nil
}
