package workflows

import (
	"context"
	"time"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
)

const LivenessSweepWorkflowID = "window-liveness-sweep"

type Service struct {
	client    client.Client
	taskQueue string
}

func NewService(client client.Client, taskQueue string) *Service {
	if taskQueue == "" {
		taskQueue = "window-liveness"
	}
	return &Service{client: client, taskQueue: taskQueue}
}

// StartLivenessSweep starts the sweep workflow. A sweep that is already
// running is left alone.
func (s *Service) StartLivenessSweep(ctx context.Context, interval time.Duration) error {
	options := client.StartWorkflowOptions{
		ID:        LivenessSweepWorkflowID,
		TaskQueue: s.taskQueue,
	}
	_, err := s.client.ExecuteWorkflow(ctx, options, LivenessSweepWorkflow, SweepInput{Interval: interval})
	if err != nil && temporal.IsWorkflowExecutionAlreadyStartedError(err) {
		return nil
	}
	return err
}

func (s *Service) StopLivenessSweep(ctx context.Context) error {
	return s.client.CancelWorkflow(ctx, LivenessSweepWorkflowID, "")
}
