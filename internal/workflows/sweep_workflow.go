package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

const (
	PingWindowsActivity  = "PingWindows"
	DefaultSweepInterval = 30 * time.Second
)

// sweepsPerRun bounds workflow history; an unbounded sweep continues as new
// after this many sweeps.
var sweepsPerRun = 500

type SweepInput struct {
	Interval time.Duration
	// MaxSweeps stops the workflow after that many sweeps. Zero runs until
	// cancelled.
	MaxSweeps int
}

type SweepResult struct {
	Status   string
	Sweeps   int
	Failures int
	Probed   int
}

func LivenessSweepWorkflow(ctx workflow.Context, input SweepInput) (SweepResult, error) {
	interval := input.Interval
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	activityOptions := workflow.ActivityOptions{
		StartToCloseTimeout: interval,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 1,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, activityOptions)
	logger := workflow.GetLogger(ctx)

	result := SweepResult{}
	for {
		var output PingOutput
		if err := workflow.ExecuteActivity(ctx, PingWindowsActivity, PingInput{}).Get(ctx, &output); err != nil {
			if ctx.Err() != nil {
				result.Status = "cancelled"
				return result, nil
			}
			logger.Error("liveness sweep failed", "error", err)
			result.Failures++
		} else {
			logger.Info("liveness sweep sent", "probed", output.Probed)
			result.Probed += output.Probed
		}
		result.Sweeps++

		if input.MaxSweeps > 0 && result.Sweeps >= input.MaxSweeps {
			result.Status = "completed"
			return result, nil
		}
		if input.MaxSweeps == 0 && result.Sweeps >= sweepsPerRun {
			return result, workflow.NewContinueAsNewError(ctx, LivenessSweepWorkflow, input)
		}
		if err := workflow.Sleep(ctx, interval); err != nil {
			result.Status = "cancelled"
			return result, nil
		}
	}
}
