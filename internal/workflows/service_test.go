package workflows

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/mocks"
)

func TestNewService(t *testing.T) {
	mockClient := mocks.NewClient(t)
	service := NewService(mockClient, "")
	require.NotNil(t, service)
	require.Equal(t, "window-liveness", service.taskQueue)
}

func TestStartLivenessSweep_Success(t *testing.T) {
	mockClient := mocks.NewClient(t)
	workflowRun := mocks.NewWorkflowRun(t)
	taskQueue := "liveness-test"

	mockClient.On(
		"ExecuteWorkflow",
		mock.Anything,
		mock.MatchedBy(func(opts client.StartWorkflowOptions) bool {
			return opts.ID == LivenessSweepWorkflowID && opts.TaskQueue == taskQueue
		}),
		mock.Anything,
		SweepInput{Interval: 15 * time.Second},
	).Return(workflowRun, nil)

	service := NewService(mockClient, taskQueue)
	require.NoError(t, service.StartLivenessSweep(context.Background(), 15*time.Second))
}

func TestStartLivenessSweep_AlreadyRunning(t *testing.T) {
	mockClient := mocks.NewClient(t)
	alreadyStarted := serviceerror.NewWorkflowExecutionAlreadyStarted("already started", "", "")

	mockClient.On("ExecuteWorkflow", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return((*mocks.WorkflowRun)(nil), alreadyStarted)

	service := NewService(mockClient, "liveness-test")
	require.NoError(t, service.StartLivenessSweep(context.Background(), time.Second))
}

func TestStartLivenessSweep_Error(t *testing.T) {
	mockClient := mocks.NewClient(t)
	expectedErr := errors.New("start failed")

	mockClient.On("ExecuteWorkflow", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return((*mocks.WorkflowRun)(nil), expectedErr)

	service := NewService(mockClient, "liveness-test")
	err := service.StartLivenessSweep(context.Background(), time.Second)
	require.ErrorIs(t, err, expectedErr)
}

func TestStopLivenessSweep(t *testing.T) {
	mockClient := mocks.NewClient(t)
	mockClient.On("CancelWorkflow", mock.Anything, LivenessSweepWorkflowID, "").Return(nil)

	service := NewService(mockClient, "liveness-test")
	require.NoError(t, service.StopLivenessSweep(context.Background()))
}

func TestStopLivenessSweep_NotFound(t *testing.T) {
	mockClient := mocks.NewClient(t)
	expectedErr := errors.New("not found")
	mockClient.On("CancelWorkflow", mock.Anything, LivenessSweepWorkflowID, "").Return(expectedErr)

	service := NewService(mockClient, "liveness-test")
	require.ErrorIs(t, service.StopLivenessSweep(context.Background()), expectedErr)
}
