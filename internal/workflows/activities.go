package workflows

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Keyring-Network/keyring-gavryn/window-coordinator/internal/client"
)

type PingInput struct{}

type PingOutput struct {
	Probed int `json:"probed"`
}

type SweepActivities struct {
	coordinator *client.Client
}

type SweepActivitiesOption func(*sweepOptions)

type sweepOptions struct {
	clientOptions []client.Option
}

func WithHTTPClient(httpClient *http.Client) SweepActivitiesOption {
	return func(o *sweepOptions) {
		o.clientOptions = append(o.clientOptions, client.WithHTTPClient(httpClient))
	}
}

func WithRequestTimeout(timeout time.Duration) SweepActivitiesOption {
	return func(o *sweepOptions) {
		o.clientOptions = append(o.clientOptions, client.WithRequestTimeout(timeout))
	}
}

func NewSweepActivities(coordinatorURL string, opts ...SweepActivitiesOption) *SweepActivities {
	options := &sweepOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(options)
		}
	}
	return &SweepActivities{coordinator: client.New(coordinatorURL, options.clientOptions...)}
}

// PingWindows asks the coordinator to probe every registered window.
func (a *SweepActivities) PingWindows(ctx context.Context, input PingInput) (PingOutput, error) {
	probed, err := a.coordinator.PingAll(ctx)
	if err != nil {
		return PingOutput{}, fmt.Errorf("coordinator ping failed: %w", err)
	}
	return PingOutput{Probed: probed}, nil
}
