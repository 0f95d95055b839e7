// Package client talks to a coordinator over its HTTP API. It satisfies the
// agent's Coordinator and Notifier interfaces, so a window in another process
// coordinates exactly like one sharing the coordinator's process.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Keyring-Network/keyring-gavryn/window-coordinator/internal/events"
	"github.com/Keyring-Network/keyring-gavryn/window-coordinator/internal/protocol"
	"github.com/Keyring-Network/keyring-gavryn/window-coordinator/internal/resolver"
	"github.com/Keyring-Network/keyring-gavryn/window-coordinator/internal/store"
)

const DefaultRequestTimeout = 10 * time.Second

// StatusError is returned for a response outside 2xx that does not mean the
// coordinator is unavailable.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("coordinator returned %d", e.Code)
	}
	return fmt.Sprintf("coordinator returned %d: %s", e.Code, e.Message)
}

type Client struct {
	baseURL        string
	httpClient     *http.Client
	streamClient   *http.Client
	requestTimeout time.Duration
}

type Option func(*Client)

// WithHTTPClient replaces the client used for plain requests. Streams always
// use a client without an overall timeout.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

func WithRequestTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.requestTimeout = timeout
		}
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		streamClient:   &http.Client{},
		requestTimeout: DefaultRequestTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

type arbitrateRequest struct {
	ClientID string     `json:"client_id,omitempty"`
	Identity string     `json:"identity"`
	Role     store.Role `json:"role,omitempty"`
	URL      string     `json:"url,omitempty"`
}

type pongRequest struct {
	At time.Time `json:"at"`
}

type focusResultRequest struct {
	Outcome protocol.FocusOutcome `json:"outcome"`
}

// Window is a registry entry as listed by the coordinator.
type Window struct {
	ClientID     string            `json:"client_id"`
	Identity     string            `json:"identity,omitempty"`
	Role         store.Role        `json:"role"`
	URL          string            `json:"url,omitempty"`
	RegisteredAt time.Time         `json:"registered_at"`
	LastSeenAt   time.Time         `json:"last_seen_at"`
	State        store.WindowState `json:"state"`
}

// RouteDecision is a resolver decision plus the landing URL chosen for it.
type RouteDecision struct {
	resolver.Decision
	Target string `json:"target"`
}

func (c *Client) Arbitrate(ctx context.Context, req protocol.ArbitrationRequest) (protocol.ArbitrationResult, error) {
	var result protocol.ArbitrationResult
	err := c.do(ctx, http.MethodPost, "/windows", arbitrateRequest{
		ClientID: req.ClientID,
		Identity: req.Identity,
		Role:     req.Role,
		URL:      req.URL,
	}, &result)
	return result, err
}

func (c *Client) Pong(ctx context.Context, clientID string, at time.Time) error {
	return c.do(ctx, http.MethodPost, "/windows/"+url.PathEscape(clientID)+"/pong", pongRequest{At: at}, nil)
}

func (c *Client) ReportFocus(ctx context.Context, clientID, requestID string, outcome protocol.FocusOutcome) error {
	path := "/windows/" + url.PathEscape(clientID) + "/focus-results/" + url.PathEscape(requestID)
	return c.do(ctx, http.MethodPost, path, focusResultRequest{Outcome: outcome}, nil)
}

func (c *Client) Unregister(ctx context.Context, clientID string) error {
	return c.do(ctx, http.MethodDelete, "/windows/"+url.PathEscape(clientID), nil, nil)
}

func (c *Client) Windows(ctx context.Context) ([]Window, error) {
	var out struct {
		Windows []Window `json:"windows"`
	}
	if err := c.do(ctx, http.MethodGet, "/windows", nil, &out); err != nil {
		return nil, err
	}
	return out.Windows, nil
}

// PingAll asks the coordinator to probe every window and returns how many
// it probed.
func (c *Client) PingAll(ctx context.Context) (int, error) {
	var out struct {
		Probed int `json:"probed"`
	}
	if err := c.do(ctx, http.MethodPost, "/windows/ping", nil, &out); err != nil {
		return 0, err
	}
	return out.Probed, nil
}

// Publish sends a notification to the bus and returns its trace id.
func (c *Client) Publish(ctx context.Context, notification events.Notification) (string, error) {
	var out struct {
		TraceID string `json:"trace_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/notifications", notification, &out); err != nil {
		return "", err
	}
	return out.TraceID, nil
}

func (c *Client) Resolve(ctx context.Context, params resolver.Params, signals resolver.Signals) (RouteDecision, error) {
	body := struct {
		Params  resolver.Params  `json:"params"`
		Signals resolver.Signals `json:"signals"`
	}{Params: params, Signals: signals}
	if params.Mode == resolver.ModeNone && params.RawMode != "" {
		body.Params.Mode = resolver.Mode(params.RawMode)
	}
	var out RouteDecision
	err := c.do(ctx, http.MethodPost, "/route", body, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	requestCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(requestCtx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return transportError(ctx, err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return err
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// transportError keeps the caller's own cancellation visible and reports any
// other failure to reach the coordinator as unavailable.
func transportError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", protocol.ErrUnavailable, err)
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	message, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	text := strings.TrimSpace(string(message))
	switch resp.StatusCode {
	case http.StatusServiceUnavailable, http.StatusBadGateway:
		return fmt.Errorf("%w: %s", protocol.ErrUnavailable, text)
	case http.StatusGatewayTimeout:
		return fmt.Errorf("%w: %s", context.DeadlineExceeded, text)
	}
	return &StatusError{Code: resp.StatusCode, Message: text}
}
