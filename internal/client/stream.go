package client

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/Keyring-Network/keyring-gavryn/window-coordinator/internal/events"
	"github.com/Keyring-Network/keyring-gavryn/window-coordinator/internal/protocol"
)

const streamBuffer = 16

// Inbox is a window's SSE link to the coordinator.
type Inbox struct {
	messages chan protocol.Message
	done     chan struct{}
	cancel   context.CancelFunc
	once     sync.Once
}

func (i *Inbox) Messages() <-chan protocol.Message {
	return i.messages
}

// Close drops the stream. The coordinator sees the link detach.
func (i *Inbox) Close() {
	i.once.Do(func() {
		close(i.done)
		i.cancel()
	})
}

// Connect opens the window's message stream. ctx bounds only the wait for
// the stream to be accepted; the stream itself lives until Close or until
// the coordinator ends it.
func (c *Client) Connect(ctx context.Context, clientID string) (protocol.Inbox, error) {
	resp, cancel, err := c.openStream(ctx, "/windows/"+url.PathEscape(clientID)+"/stream")
	if err != nil {
		return nil, err
	}
	inbox := &Inbox{
		messages: make(chan protocol.Message, streamBuffer),
		done:     make(chan struct{}),
		cancel:   cancel,
	}
	go func() {
		defer close(inbox.messages)
		defer resp.Body.Close()
		readEvents(resp.Body, func(name, data string) {
			if name != "coordinator_message" {
				return
			}
			var msg protocol.Message
			if err := json.Unmarshal([]byte(data), &msg); err != nil {
				log.Printf("client: dropping malformed message client_id=%s: %v", clientID, err)
				return
			}
			select {
			case inbox.messages <- msg:
			case <-inbox.done:
			}
		})
	}()
	return inbox, nil
}

// Subscribe streams bus notifications matching filter until ctx ends. A
// stream that cannot be opened yields a closed channel.
func (c *Client) Subscribe(ctx context.Context, filter events.Filter) <-chan events.Notification {
	out := make(chan events.Notification, streamBuffer)
	query := url.Values{}
	if filter.Identity != "" {
		query.Set("identity", filter.Identity)
	}
	if len(filter.Types) > 0 {
		query.Set("type", strings.Join(filter.Types, ","))
	}
	path := "/notifications/stream"
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}

	resp, cancel, err := c.openStream(ctx, path)
	if err != nil {
		log.Printf("client: notification stream unavailable: %v", err)
		close(out)
		return out
	}
	go func() {
		<-ctx.Done()
		cancel()
	}()
	go func() {
		defer close(out)
		defer resp.Body.Close()
		readEvents(resp.Body, func(name, data string) {
			if name != "notification" {
				return
			}
			var notification events.Notification
			if err := json.Unmarshal([]byte(data), &notification); err != nil {
				log.Printf("client: dropping malformed notification: %v", err)
				return
			}
			select {
			case out <- notification:
			case <-ctx.Done():
			}
		})
	}()
	return out
}

// openStream issues a GET for an SSE endpoint on a context detached from
// ctx, and waits for the response headers until ctx ends.
func (c *Client) openStream(ctx context.Context, path string) (*http.Response, context.CancelFunc, error) {
	streamCtx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	type result struct {
		resp *http.Response
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := c.streamClient.Do(req)
		done <- result{resp: resp, err: err}
	}()

	select {
	case <-ctx.Done():
		cancel()
		if res := <-done; res.resp != nil {
			res.resp.Body.Close()
		}
		return nil, nil, ctx.Err()
	case res := <-done:
		if res.err != nil {
			cancel()
			return nil, nil, transportError(ctx, res.err)
		}
		if err := checkStatus(res.resp); err != nil {
			res.resp.Body.Close()
			cancel()
			return nil, nil, err
		}
		return res.resp, cancel, nil
	}
}

// readEvents calls fn for every complete event on an SSE body. Comment lines
// such as keep-alives are skipped.
func readEvents(body io.Reader, fn func(name, data string)) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var name string
	var data []string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if len(data) > 0 {
				fn(name, strings.Join(data, "\n"))
			}
			name, data = "", nil
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
}
