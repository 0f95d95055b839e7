package events

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/Keyring-Network/keyring-gavryn/window-coordinator/internal/store"
)

const (
	TypeNewContentAvailable = "new-content-available"

	subscriberBuffer = 16
)

type Notification struct {
	Type      string         `json:"type"`
	Identity  string         `json:"identity,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Source    string         `json:"source,omitempty"`
	TraceID   string         `json:"trace_id,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Filter narrows a subscription. An empty Identity receives every event; a
// set Identity receives events for that identity plus untargeted ones. An
// empty Types list matches every type.
type Filter struct {
	Identity string
	Types    []string
}

func (f Filter) matches(event Notification) bool {
	if event.Identity != "" && f.Identity != "" && event.Identity != f.Identity {
		return false
	}
	if len(f.Types) == 0 {
		return true
	}
	for _, eventType := range f.Types {
		if NormalizeType(eventType) == event.Type {
			return true
		}
	}
	return false
}

type subscription struct {
	filter Filter
}

// Broker delivers notifications to every matching subscriber without
// acknowledgement or retry. Each subscriber channel is FIFO, so events from
// a single publisher arrive in publish order.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[chan Notification]subscription
}

func NormalizeType(eventType string) string {
	return strings.TrimSpace(strings.ToLower(eventType))
}

func NewBroker() *Broker {
	return &Broker{
		subscribers: map[chan Notification]subscription{},
	}
}

func (b *Broker) Subscribe(ctx context.Context, filter Filter) <-chan Notification {
	ch := make(chan Notification, subscriberBuffer)
	filter.Identity = store.NormalizeIdentity(filter.Identity)

	b.mu.Lock()
	b.subscribers[ch] = subscription{filter: filter}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subscribers, ch)
		close(ch)
		b.mu.Unlock()
	}()

	return ch
}

func (b *Broker) Publish(event Notification) {
	event.Type = NormalizeType(event.Type)
	event.Identity = store.NormalizeIdentity(event.Identity)
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	// The read lock is held while sending so a concurrent unsubscribe cannot
	// close a channel mid-send. Sends never block.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch, sub := range b.subscribers {
		if !sub.filter.matches(event) {
			continue
		}
		select {
		case ch <- event:
		default:
		}
	}
}

func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
