package coordinator

import (
	"sync"

	"github.com/Keyring-Network/keyring-gavryn/window-coordinator/internal/protocol"
)

const linkBuffer = 16

// Link carries coordinator messages to one window. The coordinator goroutine
// is the only sender and the only one that closes the message channel; the
// window side detaches with Close.
type Link struct {
	clientID string
	messages chan protocol.Message
	detached chan struct{}
	once     sync.Once
	closed   bool
}

func newLink(clientID string) *Link {
	return &Link{
		clientID: clientID,
		messages: make(chan protocol.Message, linkBuffer),
		detached: make(chan struct{}),
	}
}

func (l *Link) ClientID() string {
	return l.clientID
}

func (l *Link) Messages() <-chan protocol.Message {
	return l.messages
}

// Close detaches the window. The coordinator drops the link the next time it
// touches it.
func (l *Link) Close() {
	l.once.Do(func() { close(l.detached) })
}

// Detached is closed once the window side has called Close.
func (l *Link) Detached() <-chan struct{} {
	return l.detached
}

func (l *Link) isDetached() bool {
	select {
	case <-l.detached:
		return true
	default:
		return false
	}
}

// send must only be called from the coordinator goroutine.
func (l *Link) send(msg protocol.Message) bool {
	if l.closed || l.isDetached() {
		return false
	}
	select {
	case l.messages <- msg:
		return true
	default:
		return false
	}
}

// close must only be called from the coordinator goroutine.
func (l *Link) close() {
	if l.closed {
		return
	}
	l.closed = true
	l.Close()
	close(l.messages)
}
