package agent

import (
	"context"

	"github.com/Keyring-Network/keyring-gavryn/window-coordinator/internal/events"
)

type NotificationHandler func(events.Notification)

// OnNotification runs handler for every notification of the given type
// addressed to this window's identity or to everyone. Handlers run on one
// goroutine per subscription, in publish order. The returned func
// unsubscribes and waits for an in-flight handler to return.
func (a *Agent) OnNotification(notificationType string, handler NotificationHandler) func() {
	if a.notifier == nil || handler == nil {
		return func() {}
	}
	a.mu.Lock()
	identity := a.identity
	a.mu.Unlock()

	ctx, cancel := context.WithCancel(a.ctx)
	ch := a.notifier.Subscribe(ctx, events.Filter{Identity: identity, Types: []string{notificationType}})
	done := make(chan struct{})
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case notification, ok := <-ch:
				if !ok {
					return
				}
				handler(notification)
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}
