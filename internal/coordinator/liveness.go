package coordinator

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/Keyring-Network/keyring-gavryn/window-coordinator/internal/protocol"
	"github.com/Keyring-Network/keyring-gavryn/window-coordinator/internal/store"
)

// PingAll probes every registered window and schedules an eviction check
// after the liveness timeout. It returns the number of windows probed.
func (c *Coordinator) PingAll(ctx context.Context) (int, error) {
	count := 0
	err := c.do(ctx, func(ctx context.Context) error {
		var err error
		count, err = c.pingAll(ctx)
		return err
	})
	return count, err
}

// Pong records a liveness answer. A zero at means now.
func (c *Coordinator) Pong(ctx context.Context, clientID string, at time.Time) error {
	return c.do(ctx, func(ctx context.Context) error {
		record, err := c.store.GetWindow(ctx, clientID)
		if err != nil {
			return fmt.Errorf("load window: %w", err)
		}
		if record == nil {
			return ErrUnknownWindow
		}
		if at.IsZero() {
			at = c.now()
		}
		if at.After(record.LastSeenAt) {
			record.LastSeenAt = at
		}
		record.State = store.StateActive
		delete(c.awaiting, clientID)
		if err := c.store.UpsertWindow(ctx, *record); err != nil {
			return fmt.Errorf("store window: %w", err)
		}
		return nil
	})
}

// Sweep pings all windows every interval until ctx is done. It is used when
// no Temporal worker drives the sweep.
func (c *Coordinator) Sweep(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopped:
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, interval)
			if _, err := c.PingAll(pingCtx); err != nil {
				log.Printf("coordinator: liveness sweep failed: %v", err)
			}
			cancel()
		}
	}
}

func (c *Coordinator) pingAll(ctx context.Context) (int, error) {
	records, err := c.store.ListWindows(ctx)
	if err != nil {
		return 0, fmt.Errorf("list windows: %w", err)
	}
	c.pingRound++
	round := c.pingRound
	now := c.now()

	for _, record := range records {
		if link := c.liveLink(record.ClientID); link != nil {
			link.send(protocol.Message{Kind: protocol.MessagePing, ClientID: record.ClientID, SentAt: now})
		}
		if record.State != store.StateAwaitingPong {
			record.State = store.StateAwaitingPong
			if err := c.store.UpsertWindow(ctx, record); err != nil {
				return 0, fmt.Errorf("store window: %w", err)
			}
		}
		if _, pending := c.awaiting[record.ClientID]; !pending {
			c.awaiting[record.ClientID] = round
		}
	}

	time.AfterFunc(c.livenessTimeout, func() {
		err := c.submit(func(ctx context.Context) error {
			_, err := c.evict(ctx, round)
			return err
		})
		if err != nil && err != ErrStopped {
			log.Printf("coordinator: schedule eviction round=%d: %v", round, err)
		}
	})
	return len(records), nil
}

// evict removes windows that have been awaiting a pong since round or
// earlier.
func (c *Coordinator) evict(ctx context.Context, round int64) (int, error) {
	evicted := 0
	for clientID, since := range c.awaiting {
		if since > round {
			continue
		}
		record, err := c.store.GetWindow(ctx, clientID)
		if err != nil {
			return evicted, fmt.Errorf("load window: %w", err)
		}
		if record == nil || record.State != store.StateAwaitingPong {
			delete(c.awaiting, clientID)
			continue
		}
		record.State = store.StatePresumedDead
		if err := c.store.UpsertWindow(ctx, *record); err != nil {
			return evicted, fmt.Errorf("store window: %w", err)
		}
		log.Printf("coordinator: evicting presumed-dead window client_id=%s identity=%s", clientID, record.Identity)
		if err := c.unregister(ctx, clientID); err != nil {
			return evicted, err
		}
		evicted++
	}
	return evicted, nil
}
