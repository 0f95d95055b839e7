package coordinator

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/Keyring-Network/keyring-gavryn/window-coordinator/internal/store"
)

type Registration struct {
	ClientID string
	Identity string
	Role     store.Role
	URL      string
}

// Register inserts or refreshes a window record. Registering the same client
// id twice leaves a single record.
func (c *Coordinator) Register(ctx context.Context, reg Registration) (store.WindowRecord, error) {
	var record store.WindowRecord
	err := c.do(ctx, func(ctx context.Context) error {
		var err error
		record, err = c.register(ctx, reg)
		return err
	})
	return record, err
}

// FindDuplicate returns the most recently seen live window for identity,
// ignoring excludingClientID, or nil.
func (c *Coordinator) FindDuplicate(ctx context.Context, identity, excludingClientID string) (*store.WindowRecord, error) {
	var record *store.WindowRecord
	err := c.do(ctx, func(ctx context.Context) error {
		var err error
		record, err = c.findDuplicate(ctx, identity, excludingClientID)
		return err
	})
	return record, err
}

// Unregister removes the window record and closes its link. Unknown ids are
// ignored.
func (c *Coordinator) Unregister(ctx context.Context, clientID string) error {
	return c.do(ctx, func(ctx context.Context) error {
		return c.unregister(ctx, clientID)
	})
}

func (c *Coordinator) Windows(ctx context.Context) ([]store.WindowRecord, error) {
	var records []store.WindowRecord
	err := c.do(ctx, func(ctx context.Context) error {
		var err error
		records, err = c.store.ListWindows(ctx)
		return err
	})
	return records, err
}

// Connect attaches the message link for clientID, replacing any earlier one.
// A window may connect before it registers so that it can already answer
// focus requests when its arbitration returns.
func (c *Coordinator) Connect(ctx context.Context, clientID string) (*Link, error) {
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return nil, fmt.Errorf("%w: client id is required", ErrInvalidRegistration)
	}
	var link *Link
	err := c.do(ctx, func(ctx context.Context) error {
		if existing, ok := c.links[clientID]; ok {
			existing.close()
		}
		link = newLink(clientID)
		c.links[clientID] = link
		return nil
	})
	if err != nil {
		return nil, err
	}
	return link, nil
}

func (c *Coordinator) register(ctx context.Context, reg Registration) (store.WindowRecord, error) {
	if reg.Role == "" {
		reg.Role = store.RoleDashboard
	}
	if !reg.Role.Valid() {
		return store.WindowRecord{}, fmt.Errorf("%w: unknown role %q", ErrInvalidRegistration, reg.Role)
	}
	clientID := strings.TrimSpace(reg.ClientID)
	if clientID == "" {
		clientID = uuid.NewString()
	}

	now := c.now()
	record := store.WindowRecord{
		ClientID:     clientID,
		Identity:     store.NormalizeIdentity(reg.Identity),
		Role:         reg.Role,
		URL:          reg.URL,
		RegisteredAt: now,
		LastSeenAt:   now,
		State:        store.StateActive,
	}
	existing, err := c.store.GetWindow(ctx, clientID)
	if err != nil {
		return store.WindowRecord{}, fmt.Errorf("load window: %w", err)
	}
	if existing != nil {
		record.RegisteredAt = existing.RegisteredAt
	}
	if err := c.store.UpsertWindow(ctx, record); err != nil {
		return store.WindowRecord{}, fmt.Errorf("store window: %w", err)
	}
	delete(c.awaiting, clientID)
	return record, nil
}

func (c *Coordinator) findDuplicate(ctx context.Context, identity, excludingClientID string) (*store.WindowRecord, error) {
	identity = store.NormalizeIdentity(identity)
	if identity == "" {
		return nil, nil
	}
	records, err := c.store.ListWindowsByIdentity(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("list windows: %w", err)
	}
	// Records arrive most recently seen first. A window awaiting a pong is
	// still a candidate; only eviction takes it out of the running.
	for i := range records {
		record := records[i]
		if record.ClientID == excludingClientID || !record.Role.Deduplicated() {
			continue
		}
		if record.State == store.StatePresumedDead {
			continue
		}
		return &record, nil
	}
	return nil, nil
}

func (c *Coordinator) unregister(ctx context.Context, clientID string) error {
	if link, ok := c.links[clientID]; ok {
		link.close()
		delete(c.links, clientID)
	}
	delete(c.awaiting, clientID)
	if err := c.store.DeleteWindow(ctx, clientID); err != nil {
		return fmt.Errorf("delete window: %w", err)
	}
	return nil
}

// liveLink returns the attached link for clientID, dropping it if the window
// side has detached.
func (c *Coordinator) liveLink(clientID string) *Link {
	link, ok := c.links[clientID]
	if !ok {
		return nil
	}
	if link.isDetached() {
		log.Printf("coordinator: dropping detached link client_id=%s", clientID)
		link.close()
		delete(c.links, clientID)
		return nil
	}
	return link
}
