// Package hints keeps the small pieces of state a window wants to survive a
// reload: session-scoped flags in memory and per-identity install hints in
// the store.
package hints

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/Keyring-Network/keyring-gavryn/window-coordinator/internal/resolver"
	"github.com/Keyring-Network/keyring-gavryn/window-coordinator/internal/store"
)

const (
	DefaultSessionFlagTTL  = 12 * time.Hour
	DefaultCleanupInterval = 30 * time.Minute
)

// Well-known session flags.
const (
	FlagOpenedFromEntryPoint = "opened-from-entry-point"
)

var ErrInvalidKey = errors.New("session id and key are required")

type Hints struct {
	flags *gocache.Cache
	store store.Store
	ttl   time.Duration
	now   func() time.Time
}

func New(st store.Store, ttl time.Duration) *Hints {
	if ttl <= 0 {
		ttl = DefaultSessionFlagTTL
	}
	return &Hints{
		flags: gocache.New(ttl, DefaultCleanupInterval),
		store: st,
		ttl:   ttl,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func flagKey(sessionID, key string) string {
	return strings.TrimSpace(sessionID) + "/" + strings.ToLower(strings.TrimSpace(key))
}

func (h *Hints) SetSessionFlag(sessionID, key, value string) (store.SessionFlag, error) {
	if strings.TrimSpace(sessionID) == "" || strings.TrimSpace(key) == "" {
		return store.SessionFlag{}, ErrInvalidKey
	}
	flag := store.SessionFlag{
		SessionID: strings.TrimSpace(sessionID),
		Key:       strings.ToLower(strings.TrimSpace(key)),
		Value:     value,
		UpdatedAt: h.now(),
	}
	h.flags.Set(flagKey(sessionID, key), flag, h.ttl)
	return flag, nil
}

// SessionFlag returns a flag and extends its lifetime, so a session that
// keeps reading its flags keeps them.
func (h *Hints) SessionFlag(sessionID, key string) (store.SessionFlag, bool) {
	k := flagKey(sessionID, key)
	value, found := h.flags.Get(k)
	if !found {
		return store.SessionFlag{}, false
	}
	flag, ok := value.(store.SessionFlag)
	if !ok {
		return store.SessionFlag{}, false
	}
	h.flags.Set(k, flag, h.ttl)
	return flag, true
}

func (h *Hints) DeleteSessionFlag(sessionID, key string) {
	h.flags.Delete(flagKey(sessionID, key))
}

func (h *Hints) RecordInstallState(ctx context.Context, identity string, installed bool) error {
	identity = store.NormalizeIdentity(identity)
	if identity == "" {
		return fmt.Errorf("identity is required")
	}
	return h.store.UpsertInstallHint(ctx, store.InstallHint{
		Identity:  identity,
		Installed: installed,
		UpdatedAt: h.now(),
	})
}

// InstallState returns the last recorded install state, or nil when none is
// known.
func (h *Hints) InstallState(ctx context.Context, identity string) (*bool, error) {
	identity = store.NormalizeIdentity(identity)
	if identity == "" {
		return nil, nil
	}
	hint, err := h.store.GetInstallHint(ctx, identity)
	if err != nil {
		return nil, err
	}
	if hint == nil {
		return nil, nil
	}
	installed := hint.Installed
	return &installed, nil
}

// Enrich fills LastInstallHint from the stored hint when the caller did not
// send one, and records an authoritative installed-apps answer for next
// time.
func (h *Hints) Enrich(ctx context.Context, identity string, signals resolver.Signals) (resolver.Signals, error) {
	if store.NormalizeIdentity(identity) == "" {
		return signals, nil
	}
	if signals.InstalledApps != nil {
		if err := h.RecordInstallState(ctx, identity, *signals.InstalledApps); err != nil {
			return signals, fmt.Errorf("record install hint: %w", err)
		}
	}
	if signals.LastInstallHint == nil {
		installed, err := h.InstallState(ctx, identity)
		if err != nil {
			return signals, fmt.Errorf("load install hint: %w", err)
		}
		signals.LastInstallHint = installed
	}
	return signals, nil
}
