package store

import (
	"context"
	"strings"
	"time"
)

type Role string

const (
	RoleDashboard     Role = "dashboard"
	RoleContentPlayer Role = "content-player"
	RoleLinkRouter    Role = "link-router"
)

// Deduplicated reports whether windows with this role take part in
// duplicate detection. Link routers are transient and never do.
func (r Role) Deduplicated() bool {
	return r == RoleDashboard || r == RoleContentPlayer
}

func (r Role) Valid() bool {
	switch r {
	case RoleDashboard, RoleContentPlayer, RoleLinkRouter:
		return true
	default:
		return false
	}
}

type WindowState string

const (
	StateActive       WindowState = "active"
	StateAwaitingPong WindowState = "awaiting-pong"
	StatePresumedDead WindowState = "presumed-dead"
)

type WindowRecord struct {
	ClientID     string
	Identity     string
	Role         Role
	URL          string
	RegisteredAt time.Time
	LastSeenAt   time.Time
	State        WindowState
}

type SessionFlag struct {
	SessionID string
	Key       string
	Value     string
	UpdatedAt time.Time
}

type InstallHint struct {
	Identity  string
	Installed bool
	UpdatedAt time.Time
}

// NormalizeIdentity is applied to every identity before it is stored or
// compared, so that "S1@Example.com " and "s1@example.com" are one user.
func NormalizeIdentity(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}

type Store interface {
	UpsertWindow(ctx context.Context, record WindowRecord) error
	GetWindow(ctx context.Context, clientID string) (*WindowRecord, error)
	ListWindows(ctx context.Context) ([]WindowRecord, error)
	ListWindowsByIdentity(ctx context.Context, identity string) ([]WindowRecord, error)
	DeleteWindow(ctx context.Context, clientID string) error
	GetInstallHint(ctx context.Context, identity string) (*InstallHint, error)
	UpsertInstallHint(ctx context.Context, hint InstallHint) error
}
