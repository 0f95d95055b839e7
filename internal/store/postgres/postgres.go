package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/Keyring-Network/keyring-gavryn/window-coordinator/internal/store"
)

type PostgresStore struct {
	db *sql.DB
}

var openDB = sql.Open

func New(conn string) (*PostgresStore, error) {
	db, err := openDB("pgx", conn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := verifySchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}

func verifySchema(ctx context.Context, db *sql.DB) error {
	required := []string{
		"windows",
		"install_hints",
	}
	for _, table := range required {
		var regclass sql.NullString
		if err := db.QueryRowContext(ctx, "SELECT to_regclass($1)", fmt.Sprintf("public.%s", table)).Scan(&regclass); err != nil {
			return err
		}
		if !regclass.Valid {
			return fmt.Errorf("database schema missing: %s table not found (run infra/migrations/001_init.sql)", table)
		}
	}
	return nil
}

func (p *PostgresStore) UpsertWindow(ctx context.Context, record store.WindowRecord) error {
	state := strings.TrimSpace(string(record.State))
	if state == "" {
		state = string(store.StateActive)
	}
	registeredAt := record.RegisteredAt
	if registeredAt.IsZero() {
		registeredAt = record.LastSeenAt
	}
	const query = `
		INSERT INTO windows (
			client_id,
			identity,
			role,
			url,
			state,
			registered_at,
			last_seen_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (client_id)
		DO UPDATE SET
			identity = EXCLUDED.identity,
			role = EXCLUDED.role,
			url = EXCLUDED.url,
			state = EXCLUDED.state,
			last_seen_at = EXCLUDED.last_seen_at
	`
	_, err := p.db.ExecContext(
		ctx,
		query,
		record.ClientID,
		store.NormalizeIdentity(record.Identity),
		string(record.Role),
		nullString(record.URL),
		state,
		registeredAt.UTC(),
		record.LastSeenAt.UTC(),
	)
	return err
}

func (p *PostgresStore) GetWindow(ctx context.Context, clientID string) (*store.WindowRecord, error) {
	const query = `
		SELECT client_id, identity, role, url, state, registered_at, last_seen_at
		FROM windows
		WHERE client_id = $1
	`
	record, err := scanWindow(p.db.QueryRowContext(ctx, query, clientID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (p *PostgresStore) ListWindows(ctx context.Context) ([]store.WindowRecord, error) {
	const query = `
		SELECT client_id, identity, role, url, state, registered_at, last_seen_at
		FROM windows
		ORDER BY last_seen_at DESC, client_id ASC
	`
	return p.queryWindows(ctx, query)
}

func (p *PostgresStore) ListWindowsByIdentity(ctx context.Context, identity string) ([]store.WindowRecord, error) {
	const query = `
		SELECT client_id, identity, role, url, state, registered_at, last_seen_at
		FROM windows
		WHERE identity = $1
		ORDER BY last_seen_at DESC, client_id ASC
	`
	return p.queryWindows(ctx, query, store.NormalizeIdentity(identity))
}

func (p *PostgresStore) DeleteWindow(ctx context.Context, clientID string) error {
	_, err := p.db.ExecContext(ctx, "DELETE FROM windows WHERE client_id = $1", clientID)
	return err
}

func (p *PostgresStore) GetInstallHint(ctx context.Context, identity string) (*store.InstallHint, error) {
	const query = `
		SELECT identity, installed, updated_at
		FROM install_hints
		WHERE identity = $1
	`
	var updatedAt time.Time
	hint := store.InstallHint{}
	if err := p.db.QueryRowContext(ctx, query, store.NormalizeIdentity(identity)).Scan(
		&hint.Identity,
		&hint.Installed,
		&updatedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	hint.UpdatedAt = updatedAt.UTC()
	return &hint, nil
}

func (p *PostgresStore) UpsertInstallHint(ctx context.Context, hint store.InstallHint) error {
	updatedAt := hint.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	const query = `
		INSERT INTO install_hints (identity, installed, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (identity)
		DO UPDATE SET
			installed = EXCLUDED.installed,
			updated_at = EXCLUDED.updated_at
	`
	_, err := p.db.ExecContext(ctx, query, store.NormalizeIdentity(hint.Identity), hint.Installed, updatedAt.UTC())
	return err
}

// Ping backs the readiness probe.
func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWindow(row rowScanner) (store.WindowRecord, error) {
	var (
		record       store.WindowRecord
		role         string
		state        string
		url          sql.NullString
		registeredAt time.Time
		lastSeenAt   time.Time
	)
	if err := row.Scan(
		&record.ClientID,
		&record.Identity,
		&role,
		&url,
		&state,
		&registeredAt,
		&lastSeenAt,
	); err != nil {
		return store.WindowRecord{}, err
	}
	record.Role = store.Role(role)
	record.State = store.WindowState(state)
	if url.Valid {
		record.URL = url.String
	}
	record.RegisteredAt = registeredAt.UTC()
	record.LastSeenAt = lastSeenAt.UTC()
	return record, nil
}

func (p *PostgresStore) queryWindows(ctx context.Context, query string, args ...any) ([]store.WindowRecord, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []store.WindowRecord{}
	for rows.Next() {
		record, err := scanWindow(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func nullString(value string) any {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return value
}
