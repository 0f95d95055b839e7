package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/Keyring-Network/keyring-gavryn/window-coordinator/internal/store"
)

var windowColumns = []string{"client_id", "identity", "role", "url", "state", "registered_at", "last_seen_at"}

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	cleanup := func() {
		_ = db.Close()
	}
	return &PostgresStore{db: db}, mock, cleanup
}

func TestVerifySchema_QueryError(t *testing.T) {
	ctx := context.Background()
	pgStore, mock, cleanup := newMockStore(t)
	defer cleanup()

	mock.ExpectQuery("SELECT to_regclass").WillReturnError(errors.New("query error"))
	if err := verifySchema(ctx, pgStore.db); err == nil {
		t.Fatalf("expected schema verification error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestVerifySchema_MissingTable(t *testing.T) {
	ctx := context.Background()
	pgStore, mock, cleanup := newMockStore(t)
	defer cleanup()

	mock.ExpectQuery("SELECT to_regclass").WithArgs("public.windows").
		WillReturnRows(sqlmock.NewRows([]string{"to_regclass"}).AddRow("windows"))
	mock.ExpectQuery("SELECT to_regclass").WithArgs("public.install_hints").
		WillReturnRows(sqlmock.NewRows([]string{"to_regclass"}).AddRow(nil))

	err := verifySchema(ctx, pgStore.db)
	require.Error(t, err)
	require.Contains(t, err.Error(), "install_hints")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNew_OpenError(t *testing.T) {
	orig := openDB
	t.Cleanup(func() { openDB = orig })
	openDB = func(driverName, dataSourceName string) (*sql.DB, error) {
		return nil, errors.New("open failed")
	}

	_, err := New("postgres://example")
	require.EqualError(t, err, "open failed")
}

func TestUpsertWindow(t *testing.T) {
	ctx := context.Background()
	pgStore, mock, cleanup := newMockStore(t)
	defer cleanup()

	now := time.Now().UTC()
	mock.ExpectExec("INSERT INTO windows").
		WithArgs("c-1", "s1@example.com", "dashboard", "/home", "active", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := pgStore.UpsertWindow(ctx, store.WindowRecord{
		ClientID:   "c-1",
		Identity:   " S1@example.com ",
		Role:       store.RoleDashboard,
		URL:        "/home",
		LastSeenAt: now,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertWindow_EmptyURLIsNull(t *testing.T) {
	ctx := context.Background()
	pgStore, mock, cleanup := newMockStore(t)
	defer cleanup()

	mock.ExpectExec("INSERT INTO windows").
		WithArgs("c-1", "", "link-router", nil, "awaiting-pong", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := pgStore.UpsertWindow(ctx, store.WindowRecord{
		ClientID:   "c-1",
		Role:       store.RoleLinkRouter,
		State:      store.StateAwaitingPong,
		LastSeenAt: time.Now(),
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetWindow(t *testing.T) {
	ctx := context.Background()
	pgStore, mock, cleanup := newMockStore(t)
	defer cleanup()

	now := time.Now()
	mock.ExpectQuery("SELECT client_id, identity, role, url, state, registered_at, last_seen_at").
		WithArgs("c-1").
		WillReturnRows(sqlmock.NewRows(windowColumns).AddRow("c-1", "s1@example.com", "dashboard", nil, "active", now, now))

	record, err := pgStore.GetWindow(ctx, "c-1")
	require.NoError(t, err)
	require.NotNil(t, record)
	require.Equal(t, store.RoleDashboard, record.Role)
	require.Equal(t, store.StateActive, record.State)
	require.Empty(t, record.URL)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetWindow_NotFound(t *testing.T) {
	ctx := context.Background()
	pgStore, mock, cleanup := newMockStore(t)
	defer cleanup()

	mock.ExpectQuery("SELECT client_id").WithArgs("missing").WillReturnError(sql.ErrNoRows)

	record, err := pgStore.GetWindow(ctx, "missing")
	require.NoError(t, err)
	require.Nil(t, record)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListWindowsByIdentity(t *testing.T) {
	ctx := context.Background()
	pgStore, mock, cleanup := newMockStore(t)
	defer cleanup()

	now := time.Now()
	rows := sqlmock.NewRows(windowColumns).
		AddRow("c-2", "s1@example.com", "dashboard", "/a", "active", now, now).
		AddRow("c-1", "s1@example.com", "content-player", "/b", "awaiting-pong", now, now.Add(-time.Second))
	mock.ExpectQuery("FROM windows\\s+WHERE identity = \\$1").WithArgs("s1@example.com").WillReturnRows(rows)

	records, err := pgStore.ListWindowsByIdentity(ctx, "S1@example.com")
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "c-2", records[0].ClientID)
	require.Equal(t, store.StateAwaitingPong, records[1].State)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListWindows_RowsErr(t *testing.T) {
	ctx := context.Background()
	pgStore, mock, cleanup := newMockStore(t)
	defer cleanup()

	now := time.Now()
	rows := sqlmock.NewRows(windowColumns).
		AddRow("c-1", "a", "dashboard", "/a", "active", now, now).
		AddRow("c-2", "a", "dashboard", "/b", "active", now, now)
	rows.RowError(1, errors.New("row error"))

	mock.ExpectQuery("SELECT client_id").WillReturnRows(rows)
	if _, err := pgStore.ListWindows(ctx); err == nil {
		t.Fatalf("expected rows error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListWindows_ScanError(t *testing.T) {
	ctx := context.Background()
	pgStore, mock, cleanup := newMockStore(t)
	defer cleanup()

	rows := sqlmock.NewRows(windowColumns).
		AddRow("c-1", "a", "dashboard", "/a", "active", "not-a-time", time.Now())

	mock.ExpectQuery("SELECT client_id").WillReturnRows(rows)
	if _, err := pgStore.ListWindows(ctx); err == nil {
		t.Fatalf("expected scan error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDeleteWindow(t *testing.T) {
	ctx := context.Background()
	pgStore, mock, cleanup := newMockStore(t)
	defer cleanup()

	mock.ExpectExec("DELETE FROM windows WHERE client_id").WithArgs("c-1").WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, pgStore.DeleteWindow(ctx, "c-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInstallHintRoundTrip(t *testing.T) {
	ctx := context.Background()
	pgStore, mock, cleanup := newMockStore(t)
	defer cleanup()

	now := time.Now()
	mock.ExpectExec("INSERT INTO install_hints").
		WithArgs("s1@example.com", true, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT identity, installed, updated_at").
		WithArgs("s1@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"identity", "installed", "updated_at"}).AddRow("s1@example.com", true, now))

	require.NoError(t, pgStore.UpsertInstallHint(ctx, store.InstallHint{Identity: "S1@example.com", Installed: true}))
	hint, err := pgStore.GetInstallHint(ctx, "s1@example.com")
	require.NoError(t, err)
	require.NotNil(t, hint)
	require.True(t, hint.Installed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetInstallHint_NotFound(t *testing.T) {
	ctx := context.Background()
	pgStore, mock, cleanup := newMockStore(t)
	defer cleanup()

	mock.ExpectQuery("SELECT identity, installed, updated_at").WillReturnError(sql.ErrNoRows)
	hint, err := pgStore.GetInstallHint(ctx, "nobody")
	require.NoError(t, err)
	require.Nil(t, hint)
}
