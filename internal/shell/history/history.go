// Package history records deployment runs in a local SQLite database so an
// operator can see which (host, run tag) pairs were shipped, when, and how
// they ended.
package history

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// =============================================================================
// Records
// =============================================================================

// Deployment statuses.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Record is one deployment run.
type Record struct {
	ID            string
	Host          string
	RunTag        string
	ImageRef      string
	ContainerName string
	Mode          string
	Status        string
	Error         string
	StartedAt     time.Time
	FinishedAt    *time.Time
}

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("deployment record not found")

// =============================================================================
// Store
// =============================================================================

// Store persists deployment records in SQLite.
type Store struct {
	db *sqlx.DB
}

// Open opens the database at dsn and runs migrations. The parent directory
// is created if it does not exist yet, so the default DSN works from a
// fresh checkout.
func Open(dsn string) (*Store, error) {
	if dir := filepath.Dir(dsn); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history database directory: %w", err)
		}
	}
	db, err := sqlx.Open("sqlite3", dsn+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping history database: %w", err)
	}
	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate history database: %w", err)
	}
	return &Store{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// =============================================================================
// Row Mapping
// =============================================================================

type recordRow struct {
	ID            string  `db:"id"`
	Host          string  `db:"host"`
	RunTag        string  `db:"run_tag"`
	ImageRef      string  `db:"image_ref"`
	ContainerName string  `db:"container_name"`
	Mode          string  `db:"mode"`
	Status        string  `db:"status"`
	Error         string  `db:"error"`
	StartedAt     string  `db:"started_at"`
	FinishedAt    *string `db:"finished_at"`
}

func (r recordRow) toRecord() Record {
	rec := Record{
		ID:            r.ID,
		Host:          r.Host,
		RunTag:        r.RunTag,
		ImageRef:      r.ImageRef,
		ContainerName: r.ContainerName,
		Mode:          r.Mode,
		Status:        r.Status,
		Error:         r.Error,
	}
	rec.StartedAt, _ = time.Parse(time.RFC3339, r.StartedAt)
	if r.FinishedAt != nil {
		t, err := time.Parse(time.RFC3339, *r.FinishedAt)
		if err == nil {
			rec.FinishedAt = &t
		}
	}
	return rec
}

// =============================================================================
// Operations
// =============================================================================

// Begin inserts a new record in StatusRunning.
func (s *Store) Begin(ctx context.Context, rec Record) error {
	row := recordRow{
		ID:            rec.ID,
		Host:          rec.Host,
		RunTag:        rec.RunTag,
		ImageRef:      rec.ImageRef,
		ContainerName: rec.ContainerName,
		Mode:          rec.Mode,
		Status:        StatusRunning,
		StartedAt:     rec.StartedAt.UTC().Format(time.RFC3339),
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO deployments (id, host, run_tag, image_ref, container_name, mode, status, error, started_at, finished_at)
		VALUES (:id, :host, :run_tag, :image_ref, :container_name, :mode, :status, :error, :started_at, NULL)`,
		row)
	if err != nil {
		return fmt.Errorf("insert deployment record: %w", err)
	}
	return nil
}

// Finish marks a record succeeded or failed. The mode is updated too, since
// the upload decision is only known after the presence check ran.
func (s *Store) Finish(ctx context.Context, id, mode, status, errText string, finishedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE deployments
		SET mode = ?, status = ?, error = ?, finished_at = ?
		WHERE id = ?`,
		mode, status, errText, finishedAt.UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("update deployment record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns the most recent records, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []recordRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, host, run_tag, image_ref, container_name, mode, status, error, started_at, finished_at
		FROM deployments
		ORDER BY started_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list deployment records: %w", err)
	}

	records := make([]Record, 0, len(rows))
	for _, r := range rows {
		records = append(records, r.toRecord())
	}
	return records, nil
}
