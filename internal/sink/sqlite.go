package sink

import (
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/telemetry.capture/internal/monitoring"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type sqliteWriter struct {
	db     *sql.DB
	insert *sql.Stmt
}

func openSQLite(path string) (*sqliteWriter, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	insert, err := db.Prepare(`INSERT INTO records
		(recorded_at, session_id, variant, channels, samples, body)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare insert: %w", err)
	}
	return &sqliteWriter{db: db, insert: insert}, nil
}

// migrateUp applies the embedded schema. Running it against an existing
// database is a no-op.
func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	// m is not closed: that would close db.
	m.Log = migrateLogger{}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...interface{}) {
	monitoring.Logf("[migrate] "+format, v...)
}

func (migrateLogger) Verbose() bool { return false }

func (s *sqliteWriter) Write(rec Calibrated) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	samples := 0
	channels := rec.Record.Channels()
	for _, ch := range channels {
		samples += len(ch)
	}
	_, err = s.insert.Exec(
		rec.Timestamp.UTC().Format(TimestampLayout),
		rec.Session,
		rec.Record.Variant.String(),
		len(channels),
		samples,
		string(body),
	)
	return err
}

func (s *sqliteWriter) Close() error {
	s.insert.Close()
	return s.db.Close()
}
