// Package sqlstore implements the enrollment store and attendance ledger on
// database/sql for SQLite (modernc.org/sqlite) and MySQL/MariaDB.
package sqlstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ritheshpulikeshimk-svg/face-recognition-attendence/internal/database"
)

//go:embed migrations/sqlite/*.sql migrations/mysql/*.sql
var migrationsFS embed.FS

// dialect captures the SQL differences between supported engines.
type dialect struct {
	name string
	// migrationsTable creates the schema_migrations bookkeeping table.
	migrationsTable string
	// lockSuffix is appended to SELECTs that guard a subsequent write.
	lockSuffix string
	// insertAttendance inserts a row and silently skips (student_id, date) duplicates.
	insertAttendance string
	// transient reports driver specific retryable errors.
	transient func(error) bool
}

// DB is a SQL-backed storage backend.
type DB struct {
	db *sql.DB
	d  dialect

	students *StudentRepository
	ledger   *AttendanceRepository
}

func newDB(db *sql.DB, d dialect) *DB {
	s := &DB{db: db, d: d}
	s.students = &StudentRepository{s: s}
	s.ledger = &AttendanceRepository{s: s}
	return s
}

// Students returns the enrollment store.
func (s *DB) Students() database.EnrollmentStore { return s.students }

// Attendance returns the ledger.
func (s *DB) Attendance() database.Ledger { return s.ledger }

// Dialect returns the engine name.
func (s *DB) Dialect() string { return s.d.name }

// Close closes the connection pool.
func (s *DB) Close() error {
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			return fmt.Errorf("closing database connection: %w", err)
		}
	}
	return nil
}

// wrap classifies err for callers: transient failures become ErrStorageUnavailable.
func (s *DB) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, database.ErrNotFound) || errors.Is(err, database.ErrConflict) ||
		errors.Is(err, database.ErrDimensionMismatch) || errors.Is(err, database.ErrInvalidEmbedding) {
		return err
	}
	if database.IsTransient(err) || (s.d.transient != nil && s.d.transient(err)) {
		return database.Unavailable(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Migrate applies pending embedded migrations for the dialect.
func (s *DB) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.d.migrationsTable); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	applied := make(map[string]bool)
	rows, err := s.db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return fmt.Errorf("query applied migrations: %w", err)
	}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return fmt.Errorf("scan migration version: %w", err)
		}
		applied[v] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate applied migrations: %w", err)
	}

	dir := "migrations/" + s.d.name
	entries, err := migrationsFS.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read migrations directory: %w", err)
	}
	var files []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".sql") && !applied[e.Name()] {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, file := range files {
		content, err := migrationsFS.ReadFile(dir + "/" + file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}
		if err := s.applyMigration(ctx, file, string(content)); err != nil {
			return err
		}
		fmt.Printf("Applied migration: %s\n", file)
	}
	return nil
}

func (s *DB) applyMigration(ctx context.Context, file, content string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction for %s: %w", file, err)
	}
	defer tx.Rollback()

	// Neither driver accepts multiple statements per Exec by default.
	for _, stmt := range splitStatements(content) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute migration %s: %w", file, err)
		}
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (?)", file); err != nil {
		return fmt.Errorf("record migration %s: %w", file, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", file, err)
	}
	return nil
}

func splitStatements(content string) []string {
	var out []string
	for _, part := range strings.Split(content, ";") {
		if stmt := strings.TrimSpace(part); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}
