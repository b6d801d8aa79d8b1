package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/ritheshpulikeshimk-svg/face-recognition-attendence/internal/config"
	"github.com/ritheshpulikeshimk-svg/face-recognition-attendence/internal/database"
)

// Pool manages a PostgreSQL connection pool.
type Pool struct {
	db *sql.DB

	students *StudentRepository
	ledger   *AttendanceRepository
}

// NewPool creates a new PostgreSQL connection pool.
func NewPool(cfg *config.DatabaseConfig) (*Pool, error) {
	if cfg.URL == "" {
		return nil, errors.New("database URL is required")
	}

	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool.
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)

	// Verify connection.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	p := &Pool{db: db}
	p.students = &StudentRepository{pool: p}
	p.ledger = &AttendanceRepository{pool: p}
	return p, nil
}

// Open creates the pool and applies pending migrations.
func Open(ctx context.Context, cfg *config.DatabaseConfig) (*Pool, error) {
	pool, err := NewPool(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create PostgreSQL pool: %w", err)
	}

	if err := pool.Migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return pool, nil
}

// Students returns the enrollment store.
func (p *Pool) Students() database.EnrollmentStore { return p.students }

// Attendance returns the ledger.
func (p *Pool) Attendance() database.Ledger { return p.ledger }

// DB returns the underlying sql.DB for direct access.
func (p *Pool) DB() *sql.DB {
	return p.db
}

// Close closes the connection pool.
func (p *Pool) Close() error {
	if p.db != nil {
		if err := p.db.Close(); err != nil {
			return fmt.Errorf("closing database connection: %w", err)
		}
	}
	return nil
}

// BeginTx starts a transaction.
func (p *Pool) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	tx, err := p.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	return tx, nil
}

// SQLSTATE classes and codes used for error classification.
const (
	classConnectionException  = "08"
	classTransactionRollback  = "40"
	classInsufficientResource = "53"
	classOperatorIntervention = "57"
	codeUniqueViolation       = "23505"
)

// classify maps driver errors onto the database sentinels.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, database.ErrNotFound) || errors.Is(err, database.ErrConflict) ||
		errors.Is(err, database.ErrDimensionMismatch) || errors.Is(err, database.ErrInvalidEmbedding) {
		return err
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case classConnectionException, classTransactionRollback, classInsufficientResource, classOperatorIntervention:
			return database.Unavailable(op, err)
		}
		if pqErr.Code == codeUniqueViolation {
			return fmt.Errorf("%s: %w: %w", op, database.ErrConflict, err)
		}
	}
	if database.IsTransient(err) {
		return database.Unavailable(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
