package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"github.com/ritheshpulikeshimk-svg/face-recognition-attendence/internal/database"
)

// enrollmentLockKey serializes enrollment writes so the store dimension is
// checked and changed atomically.
const enrollmentLockKey = 7340211

// StudentRepository provides PostgreSQL-backed enrollment storage.
type StudentRepository struct {
	pool *Pool
}

func rollKey(className, roll string) string {
	return strings.ToLower(strings.TrimSpace(className)) + "/" + strings.ToLower(strings.TrimSpace(roll))
}

func lockEnrollment(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", enrollmentLockKey); err != nil {
		return fmt.Errorf("lock enrollment: %w", err)
	}
	return nil
}

func currentDim(ctx context.Context, tx *sql.Tx) (int, error) {
	var dim int
	err := tx.QueryRowContext(ctx, `
		SELECT e.dim FROM student_embeddings e
		JOIN students s ON s.id = e.student_id
		WHERE s.removed_at IS NULL
		LIMIT 1
	`).Scan(&dim)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query store dimension: %w", err)
	}
	return dim, nil
}

func insertEmbedding(ctx context.Context, tx *sql.Tx, studentID string, emb []float32) error {
	_, err := tx.ExecContext(ctx,
		"INSERT INTO student_embeddings (student_id, embedding, dim) VALUES ($1, $2, $3)",
		studentID, pgvector.NewVector(emb), len(emb))
	if err != nil {
		return fmt.Errorf("insert embedding: %w", err)
	}
	return nil
}

func bumpVersion(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, "UPDATE enrollment_version SET version = version + 1 WHERE id = 1"); err != nil {
		return fmt.Errorf("bump enrollment version: %w", err)
	}
	return nil
}

func isActive(ctx context.Context, tx *sql.Tx, id string) (bool, error) {
	if uuid.Validate(id) != nil {
		return false, nil
	}
	var active bool
	err := tx.QueryRowContext(ctx, "SELECT removed_at IS NULL FROM students WHERE id = $1 FOR UPDATE", id).Scan(&active)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query student: %w", err)
	}
	return active, nil
}

// Enroll creates a student or appends a reference embedding.
func (r *StudentRepository) Enroll(ctx context.Context, meta database.StudentMeta, embedding []float32) (*database.Student, error) {
	id, err := r.enroll(ctx, meta, embedding)
	if err != nil {
		return nil, classify("enroll student", err)
	}
	return r.Get(ctx, id)
}

func (r *StudentRepository) enroll(ctx context.Context, meta database.StudentMeta, embedding []float32) (string, error) {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	if err := lockEnrollment(ctx, tx); err != nil {
		return "", err
	}
	dim, err := currentDim(ctx, tx)
	if err != nil {
		return "", err
	}
	if err := database.CheckEmbedding(dim, embedding); err != nil {
		return "", err
	}

	id := meta.ID
	if id != "" {
		ok, err := isActive(ctx, tx, id)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", database.ErrNotFound
		}
	} else {
		id = uuid.NewString()
		_, err := tx.ExecContext(ctx, `
			INSERT INTO students (id, name, roll_number, class_name, roll_key)
			VALUES ($1, $2, $3, $4, $5)
		`, id, meta.Name, meta.RollNumber, meta.ClassName, rollKey(meta.ClassName, meta.RollNumber))
		if err != nil {
			return "", fmt.Errorf("insert student: %w", err)
		}
	}

	if err := insertEmbedding(ctx, tx, id, embedding); err != nil {
		return "", err
	}
	if err := bumpVersion(ctx, tx); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit enrollment: %w", err)
	}
	return id, nil
}

// ReEnroll replaces all references of a student.
func (r *StudentRepository) ReEnroll(ctx context.Context, id string, embedding []float32) (*database.Student, error) {
	if err := r.reEnroll(ctx, id, embedding); err != nil {
		return nil, classify("re-enroll student", err)
	}
	return r.Get(ctx, id)
}

func (r *StudentRepository) reEnroll(ctx context.Context, id string, embedding []float32) error {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := lockEnrollment(ctx, tx); err != nil {
		return err
	}
	ok, err := isActive(ctx, tx, id)
	if err != nil {
		return err
	}
	if !ok {
		return database.ErrNotFound
	}

	// Dimension of the other active students, if any.
	var dim int
	err = tx.QueryRowContext(ctx, `
		SELECT e.dim FROM student_embeddings e
		JOIN students s ON s.id = e.student_id
		WHERE s.removed_at IS NULL AND s.id <> $1
		LIMIT 1
	`, id).Scan(&dim)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("query store dimension: %w", err)
	}
	if err := database.CheckEmbedding(dim, embedding); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM student_embeddings WHERE student_id = $1", id); err != nil {
		return fmt.Errorf("delete embeddings: %w", err)
	}
	if err := insertEmbedding(ctx, tx, id, embedding); err != nil {
		return err
	}
	if err := bumpVersion(ctx, tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit re-enrollment: %w", err)
	}
	return nil
}

// Remove marks a student ineligible.
func (r *StudentRepository) Remove(ctx context.Context, id string) error {
	if uuid.Validate(id) != nil {
		return database.ErrNotFound
	}
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return classify("remove student", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "UPDATE students SET removed_at = NOW() WHERE id = $1 AND removed_at IS NULL", id)
	if err != nil {
		return classify("remove student", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify("remove student", err)
	}
	if n == 0 {
		return database.ErrNotFound
	}
	if err := bumpVersion(ctx, tx); err != nil {
		return classify("remove student", err)
	}
	return classify("remove student", tx.Commit())
}

func scanStudent(scanner interface{ Scan(...any) error }) (*database.Student, error) {
	var (
		st      database.Student
		removed sql.NullTime
	)
	if err := scanner.Scan(&st.ID, &st.Name, &st.RollNumber, &st.ClassName, &st.RegisteredAt, &removed); err != nil {
		return nil, err
	}
	st.RegisteredAt = st.RegisteredAt.UTC()
	if removed.Valid {
		t := removed.Time.UTC()
		st.RemovedAt = &t
	}
	return &st, nil
}

// Get returns a student with its references, including removed students.
func (r *StudentRepository) Get(ctx context.Context, id string) (*database.Student, error) {
	if uuid.Validate(id) != nil {
		return nil, database.ErrNotFound
	}
	st, err := scanStudent(r.pool.db.QueryRowContext(ctx, `
		SELECT id, name, roll_number, class_name, registered_at, removed_at
		FROM students WHERE id = $1
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, classify("get student", err)
	}

	rows, err := r.pool.db.QueryContext(ctx, "SELECT embedding FROM student_embeddings WHERE student_id = $1 ORDER BY id", id)
	if err != nil {
		return nil, classify("get embeddings", err)
	}
	defer rows.Close()
	for rows.Next() {
		var v pgvector.Vector
		if err := rows.Scan(&v); err != nil {
			return nil, classify("scan embedding", err)
		}
		st.Embeddings = append(st.Embeddings, v.Slice())
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate embeddings", err)
	}
	return st, nil
}

// List returns active students ordered by class and roll number, without embeddings.
func (r *StudentRepository) List(ctx context.Context) ([]database.Student, error) {
	rows, err := r.pool.db.QueryContext(ctx, `
		SELECT id, name, roll_number, class_name, registered_at, removed_at
		FROM students
		WHERE removed_at IS NULL
		ORDER BY class_name, roll_number, id
	`)
	if err != nil {
		return nil, classify("list students", err)
	}
	defer rows.Close()

	var out []database.Student
	for rows.Next() {
		st, err := scanStudent(rows)
		if err != nil {
			return nil, classify("scan student", err)
		}
		out = append(out, *st)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate students", err)
	}
	return out, nil
}

// Candidates reads all active references in a REPEATABLE READ, read-only transaction.
func (r *StudentRepository) Candidates(ctx context.Context) (*database.Snapshot, error) {
	snap, err := r.candidates(ctx)
	if err != nil {
		return nil, classify("load candidates", err)
	}
	return snap, nil
}

func (r *StudentRepository) candidates(ctx context.Context) (*database.Snapshot, error) {
	tx, err := r.pool.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var version uint64
	if err := tx.QueryRowContext(ctx, "SELECT version FROM enrollment_version WHERE id = 1").Scan(&version); err != nil {
		return nil, fmt.Errorf("query enrollment version: %w", err)
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT e.student_id, e.embedding FROM student_embeddings e
		JOIN students s ON s.id = e.student_id
		WHERE s.removed_at IS NULL
		ORDER BY e.student_id, e.id
	`)
	if err != nil {
		return nil, fmt.Errorf("query references: %w", err)
	}
	defer rows.Close()

	var (
		candidates []database.Candidate
		dim        int
	)
	for rows.Next() {
		var (
			studentID string
			v         pgvector.Vector
		)
		if err := rows.Scan(&studentID, &v); err != nil {
			return nil, fmt.Errorf("scan reference: %w", err)
		}
		emb := v.Slice()
		dim = len(emb)
		if n := len(candidates); n > 0 && candidates[n-1].StudentID == studentID {
			candidates[n-1].References = append(candidates[n-1].References, emb)
			continue
		}
		candidates = append(candidates, database.Candidate{StudentID: studentID, References: [][]float32{emb}})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate references: %w", err)
	}
	return database.NewSnapshot(version, dim, candidates), nil
}
