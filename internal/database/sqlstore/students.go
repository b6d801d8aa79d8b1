package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ritheshpulikeshimk-svg/face-recognition-attendence/internal/database"
)

// StudentRepository is the SQL EnrollmentStore.
type StudentRepository struct {
	s *DB
}

// RollKey is the normalized (class, roll) uniqueness key.
func RollKey(className, roll string) string {
	return strings.ToLower(strings.TrimSpace(className)) + "/" + strings.ToLower(strings.TrimSpace(roll))
}

func unixNano(t time.Time) int64 { return t.UTC().UnixNano() }

func fromUnixNano(n int64) time.Time { return time.Unix(0, n).UTC() }

// currentDim returns the dimension of active references, 0 when none exist.
func currentDim(ctx context.Context, tx *sql.Tx) (int, error) {
	var dim int
	err := tx.QueryRowContext(ctx, `
		SELECT e.dim FROM student_embeddings e
		JOIN students s ON s.id = e.student_id
		WHERE s.removed_at IS NULL
		LIMIT 1`).Scan(&dim)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query store dimension: %w", err)
	}
	return dim, nil
}

func insertEmbedding(ctx context.Context, tx *sql.Tx, studentID string, emb []float32, now time.Time) error {
	_, err := tx.ExecContext(ctx,
		"INSERT INTO student_embeddings (student_id, embedding, dim, created_at) VALUES (?, ?, ?, ?)",
		studentID, database.EncodeEmbedding(emb), len(emb), unixNano(now))
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

// activeStudentExists locks the student row where the dialect supports it.
func (r *StudentRepository) activeStudentExists(ctx context.Context, tx *sql.Tx, id string) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx,
		"SELECT 1 FROM students WHERE id = ? AND removed_at IS NULL"+r.s.d.lockSuffix, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query student: %w", err)
	}
	return true, nil
}

// Enroll creates a student or appends a reference embedding.
func (r *StudentRepository) Enroll(ctx context.Context, meta database.StudentMeta, embedding []float32) (*database.Student, error) {
	id, err := r.enroll(ctx, meta, embedding)
	if err != nil {
		return nil, r.s.wrap("enroll student", err)
	}
	return r.Get(ctx, id)
}

func (r *StudentRepository) enroll(ctx context.Context, meta database.StudentMeta, embedding []float32) (string, error) {
	tx, err := r.s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	// Taking the version row lock first serializes writers before the dimension is read.
	if err := bumpVersion(ctx, tx); err != nil {
		return "", err
	}
	dim, err := currentDim(ctx, tx)
	if err != nil {
		return "", err
	}
	if err := database.CheckEmbedding(dim, embedding); err != nil {
		return "", err
	}

	now := time.Now()
	id := meta.ID
	if id != "" {
		ok, err := r.activeStudentExists(ctx, tx, id)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", database.ErrNotFound
		}
	} else {
		key := RollKey(meta.ClassName, meta.RollNumber)
		var existing string
		err := tx.QueryRowContext(ctx,
			"SELECT id FROM students WHERE roll_key = ? AND removed_at IS NULL LIMIT 1"+r.s.d.lockSuffix, key).Scan(&existing)
		switch {
		case err == nil:
			return "", database.ErrConflict
		case !errors.Is(err, sql.ErrNoRows):
			return "", fmt.Errorf("check roll number: %w", err)
		}

		id = uuid.NewString()
		_, err = tx.ExecContext(ctx, `
			INSERT INTO students (id, name, roll_number, class_name, roll_key, registered_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			id, meta.Name, meta.RollNumber, meta.ClassName, key, unixNano(now))
		if err != nil {
			return "", fmt.Errorf("insert student: %w", err)
		}
	}

	if err := insertEmbedding(ctx, tx, id, embedding, now); err != nil {
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
		return nil, r.s.wrap("re-enroll student", err)
	}
	return r.Get(ctx, id)
}

func (r *StudentRepository) reEnroll(ctx context.Context, id string, embedding []float32) error {
	tx, err := r.s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := bumpVersion(ctx, tx); err != nil {
		return err
	}
	ok, err := r.activeStudentExists(ctx, tx, id)
	if err != nil {
		return err
	}
	if !ok {
		return database.ErrNotFound
	}

	var active int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM students WHERE removed_at IS NULL").Scan(&active); err != nil {
		return fmt.Errorf("count students: %w", err)
	}
	dim := 0
	if active > 1 {
		if dim, err = currentDim(ctx, tx); err != nil {
			return err
		}
	}
	if err := database.CheckEmbedding(dim, embedding); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM student_embeddings WHERE student_id = ?", id); err != nil {
		return fmt.Errorf("delete embeddings: %w", err)
	}
	if err := insertEmbedding(ctx, tx, id, embedding, time.Now()); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit re-enrollment: %w", err)
	}
	return nil
}

// Remove marks a student ineligible.
func (r *StudentRepository) Remove(ctx context.Context, id string) error {
	tx, err := r.s.db.BeginTx(ctx, nil)
	if err != nil {
		return r.s.wrap("remove student", err)
	}
	defer tx.Rollback()

	if err := bumpVersion(ctx, tx); err != nil {
		return r.s.wrap("remove student", err)
	}
	res, err := tx.ExecContext(ctx, "UPDATE students SET removed_at = ? WHERE id = ? AND removed_at IS NULL", unixNano(time.Now()), id)
	if err != nil {
		return r.s.wrap("remove student", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return r.s.wrap("remove student", err)
	}
	if n == 0 {
		return database.ErrNotFound
	}
	return r.s.wrap("remove student", tx.Commit())
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStudent(row rowScanner) (*database.Student, error) {
	var (
		st         database.Student
		registered int64
		removed    sql.NullInt64
	)
	if err := row.Scan(&st.ID, &st.Name, &st.RollNumber, &st.ClassName, &registered, &removed); err != nil {
		return nil, err
	}
	st.RegisteredAt = fromUnixNano(registered)
	if removed.Valid {
		t := fromUnixNano(removed.Int64)
		st.RemovedAt = &t
	}
	return &st, nil
}

const studentColumns = "id, name, roll_number, class_name, registered_at, removed_at"

// Get returns a student by ID, including removed ones.
func (r *StudentRepository) Get(ctx context.Context, id string) (*database.Student, error) {
	st, err := scanStudent(r.s.db.QueryRowContext(ctx, "SELECT "+studentColumns+" FROM students WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, r.s.wrap("get student", err)
	}

	rows, err := r.s.db.QueryContext(ctx, "SELECT embedding FROM student_embeddings WHERE student_id = ? ORDER BY id", id)
	if err != nil {
		return nil, r.s.wrap("get embeddings", err)
	}
	defer rows.Close()
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, r.s.wrap("scan embedding", err)
		}
		emb, err := database.DecodeEmbedding(blob)
		if err != nil {
			return nil, err
		}
		st.Embeddings = append(st.Embeddings, emb)
	}
	if err := rows.Err(); err != nil {
		return nil, r.s.wrap("iterate embeddings", err)
	}
	return st, nil
}

// List returns active students ordered by class and roll number.
// Embeddings are not loaded.
func (r *StudentRepository) List(ctx context.Context) ([]database.Student, error) {
	rows, err := r.s.db.QueryContext(ctx, `
		SELECT `+studentColumns+` FROM students
		WHERE removed_at IS NULL
		ORDER BY class_name, roll_number, id`)
	if err != nil {
		return nil, r.s.wrap("list students", err)
	}
	defer rows.Close()

	var out []database.Student
	for rows.Next() {
		st, err := scanStudent(rows)
		if err != nil {
			return nil, r.s.wrap("scan student", err)
		}
		out = append(out, *st)
	}
	if err := rows.Err(); err != nil {
		return nil, r.s.wrap("iterate students", err)
	}
	return out, nil
}

// Candidates reads all active references inside one transaction.
func (r *StudentRepository) Candidates(ctx context.Context) (*database.Snapshot, error) {
	snap, err := r.candidates(ctx)
	if err != nil {
		return nil, r.s.wrap("load candidates", err)
	}
	return snap, nil
}

func (r *StudentRepository) candidates(ctx context.Context) (*database.Snapshot, error) {
	tx, err := r.s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
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
		ORDER BY e.student_id, e.id`)
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
			blob      []byte
		)
		if err := rows.Scan(&studentID, &blob); err != nil {
			return nil, fmt.Errorf("scan reference: %w", err)
		}
		emb, err := database.DecodeEmbedding(blob)
		if err != nil {
			return nil, err
		}
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
