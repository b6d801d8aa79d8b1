package database

import (
	"context"
	"iter"
)

// EnrollmentStore owns students and their reference embeddings.
type EnrollmentStore interface {
	// Enroll creates a student when meta.ID is empty, otherwise appends the
	// embedding to the existing student's references.
	// Returns ErrDimensionMismatch if the embedding doesn't match the store dimension,
	// ErrConflict if the roll number is taken within the class,
	// ErrNotFound when appending to an unknown or removed student.
	Enroll(ctx context.Context, meta StudentMeta, embedding []float32) (*Student, error)
	// ReEnroll replaces all references of a student with a single embedding.
	ReEnroll(ctx context.Context, id string, embedding []float32) (*Student, error)
	// Remove marks a student ineligible for matching. Ledger records are kept.
	Remove(ctx context.Context, id string) error
	// Get returns a student by ID, including removed ones.
	Get(ctx context.Context, id string) (*Student, error)
	// List returns active students ordered by class and roll number.
	List(ctx context.Context) ([]Student, error)
	// Candidates returns a consistent snapshot of eligible students.
	Candidates(ctx context.Context) (*Snapshot, error)
}

// Ledger is the append-only attendance log, deduplicated per (student, date).
type Ledger interface {
	// RecordIfAbsent stores rec unless a record for (rec.StudentID, rec.Date) exists.
	// It returns the stored record and whether it was created by this call.
	// Atomic with respect to concurrent callers for the same key.
	RecordIfAbsent(ctx context.Context, rec AttendanceRecord) (AttendanceRecord, bool, error)
	// Query yields matching records ordered by timestamp ascending.
	// Each iteration re-reads current state.
	Query(ctx context.Context, q AttendanceQuery) iter.Seq2[AttendanceRecord, error]
}

// Backend is a storage engine providing both collections.
type Backend interface {
	Students() EnrollmentStore
	Attendance() Ledger
	Close() error
}
