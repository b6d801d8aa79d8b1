// Package memory provides an in-process storage backend. Enrollment uses
// copy-on-write snapshots, the ledger uses sync.Map for atomic per-day inserts.
package memory

import (
	"cmp"
	"context"
	"iter"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/ritheshpulikeshimk-svg/face-recognition-attendence/internal/database"
)

// Backend bundles the in-memory enrollment store and ledger.
type Backend struct {
	students *StudentStore
	ledger   *Ledger
}

// New creates an empty in-memory backend.
func New() *Backend {
	return &Backend{students: NewStudentStore(), ledger: NewLedger()}
}

func (b *Backend) Students() database.EnrollmentStore { return b.students }
func (b *Backend) Attendance() database.Ledger        { return b.ledger }
func (b *Backend) Close() error                       { return nil }

// StudentStore is an in-memory EnrollmentStore.
type StudentStore struct {
	mu       sync.Mutex // serializes writers
	students map[string]*database.Student
	dim      int
	version  uint64
	snap     atomic.Pointer[database.Snapshot]
}

// NewStudentStore creates an empty store.
func NewStudentStore() *StudentStore {
	s := &StudentStore{students: make(map[string]*database.Student)}
	s.snap.Store(database.NewSnapshot(0, 0, nil))
	return s
}

func rollKey(className, roll string) string {
	return strings.ToLower(strings.TrimSpace(className)) + "\x00" + strings.ToLower(strings.TrimSpace(roll))
}

func (s *StudentStore) rollTaken(className, roll string) bool {
	key := rollKey(className, roll)
	for _, st := range s.students {
		if st.RemovedAt == nil && rollKey(st.ClassName, st.RollNumber) == key {
			return true
		}
	}
	return false
}

// Enroll creates a student or appends a reference to an existing one.
func (s *StudentStore) Enroll(ctx context.Context, meta database.StudentMeta, embedding []float32) (*database.Student, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := database.CheckEmbedding(s.dim, embedding); err != nil {
		return nil, err
	}
	ref := append([]float32(nil), embedding...)

	if meta.ID != "" {
		cur, ok := s.students[meta.ID]
		if !ok || cur.RemovedAt != nil {
			return nil, database.ErrNotFound
		}
		next := cur.Clone()
		next.Embeddings = append(next.Embeddings, ref)
		s.students[next.ID] = next
		s.publish(len(ref))
		return next.Clone(), nil
	}

	if s.rollTaken(meta.ClassName, meta.RollNumber) {
		return nil, database.ErrConflict
	}
	st := &database.Student{
		ID:           uuid.NewString(),
		Name:         meta.Name,
		RollNumber:   meta.RollNumber,
		ClassName:    meta.ClassName,
		Embeddings:   [][]float32{ref},
		RegisteredAt: time.Now().UTC(),
	}
	s.students[st.ID] = st
	s.publish(len(ref))
	return st.Clone(), nil
}

// ReEnroll replaces all references of a student.
func (s *StudentStore) ReEnroll(ctx context.Context, id string, embedding []float32) (*database.Student, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.students[id]
	if !ok || cur.RemovedAt != nil {
		return nil, database.ErrNotFound
	}
	dim := s.dim
	if s.activeCount() == 1 {
		// The only eligible student may change the store dimension.
		dim = 0
	}
	if err := database.CheckEmbedding(dim, embedding); err != nil {
		return nil, err
	}
	next := cur.Clone()
	next.Embeddings = [][]float32{append([]float32(nil), embedding...)}
	s.students[id] = next
	s.publish(len(embedding))
	return next.Clone(), nil
}

// Remove marks a student ineligible.
func (s *StudentStore) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.students[id]
	if !ok || cur.RemovedAt != nil {
		return database.ErrNotFound
	}
	next := cur.Clone()
	now := time.Now().UTC()
	next.RemovedAt = &now
	s.students[id] = next
	s.publish(s.dim)
	return nil
}

// Get returns a copy of the student.
func (s *StudentStore) Get(ctx context.Context, id string) (*database.Student, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.students[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return st.Clone(), nil
}

// List returns active students ordered by class then roll number.
func (s *StudentStore) List(ctx context.Context) ([]database.Student, error) {
	s.mu.Lock()
	out := make([]database.Student, 0, len(s.students))
	for _, st := range s.students {
		if st.RemovedAt == nil {
			out = append(out, *st.Clone())
		}
	}
	s.mu.Unlock()

	slices.SortFunc(out, func(a, b database.Student) int {
		return cmp.Or(
			cmp.Compare(a.ClassName, b.ClassName),
			cmp.Compare(a.RollNumber, b.RollNumber),
			cmp.Compare(a.ID, b.ID),
		)
	})
	return out, nil
}

// Candidates returns the current snapshot without taking the writer lock.
func (s *StudentStore) Candidates(ctx context.Context) (*database.Snapshot, error) {
	return s.snap.Load(), nil
}

func (s *StudentStore) activeCount() int {
	n := 0
	for _, st := range s.students {
		if st.Active() {
			n++
		}
	}
	return n
}

// publish rebuilds the snapshot after a write. Must hold s.mu.
// Reference slices are never mutated after insertion, so snapshots share them.
func (s *StudentStore) publish(dim int) {
	candidates := make([]database.Candidate, 0, len(s.students))
	for _, st := range s.students {
		if st.Active() {
			candidates = append(candidates, database.Candidate{StudentID: st.ID, References: st.Embeddings})
		}
	}
	slices.SortFunc(candidates, func(a, b database.Candidate) int { return cmp.Compare(a.StudentID, b.StudentID) })

	if len(candidates) == 0 {
		s.dim = 0
	} else {
		s.dim = dim
	}
	s.version++
	s.snap.Store(database.NewSnapshot(s.version, s.dim, candidates))
}

// Ledger is an in-memory attendance ledger.
type Ledger struct {
	byKey sync.Map // studentID|date -> *database.AttendanceRecord

	mu      sync.RWMutex
	records []*database.AttendanceRecord
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{}
}

// RecordIfAbsent inserts rec unless the student already has a record for rec.Date.
func (l *Ledger) RecordIfAbsent(ctx context.Context, rec database.AttendanceRecord) (database.AttendanceRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return database.AttendanceRecord{}, false, err
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	stored := &rec
	actual, loaded := l.byKey.LoadOrStore(rec.StudentID+"|"+rec.Date, stored)
	if loaded {
		return *actual.(*database.AttendanceRecord), false, nil
	}

	l.mu.Lock()
	l.records = append(l.records, stored)
	l.mu.Unlock()
	return rec, true, nil
}

// Query yields matching records ordered by timestamp.
func (l *Ledger) Query(ctx context.Context, q database.AttendanceQuery) iter.Seq2[database.AttendanceRecord, error] {
	return func(yield func(database.AttendanceRecord, error) bool) {
		l.mu.RLock()
		var matched []database.AttendanceRecord
		for _, r := range l.records {
			if q.Matches(r) {
				matched = append(matched, *r)
			}
		}
		l.mu.RUnlock()

		slices.SortStableFunc(matched, func(a, b database.AttendanceRecord) int {
			return a.Timestamp.Compare(b.Timestamp)
		})
		for _, r := range matched {
			if err := ctx.Err(); err != nil {
				yield(database.AttendanceRecord{}, err)
				return
			}
			if !yield(r, nil) {
				return
			}
		}
	}
}
