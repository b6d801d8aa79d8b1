package database

import (
	"iter"
	"strings"
	"time"
)

// Status is the attendance status of a ledger record.
type Status string

const (
	StatusPresent Status = "present"
	StatusLate    Status = "late"
	StatusAbsent  Status = "absent" // derived in summaries, never written
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPresent, StatusLate, StatusAbsent:
		return true
	}
	return false
}

// StudentMeta is the descriptive part of a student supplied at enrollment.
type StudentMeta struct {
	ID         string // empty on create, set to append to an existing student
	Name       string
	RollNumber string
	ClassName  string
}

// Student represents an enrolled student with its reference embeddings
type Student struct {
	ID           string
	Name         string
	RollNumber   string
	ClassName    string
	Embeddings   [][]float32
	RegisteredAt time.Time
	RemovedAt    *time.Time // nil while the student is eligible for matching
}

// Active reports whether the student can be matched.
func (s *Student) Active() bool {
	return s.RemovedAt == nil && len(s.Embeddings) > 0
}

// Clone returns a deep copy so callers can't mutate store state.
func (s *Student) Clone() *Student {
	c := *s
	c.Embeddings = make([][]float32, len(s.Embeddings))
	for i, e := range s.Embeddings {
		c.Embeddings[i] = append([]float32(nil), e...)
	}
	if s.RemovedAt != nil {
		t := *s.RemovedAt
		c.RemovedAt = &t
	}
	return &c
}

// Candidate is one eligible student as seen by the matcher.
type Candidate struct {
	StudentID  string
	References [][]float32
}

// Snapshot is a consistent point-in-time view of all eligible students.
// Iterating it never observes a partially written student.
type Snapshot struct {
	// Version changes whenever the set of eligible references changes.
	Version uint64
	// Dim is the store-wide embedding dimension, 0 while the store is empty.
	Dim        int
	candidates []Candidate
}

// NewSnapshot builds a snapshot over candidates. The slice is owned by the snapshot afterwards.
func NewSnapshot(version uint64, dim int, candidates []Candidate) *Snapshot {
	return &Snapshot{Version: version, Dim: dim, candidates: candidates}
}

// Len returns the number of eligible students.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.candidates)
}

// All returns a lazy, restartable sequence over the snapshot's candidates.
func (s *Snapshot) All() iter.Seq[Candidate] {
	return func(yield func(Candidate) bool) {
		if s == nil {
			return
		}
		for _, c := range s.candidates {
			if !yield(c) {
				return
			}
		}
	}
}

// AttendanceRecord is one immutable ledger entry. Name, roll and class are
// captured at marking time so reports survive student removal.
type AttendanceRecord struct {
	ID          string
	StudentID   string
	StudentName string
	RollNumber  string
	ClassName   string
	Date        string // YYYY-MM-DD in the deployment timezone
	Timestamp   time.Time
	Status      Status
	Confidence  float64 // normalized score in [0,1]
	Distance    float64 // raw matcher distance, kept for audit
}

// AttendanceQuery filters ledger reads. From and To are inclusive YYYY-MM-DD dates;
// empty means unbounded.
type AttendanceQuery struct {
	From      string
	To        string
	StudentID string
	ClassName string
}

// Matches reports whether rec passes the filter.
func (q AttendanceQuery) Matches(rec *AttendanceRecord) bool {
	if q.From != "" && rec.Date < q.From {
		return false
	}
	if q.To != "" && rec.Date > q.To {
		return false
	}
	if q.StudentID != "" && rec.StudentID != q.StudentID {
		return false
	}
	if q.ClassName != "" && rec.ClassName != q.ClassName {
		return false
	}
	return true
}

// DateLayout is the ledger's calendar-day format.
const DateLayout = "2006-01-02"

// Where renders the filter as a SQL WHERE clause. placeholder returns the
// bind marker for the n-th argument (1-based).
func (q AttendanceQuery) Where(placeholder func(n int) string) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, cond+" "+placeholder(len(args)))
	}
	if q.From != "" {
		add("date >=", q.From)
	}
	if q.To != "" {
		add("date <=", q.To)
	}
	if q.StudentID != "" {
		add("student_id =", q.StudentID)
	}
	if q.ClassName != "" {
		add("class_name =", q.ClassName)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
