// Package attendance orchestrates enrollment and verification: it extracts a
// probe from an image, matches it against the enrolled students and marks
// the matched student in the ledger at most once per day.
package attendance

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/ritheshpulikeshimk-svg/face-recognition-attendence/internal/database"
	"github.com/ritheshpulikeshimk-svg/face-recognition-attendence/internal/extractor"
	"github.com/ritheshpulikeshimk-svg/face-recognition-attendence/internal/facematch"
)

// State is a step of a verification attempt.
type State string

const (
	StateIdle       State = "idle"
	StateExtracting State = "extracting"
	StateMatching   State = "matching"
	StateRecording  State = "recording"
	StateDone       State = "done"
	StateRejected   State = "rejected"
	StateFailed     State = "failed"
)

// ErrInvalidStudent is returned when enrollment metadata is incomplete.
var ErrInvalidStudent = errors.New("invalid student")

// Options tune the service. Zero values fall back to sensible defaults.
type Options struct {
	Location   *time.Location
	LateAfter  time.Duration // offset from local midnight after which captures are Late; 0 disables
	MaxRetries int
	RetryDelay time.Duration
	Now        func() time.Time
}

// Service is safe for concurrent use and holds no per-attempt state.
type Service struct {
	students  database.EnrollmentStore
	ledger    database.Ledger
	extractor extractor.Extractor
	matcher   *facematch.Matcher

	loc        *time.Location
	lateAfter  time.Duration
	maxRetries int
	retryDelay time.Duration
	now        func() time.Time
}

// NewService wires the collaborators. The backend's lifecycle stays with the caller.
func NewService(backend database.Backend, ex extractor.Extractor, m *facematch.Matcher, opts Options) *Service {
	s := &Service{
		students:   backend.Students(),
		ledger:     backend.Attendance(),
		extractor:  ex,
		matcher:    m,
		loc:        opts.Location,
		lateAfter:  opts.LateAfter,
		maxRetries: opts.MaxRetries,
		retryDelay: opts.RetryDelay,
		now:        opts.Now,
	}
	if s.loc == nil {
		s.loc = time.Local
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.retryDelay <= 0 {
		s.retryDelay = 100 * time.Millisecond
	}
	return s
}

// Location returns the timezone used for attendance dates.
func (s *Service) Location() *time.Location { return s.loc }

// Matcher returns the matcher in use.
func (s *Service) Matcher() *facematch.Matcher { return s.matcher }

// Today returns the current attendance date.
func (s *Service) Today() string {
	return s.now().In(s.loc).Format(database.DateLayout)
}

// Result describes one verification attempt.
type Result struct {
	State State
	Path  []State
	// Decision is set once matching ran.
	Decision facematch.Decision
	// Record is the resolved ledger entry when State is StateDone.
	Record        *database.AttendanceRecord
	AlreadyMarked bool
	// Reason is machine-readable for rejected and failed attempts.
	Reason string
}

func (r *Result) to(s State) {
	r.State = s
	r.Path = append(r.Path, s)
}

func (r *Result) fail(reason string) {
	r.Reason = reason
	r.to(StateFailed)
}

// Verify runs one attempt for image captured at capturedAt (zero means now).
// Rejections are not errors: they come back with State StateRejected. Errors
// are returned together with a StateFailed result.
func (s *Service) Verify(ctx context.Context, image []byte, capturedAt time.Time) (*Result, error) {
	res := &Result{State: StateIdle, Path: []State{StateIdle}}
	if capturedAt.IsZero() {
		capturedAt = s.now()
	}

	res.to(StateExtracting)
	probe, err := s.extractor.Extract(ctx, image)
	if err != nil {
		res.fail(ReasonFor(err))
		return res, err
	}

	res.to(StateMatching)
	snap, err := s.students.Candidates(ctx)
	if err != nil {
		res.fail(ReasonFor(err))
		return res, fmt.Errorf("failed to load candidates: %w", err)
	}
	decision, err := s.matcher.Match(probe, snap)
	if err != nil {
		res.fail(ReasonFor(err))
		return res, err
	}
	res.Decision = decision

	if decision.Outcome != facematch.OutcomeMatched {
		res.Reason = string(decision.Outcome)
		res.to(StateRejected)
		return res, nil
	}

	res.to(StateRecording)
	st, err := s.students.Get(ctx, decision.StudentID)
	if err != nil {
		res.fail(ReasonFor(err))
		return res, fmt.Errorf("failed to load matched student: %w", err)
	}

	local := capturedAt.In(s.loc)
	rec, created, err := s.recordWithRetry(ctx, database.AttendanceRecord{
		StudentID:   st.ID,
		StudentName: st.Name,
		RollNumber:  st.RollNumber,
		ClassName:   st.ClassName,
		Date:        local.Format(database.DateLayout),
		Timestamp:   capturedAt,
		Status:      s.StatusAt(capturedAt),
		Confidence:  decision.Confidence,
		Distance:    decision.Distance,
	})
	if err != nil {
		res.fail(ReasonFor(err))
		return res, err
	}

	res.Record = &rec
	res.AlreadyMarked = !created
	res.to(StateDone)
	return res, nil
}

// StatusAt returns Late when t falls after the late cutoff in the service timezone.
func (s *Service) StatusAt(t time.Time) database.Status {
	if s.lateAfter <= 0 {
		return database.StatusPresent
	}
	local := t.In(s.loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.loc)
	if local.Sub(midnight) > s.lateAfter {
		return database.StatusLate
	}
	return database.StatusPresent
}

func (s *Service) recordWithRetry(ctx context.Context, rec database.AttendanceRecord) (database.AttendanceRecord, bool, error) {
	for attempt := 0; ; attempt++ {
		stored, created, err := s.ledger.RecordIfAbsent(ctx, rec)
		if err == nil {
			return stored, created, nil
		}
		if !errors.Is(err, database.ErrStorageUnavailable) || attempt >= s.maxRetries {
			return database.AttendanceRecord{}, false, fmt.Errorf("failed to record attendance: %w", err)
		}

		delay := CalculateBackoff(s.retryDelay, attempt+1)
		log.Printf("attendance: record for %s on %s failed (attempt %d/%d), retrying in %v: %v",
			rec.StudentID, rec.Date, attempt+1, s.maxRetries+1, delay, err)
		select {
		case <-ctx.Done():
			return database.AttendanceRecord{}, false, ctx.Err()
		case <-time.After(delay):
		}
	}
}

// Enroll extracts one embedding per image and creates the student with
// all of them as references. Nothing is stored if any image fails.
func (s *Service) Enroll(ctx context.Context, meta database.StudentMeta, images ...[]byte) (*database.Student, error) {
	meta.ID = ""
	meta.Name = strings.TrimSpace(meta.Name)
	meta.RollNumber = strings.TrimSpace(meta.RollNumber)
	meta.ClassName = strings.TrimSpace(meta.ClassName)
	if meta.Name == "" || meta.RollNumber == "" {
		return nil, fmt.Errorf("%w: name and roll number are required", ErrInvalidStudent)
	}
	if len(images) == 0 {
		return nil, fmt.Errorf("%w: at least one image is required", ErrInvalidStudent)
	}

	embeddings, err := s.extractAll(ctx, images)
	if err != nil {
		return nil, err
	}
	for i, emb := range embeddings[1:] {
		if len(emb) != len(embeddings[0]) {
			return nil, fmt.Errorf("image %d: %w", i+2, database.DimensionError(len(embeddings[0]), len(emb)))
		}
	}

	st, err := s.students.Enroll(ctx, meta, embeddings[0])
	if err != nil {
		return nil, fmt.Errorf("failed to enroll student: %w", err)
	}
	for _, emb := range embeddings[1:] {
		next, err := s.students.Enroll(ctx, database.StudentMeta{ID: st.ID}, emb)
		if err != nil {
			s.rollbackEnroll(ctx, st.ID)
			return nil, fmt.Errorf("failed to add reference: %w", err)
		}
		st = next
	}
	return st, nil
}

// rollbackEnroll removes a partially enrolled student so the roll number is free again.
func (s *Service) rollbackEnroll(ctx context.Context, id string) {
	if err := s.students.Remove(context.WithoutCancel(ctx), id); err != nil {
		log.Printf("attendance: failed to roll back partial enrollment of %s: %v", id, err)
	}
}

// AddReference appends a reference embedding to an existing student.
func (s *Service) AddReference(ctx context.Context, id string, image []byte) (*database.Student, error) {
	emb, err := s.extractor.Extract(ctx, image)
	if err != nil {
		return nil, err
	}
	st, err := s.students.Enroll(ctx, database.StudentMeta{ID: id}, emb)
	if err != nil {
		return nil, fmt.Errorf("failed to add reference: %w", err)
	}
	return st, nil
}

// ReEnroll replaces all references of a student with the embedding of image.
func (s *Service) ReEnroll(ctx context.Context, id string, image []byte) (*database.Student, error) {
	emb, err := s.extractor.Extract(ctx, image)
	if err != nil {
		return nil, err
	}
	st, err := s.students.ReEnroll(ctx, id, emb)
	if err != nil {
		return nil, fmt.Errorf("failed to re-enroll student: %w", err)
	}
	return st, nil
}

// Remove makes a student ineligible for matching. Ledger history is kept.
func (s *Service) Remove(ctx context.Context, id string) error {
	if err := s.students.Remove(ctx, id); err != nil {
		return fmt.Errorf("failed to remove student: %w", err)
	}
	return nil
}

// Get returns a student by ID.
func (s *Service) Get(ctx context.Context, id string) (*database.Student, error) {
	return s.students.Get(ctx, id)
}

// List returns the active students.
func (s *Service) List(ctx context.Context) ([]database.Student, error) {
	return s.students.List(ctx)
}

func (s *Service) extractAll(ctx context.Context, images [][]byte) ([][]float32, error) {
	out := make([][]float32, 0, len(images))
	for i, img := range images {
		emb, err := s.extractor.Extract(ctx, img)
		if err != nil {
			if len(images) > 1 {
				return nil, fmt.Errorf("image %d: %w", i+1, err)
			}
			return nil, err
		}
		out = append(out, emb)
	}
	return out, nil
}
