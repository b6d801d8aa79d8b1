package attendance

import (
	"bytes"
	"context"
	"errors"
	"math"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ritheshpulikeshimk-svg/face-recognition-attendence/internal/database"
	"github.com/ritheshpulikeshimk-svg/face-recognition-attendence/internal/database/mock"
	"github.com/ritheshpulikeshimk-svg/face-recognition-attendence/internal/extractor"
	"github.com/ritheshpulikeshimk-svg/face-recognition-attendence/internal/facematch"
)

var fixedNow = time.Date(2026, 3, 5, 7, 45, 0, 0, time.UTC)

// fakeExtractor maps image bytes to embeddings; unknown images have no face.
type fakeExtractor struct {
	mu     sync.Mutex
	faces  map[string][]float32
	errs   map[string]error
	called int
}

func (f *fakeExtractor) Extract(ctx context.Context, image []byte) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.called++
	if err, ok := f.errs[string(image)]; ok {
		return nil, err
	}
	if emb, ok := f.faces[string(image)]; ok {
		return emb, nil
	}
	return nil, &extractor.Error{Reason: extractor.ReasonNoFace}
}

func newTestService(t *testing.T, opts Options) (*Service, *mock.MockBackend, *fakeExtractor) {
	t.Helper()
	m, err := facematch.NewMatcher(facematch.Config{
		Metric:      facematch.MetricEuclidean,
		Threshold:   0.1,
		MaxDistance: 2,
		Epsilon:     1e-9,
	})
	if err != nil {
		t.Fatal(err)
	}
	backend := mock.NewMockBackend()
	ex := &fakeExtractor{
		faces: map[string][]float32{
			"alice":       {0.99, 0.01, 0},
			"alice-ref":   {1, 0, 0},
			"bob":         {0, 1, 0},
			"bob-ref":     {0, 0.98, 0.02},
			"between":     {0.5, 0.5, 0},
			"stranger":    {0, 0, 1},
			"short-probe": {1, 0},
		},
		errs: map[string]error{
			"group": &extractor.Error{Reason: extractor.ReasonMultipleFaces, Faces: 2},
		},
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return fixedNow }
	}
	if opts.RetryDelay == 0 {
		opts.RetryDelay = time.Millisecond
	}
	return NewService(backend, ex, m, opts), backend, ex
}

func TestVerify_MatchedThenAlreadyMarked(t *testing.T) {
	svc, backend, _ := newTestService(t, Options{})
	alice := backend.StudentStore.Add("Alice", "10A", "1", []float32{1, 0, 0})
	ctx := context.Background()

	first, err := svc.Verify(ctx, []byte("alice"), time.Time{})
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	want := []State{StateIdle, StateExtracting, StateMatching, StateRecording, StateDone}
	if !slices.Equal(first.Path, want) {
		t.Errorf("expected path %v, got %v", want, first.Path)
	}
	if first.AlreadyMarked || first.Record == nil || first.Record.StudentID != alice.ID {
		t.Fatalf("expected new record for Alice, got %+v", first)
	}
	if first.Record.Date != "2026-03-05" || first.Record.StudentName != "Alice" || first.Record.RollNumber != "1" {
		t.Errorf("unexpected record %+v", first.Record)
	}
	if first.Record.Confidence < 0.98 || first.Record.Confidence > 1 {
		t.Errorf("unexpected confidence %v", first.Record.Confidence)
	}

	second, err := svc.Verify(ctx, []byte("alice"), fixedNow.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if !second.AlreadyMarked || second.State != StateDone {
		t.Fatalf("expected already marked, got %+v", second)
	}
	if second.Record.ID != first.Record.ID || !second.Record.Timestamp.Equal(first.Record.Timestamp) {
		t.Errorf("expected the first record back, got %+v", second.Record)
	}
}

func TestVerify_MultipleFacesLeavesLedgerUntouched(t *testing.T) {
	svc, backend, _ := newTestService(t, Options{})
	backend.StudentStore.Add("Alice", "10A", "1", []float32{1, 0, 0})

	res, err := svc.Verify(context.Background(), []byte("group"), time.Time{})
	if err == nil {
		t.Fatal("expected extraction error")
	}
	if e, ok := extractor.AsError(err); !ok || e.Reason != extractor.ReasonMultipleFaces {
		t.Errorf("expected MultipleFacesDetected surfaced verbatim, got %v", err)
	}
	if !slices.Equal(res.Path, []State{StateIdle, StateExtracting, StateFailed}) {
		t.Errorf("unexpected path %v", res.Path)
	}
	if res.Reason != "multiple_faces_detected" {
		t.Errorf("unexpected reason %q", res.Reason)
	}
	if backend.Ledger.RecordCalls() != 0 {
		t.Errorf("ledger must be untouched, got %d calls", backend.Ledger.RecordCalls())
	}
}

func TestVerify_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(*mock.MockBackend)
		image   string
		outcome facematch.Outcome
	}{
		{"empty store", func(*mock.MockBackend) {}, "alice", facematch.OutcomeNoMatch},
		{"unknown face", func(b *mock.MockBackend) {
			b.StudentStore.Add("Alice", "10A", "1", []float32{1, 0, 0})
		}, "stranger", facematch.OutcomeNoMatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, backend, _ := newTestService(t, Options{})
			tt.setup(backend)
			res, err := svc.Verify(context.Background(), []byte(tt.image), time.Time{})
			if err != nil {
				t.Fatalf("rejection must not be an error: %v", err)
			}
			if res.State != StateRejected || res.Decision.Outcome != tt.outcome || res.Reason != string(tt.outcome) {
				t.Errorf("unexpected result %+v", res)
			}
			if backend.Ledger.RecordCalls() != 0 {
				t.Error("ledger must not be called on rejection")
			}
		})
	}
}

func TestVerify_AmbiguousIsRejected(t *testing.T) {
	svc, backend, _ := newTestService(t, Options{})
	backend.StudentStore.Add("Alice", "10A", "1", []float32{1, 0, 0})
	backend.StudentStore.Add("Bob", "10A", "2", []float32{0, 1, 0})

	m, _ := facematch.NewMatcher(facematch.Config{Metric: facematch.MetricEuclidean, Threshold: 1, MaxDistance: 2, Epsilon: 1e-6})
	svc.matcher = m

	res, err := svc.Verify(context.Background(), []byte("between"), time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if res.State != StateRejected || res.Decision.Outcome != facematch.OutcomeAmbiguous {
		t.Fatalf("expected ambiguous rejection, got %+v", res)
	}
	if len(res.Decision.Tied) != 2 {
		t.Errorf("expected both students tied, got %v", res.Decision.Tied)
	}
}

func TestVerify_DimensionMismatchFails(t *testing.T) {
	svc, backend, _ := newTestService(t, Options{})
	backend.StudentStore.Add("Alice", "10A", "1", []float32{1, 0, 0})

	res, err := svc.Verify(context.Background(), []byte("short-probe"), time.Time{})
	if !errors.Is(err, facematch.ErrDimensionMismatch) {
		t.Fatalf("expected dimension mismatch, got %v", err)
	}
	if res.State != StateFailed || res.Reason != ReasonDimensionMismatch {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestVerify_ConcurrentSameStudent(t *testing.T) {
	svc, backend, _ := newTestService(t, Options{})
	backend.StudentStore.Add("Alice", "10A", "1", []float32{1, 0, 0})

	const n = 16
	results := make([]*Result, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Go(func() {
			res, err := svc.Verify(context.Background(), []byte("alice"), time.Time{})
			if err != nil {
				t.Errorf("Verify failed: %v", err)
				return
			}
			results[i] = res
		})
	}
	wg.Wait()

	created := 0
	for _, r := range results {
		if r != nil && !r.AlreadyMarked {
			created++
		}
	}
	if created != 1 {
		t.Errorf("expected exactly one newly marked attempt, got %d", created)
	}
	recs, err := Collect(svc.Report(context.Background(), ReportQuery{Date: "2026-03-05"}))
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 {
		t.Errorf("expected 1 stored record, got %d", len(recs))
	}
}

func TestVerify_RetriesTransientStorageErrors(t *testing.T) {
	unavailable := database.Unavailable("insert", errors.New("connection reset"))
	tests := []struct {
		name       string
		errs       []error
		maxRetries int
		wantCalls  int
		wantState  State
		wantReason string
	}{
		{"recovers", []error{unavailable, unavailable}, 3, 3, StateDone, ""},
		{"exhausted", []error{unavailable, unavailable, unavailable, unavailable}, 2, 3, StateFailed, ReasonStorageUnavailable},
		{"permanent error not retried", []error{errors.New("constraint violated")}, 3, 1, StateFailed, ReasonInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, backend, _ := newTestService(t, Options{MaxRetries: tt.maxRetries})
			backend.StudentStore.Add("Alice", "10A", "1", []float32{1, 0, 0})
			backend.Ledger.RecordErrors = tt.errs

			res, _ := svc.Verify(context.Background(), []byte("alice"), time.Time{})
			if res.State != tt.wantState || res.Reason != tt.wantReason {
				t.Errorf("expected %s/%q, got %s/%q", tt.wantState, tt.wantReason, res.State, res.Reason)
			}
			if got := backend.Ledger.RecordCalls(); got != tt.wantCalls {
				t.Errorf("expected %d ledger calls, got %d", tt.wantCalls, got)
			}
		})
	}
}

func TestVerify_CandidatesUnavailable(t *testing.T) {
	svc, backend, _ := newTestService(t, Options{MaxRetries: 3})
	backend.StudentStore.CandidatesError = database.Unavailable("candidates", errors.New("timeout"))

	res, err := svc.Verify(context.Background(), []byte("alice"), time.Time{})
	if !errors.Is(err, database.ErrStorageUnavailable) {
		t.Fatalf("expected storage unavailable, got %v", err)
	}
	if res.Reason != ReasonStorageUnavailable || res.State != StateFailed {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestVerify_DateInServiceLocation(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	svc, backend, _ := newTestService(t, Options{Location: loc})
	backend.StudentStore.Add("Alice", "10A", "1", []float32{1, 0, 0})

	res, err := svc.Verify(context.Background(), []byte("alice"), time.Date(2026, 3, 1, 23, 30, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	if res.Record.Date != "2026-03-02" {
		t.Errorf("expected local date 2026-03-02, got %s", res.Record.Date)
	}
}

func TestStatusAt(t *testing.T) {
	loc := time.FixedZone("UTC+1", 60*60)
	svc, _, _ := newTestService(t, Options{Location: loc, LateAfter: 8*time.Hour + 30*time.Minute})

	tests := []struct {
		at   time.Time
		want database.Status
	}{
		{time.Date(2026, 3, 5, 7, 0, 0, 0, time.UTC), database.StatusPresent},  // 08:00 local
		{time.Date(2026, 3, 5, 7, 30, 0, 0, time.UTC), database.StatusPresent}, // 08:30 local
		{time.Date(2026, 3, 5, 7, 31, 0, 0, time.UTC), database.StatusLate},    // 08:31 local
	}
	for _, tt := range tests {
		if got := svc.StatusAt(tt.at); got != tt.want {
			t.Errorf("StatusAt(%v) = %s, want %s", tt.at, got, tt.want)
		}
	}

	noCutoff, _, _ := newTestService(t, Options{})
	if got := noCutoff.StatusAt(time.Date(2026, 3, 5, 23, 0, 0, 0, time.UTC)); got != database.StatusPresent {
		t.Errorf("expected Present without cutoff, got %s", got)
	}
}

func TestEnroll(t *testing.T) {
	svc, backend, ex := newTestService(t, Options{})
	ctx := context.Background()

	st, err := svc.Enroll(ctx, database.StudentMeta{Name: "  Alice ", RollNumber: "1", ClassName: "10A"}, []byte("alice-ref"), []byte("alice"))
	if err != nil {
		t.Fatalf("Enroll failed: %v", err)
	}
	if st.Name != "Alice" || len(st.Embeddings) != 2 {
		t.Errorf("expected trimmed name and 2 references, got %+v", st)
	}

	if _, err := svc.Enroll(ctx, database.StudentMeta{Name: "Bob"}, []byte("bob")); !errors.Is(err, ErrInvalidStudent) {
		t.Errorf("expected ErrInvalidStudent without roll number, got %v", err)
	}

	before := backend.StudentStore.Enrolled
	_, err = svc.Enroll(ctx, database.StudentMeta{Name: "Bob", RollNumber: "2"}, []byte("bob"), []byte("group"))
	if e, ok := extractor.AsError(err); !ok || e.Reason != extractor.ReasonMultipleFaces {
		t.Errorf("expected multiple faces error, got %v", err)
	}
	if backend.StudentStore.Enrolled != before {
		t.Error("nothing may be stored when an image fails")
	}

	if _, err := svc.Enroll(ctx, database.StudentMeta{Name: "Alice B", RollNumber: "1", ClassName: "10a"}, []byte("bob")); !errors.Is(err, database.ErrConflict) {
		t.Errorf("expected roll conflict, got %v", err)
	}
	if ex.called == 0 {
		t.Error("expected extractor to be used")
	}
}

func TestEnroll_PartialFailureStoresNothing(t *testing.T) {
	tests := []struct {
		name    string
		images  []string
		inject  []error
		wantErr error
	}{
		{
			name:    "mixed embedding dimensions",
			images:  []string{"alice-ref", "short-probe"},
			wantErr: database.ErrDimensionMismatch,
		},
		{
			name:    "second reference fails to store",
			images:  []string{"alice-ref", "alice"},
			inject:  []error{nil, database.Unavailable("insert reference", errors.New("timeout"))},
			wantErr: database.ErrStorageUnavailable,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, backend, _ := newTestService(t, Options{})
			ctx := context.Background()
			backend.StudentStore.EnrollErrors = tt.inject

			images := make([][]byte, len(tt.images))
			for i, name := range tt.images {
				images[i] = []byte(name)
			}
			meta := database.StudentMeta{Name: "Carol", RollNumber: "7", ClassName: "10A"}
			if _, err := svc.Enroll(ctx, meta, images...); !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}

			students, err := svc.List(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if len(students) != 0 {
				t.Fatalf("expected no active students after failed enroll, got %+v", students)
			}

			st, err := svc.Enroll(ctx, meta, []byte("alice-ref"), []byte("alice"))
			if err != nil {
				t.Fatalf("retry with the same roll number failed: %v", err)
			}
			if len(st.Embeddings) != 2 {
				t.Errorf("expected 2 references after retry, got %d", len(st.Embeddings))
			}
		})
	}
}

func TestReferencesAndRemove(t *testing.T) {
	svc, _, _ := newTestService(t, Options{})
	ctx := context.Background()

	bob, err := svc.Enroll(ctx, database.StudentMeta{Name: "Bob", RollNumber: "2"}, []byte("bob-ref"))
	if err != nil {
		t.Fatal(err)
	}
	bob, err = svc.AddReference(ctx, bob.ID, []byte("bob"))
	if err != nil || len(bob.Embeddings) != 2 {
		t.Fatalf("AddReference: %v %+v", err, bob)
	}
	bob, err = svc.ReEnroll(ctx, bob.ID, []byte("bob"))
	if err != nil || len(bob.Embeddings) != 1 {
		t.Fatalf("ReEnroll: %v %+v", err, bob)
	}
	if _, err := svc.AddReference(ctx, "missing", []byte("bob")); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if err := svc.Remove(ctx, bob.ID); err != nil {
		t.Fatal(err)
	}
	res, err := svc.Verify(ctx, []byte("bob"), time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if res.State != StateRejected {
		t.Errorf("removed student must not match, got %+v", res)
	}
	if err := svc.Remove(ctx, bob.ID); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("expected ErrNotFound on second remove, got %v", err)
	}
}

func seedAttendance(t *testing.T) (*Service, *mock.MockBackend) {
	t.Helper()
	svc, backend, _ := newTestService(t, Options{LateAfter: 8 * time.Hour})
	backend.StudentStore.Add("Alice Dvořák", "10A", "1", []float32{1, 0, 0})
	backend.StudentStore.Add("Bob", "10B", "2", []float32{0, 1, 0})
	backend.StudentStore.Add("Carol", "10A", "3", []float32{0.7, 0, 0.7})

	captures := []struct {
		image string
		at    time.Time
	}{
		{"alice", time.Date(2026, 3, 4, 7, 50, 0, 0, time.UTC)},
		{"alice", time.Date(2026, 3, 5, 7, 40, 0, 0, time.UTC)},
		{"bob", time.Date(2026, 3, 5, 8, 15, 0, 0, time.UTC)},
	}
	for _, c := range captures {
		res, err := svc.Verify(context.Background(), []byte(c.image), c.at)
		if err != nil || res.State != StateDone {
			t.Fatalf("seed %s: %v %+v", c.image, err, res)
		}
	}
	return svc, backend
}

func TestReport(t *testing.T) {
	svc, _ := seedAttendance(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		q     ReportQuery
		names []string
	}{
		{"single date", ReportQuery{Date: "2026-03-05"}, []string{"Alice Dvořák", "Bob"}},
		{"range", ReportQuery{From: "2026-03-01", To: "2026-03-05"}, []string{"Alice Dvořák", "Alice Dvořák", "Bob"}},
		{"search accent insensitive", ReportQuery{Search: "dvorak"}, []string{"Alice Dvořák", "Alice Dvořák"}},
		{"search roll", ReportQuery{Date: "2026-03-05", Search: "2"}, []string{"Bob"}},
		{"class", ReportQuery{ClassName: "10B"}, []string{"Bob"}},
		{"nothing", ReportQuery{Date: "2026-01-01"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs, err := Collect(svc.Report(ctx, tt.q))
			if err != nil {
				t.Fatal(err)
			}
			var names []string
			for _, r := range recs {
				names = append(names, r.StudentName)
			}
			if !slices.Equal(names, tt.names) {
				t.Errorf("expected %v, got %v", tt.names, names)
			}
		})
	}
}

func TestReportQueryValidate(t *testing.T) {
	if err := (ReportQuery{Date: "2026-3-5"}).Validate(); err == nil {
		t.Error("expected invalid date error")
	}
	if err := (ReportQuery{From: "2026-03-05", To: "2026-03-01"}).Validate(); err == nil {
		t.Error("expected inverted range error")
	}
	if err := (ReportQuery{From: "2026-03-01", To: "2026-03-05"}).Validate(); err != nil {
		t.Errorf("unexpected error %v", err)
	}
}

func TestSummary(t *testing.T) {
	svc, _ := seedAttendance(t)

	days, err := svc.Summary(context.Background(), "", 3)
	if err != nil {
		t.Fatal(err)
	}
	want := []DaySummary{
		{Date: "2026-03-03", Total: 3, Absent: 3},
		{Date: "2026-03-04", Total: 3, Present: 1, Absent: 2, Rate: 100.0 / 3},
		{Date: "2026-03-05", Total: 3, Present: 1, Late: 1, Absent: 1, Rate: 200.0 / 3},
	}
	if !slices.Equal(days, want) {
		t.Errorf("expected %+v, got %+v", want, days)
	}

	if _, err := svc.Summary(context.Background(), "yesterday", 1); err == nil {
		t.Error("expected invalid date error")
	}
}

func TestSummary_QueryError(t *testing.T) {
	svc, backend := seedAttendance(t)
	backend.Ledger.QueryError = database.Unavailable("query", errors.New("down"))
	if _, err := svc.Summary(context.Background(), "2026-03-05", 1); !errors.Is(err, database.ErrStorageUnavailable) {
		t.Errorf("expected storage unavailable, got %v", err)
	}
}

func TestWriteCSV(t *testing.T) {
	svc, _ := seedAttendance(t)
	var buf bytes.Buffer
	if err := WriteCSV(&buf, svc.Report(context.Background(), ReportQuery{Date: "2026-03-05"}), time.UTC); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header and 2 rows, got %q", buf.String())
	}
	if lines[0] != "Date,Name,Roll No,Time,Status,Confidence" {
		t.Errorf("unexpected header %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "2026-03-05,Alice Dvořák,1,07:40:00,Present,") || !strings.HasSuffix(lines[1], "%") {
		t.Errorf("unexpected row %q", lines[1])
	}
	if !strings.HasPrefix(lines[2], "2026-03-05,Bob,2,08:15:00,Late,100.0%") {
		t.Errorf("unexpected row %q", lines[2])
	}
}

func TestReasonFor(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&extractor.Error{Reason: extractor.ReasonNoFace}, "no_face_detected"},
		{database.DimensionError(3, 2), ReasonDimensionMismatch},
		{database.CheckEmbedding(0, []float32{float32(math.NaN())}), ReasonInvalidEmbedding},
		{database.ErrEmptyEmbedding, ReasonInvalidEmbedding},
		{database.ErrNotFound, ReasonNotFound},
		{database.ErrConflict, ReasonConflict},
		{database.Unavailable("x", errors.New("y")), ReasonStorageUnavailable},
		{extractor.ErrUnavailable, ReasonExtractorUnavailable},
		{context.Canceled, ReasonCanceled},
		{errors.New("other"), ReasonInternal},
	}
	for _, tt := range tests {
		if got := ReasonFor(tt.err); got != tt.want {
			t.Errorf("ReasonFor(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestCalculateBackoff(t *testing.T) {
	if CalculateBackoff(time.Second, 0) != 0 {
		t.Error("attempt 0 must not wait")
	}
	for attempt := 1; attempt <= 3; attempt++ {
		base := 10 * time.Millisecond * time.Duration(1<<attempt)
		got := CalculateBackoff(10*time.Millisecond, attempt)
		if got < base*3/4 || got > base*5/4 {
			t.Errorf("attempt %d: %v outside [%v, %v]", attempt, got, base*3/4, base*5/4)
		}
	}
	if got := CalculateBackoff(time.Second, 20); got > 5*time.Second*5/4 {
		t.Errorf("expected capped backoff, got %v", got)
	}
}
