// Package mock provides mock implementations of database interfaces for testing.
package mock

import (
	"context"
	"iter"
	"sync"

	"github.com/ritheshpulikeshimk-svg/face-recognition-attendence/internal/database"
	"github.com/ritheshpulikeshimk-svg/face-recognition-attendence/internal/database/memory"
)

// MockStudentStore is an in-memory database.EnrollmentStore with error injection
type MockStudentStore struct {
	store *memory.StudentStore

	mu       sync.Mutex
	Enrolled int // successful Enroll calls

	// Error injection
	EnrollError     error
	ReEnrollError   error
	RemoveError     error
	GetError        error
	ListError       error
	CandidatesError error

	// EnrollErrors are returned by successive Enroll calls; nil entries pass through.
	EnrollErrors []error
}

// NewMockStudentStore creates an empty mock store
func NewMockStudentStore() *MockStudentStore {
	return &MockStudentStore{store: memory.NewStudentStore()}
}

// Add enrolls a student directly, bypassing error injection
func (m *MockStudentStore) Add(name, class, roll string, refs ...[]float32) *database.Student {
	ctx := context.Background()
	st, err := m.store.Enroll(ctx, database.StudentMeta{Name: name, ClassName: class, RollNumber: roll}, refs[0])
	if err != nil {
		panic("mock: " + err.Error())
	}
	for _, ref := range refs[1:] {
		if st, err = m.store.Enroll(ctx, database.StudentMeta{ID: st.ID}, ref); err != nil {
			panic("mock: " + err.Error())
		}
	}
	return st
}

func (m *MockStudentStore) Enroll(ctx context.Context, meta database.StudentMeta, embedding []float32) (*database.Student, error) {
	if m.EnrollError != nil {
		return nil, m.EnrollError
	}
	m.mu.Lock()
	var injected error
	if len(m.EnrollErrors) > 0 {
		injected = m.EnrollErrors[0]
		m.EnrollErrors = m.EnrollErrors[1:]
	}
	m.mu.Unlock()
	if injected != nil {
		return nil, injected
	}
	st, err := m.store.Enroll(ctx, meta, embedding)
	if err == nil {
		m.mu.Lock()
		m.Enrolled++
		m.mu.Unlock()
	}
	return st, err
}

func (m *MockStudentStore) ReEnroll(ctx context.Context, id string, embedding []float32) (*database.Student, error) {
	if m.ReEnrollError != nil {
		return nil, m.ReEnrollError
	}
	return m.store.ReEnroll(ctx, id, embedding)
}

func (m *MockStudentStore) Remove(ctx context.Context, id string) error {
	if m.RemoveError != nil {
		return m.RemoveError
	}
	return m.store.Remove(ctx, id)
}

func (m *MockStudentStore) Get(ctx context.Context, id string) (*database.Student, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	return m.store.Get(ctx, id)
}

func (m *MockStudentStore) List(ctx context.Context) ([]database.Student, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	return m.store.List(ctx)
}

func (m *MockStudentStore) Candidates(ctx context.Context) (*database.Snapshot, error) {
	if m.CandidatesError != nil {
		return nil, m.CandidatesError
	}
	return m.store.Candidates(ctx)
}

// MockLedger is an in-memory database.Ledger with error injection
type MockLedger struct {
	ledger *memory.Ledger

	mu          sync.Mutex
	recordCalls int

	// RecordErrors are returned by successive RecordIfAbsent calls before
	// falling through to the real ledger.
	RecordErrors []error
	QueryError   error
}

// NewMockLedger creates an empty mock ledger
func NewMockLedger() *MockLedger {
	return &MockLedger{ledger: memory.NewLedger()}
}

// RecordCalls returns how many times RecordIfAbsent was invoked
func (m *MockLedger) RecordCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recordCalls
}

func (m *MockLedger) RecordIfAbsent(ctx context.Context, rec database.AttendanceRecord) (database.AttendanceRecord, bool, error) {
	m.mu.Lock()
	m.recordCalls++
	var injected error
	if len(m.RecordErrors) > 0 {
		injected = m.RecordErrors[0]
		m.RecordErrors = m.RecordErrors[1:]
	}
	m.mu.Unlock()

	if injected != nil {
		return database.AttendanceRecord{}, false, injected
	}
	return m.ledger.RecordIfAbsent(ctx, rec)
}

func (m *MockLedger) Query(ctx context.Context, q database.AttendanceQuery) iter.Seq2[database.AttendanceRecord, error] {
	if m.QueryError != nil {
		return func(yield func(database.AttendanceRecord, error) bool) {
			yield(database.AttendanceRecord{}, m.QueryError)
		}
	}
	return m.ledger.Query(ctx, q)
}

// MockBackend bundles the mocks as a database.Backend
type MockBackend struct {
	StudentStore *MockStudentStore
	Ledger       *MockLedger
	Closed       bool
}

// NewMockBackend creates a backend over fresh mocks
func NewMockBackend() *MockBackend {
	return &MockBackend{StudentStore: NewMockStudentStore(), Ledger: NewMockLedger()}
}

func (b *MockBackend) Students() database.EnrollmentStore { return b.StudentStore }
func (b *MockBackend) Attendance() database.Ledger        { return b.Ledger }
func (b *MockBackend) Close() error {
	b.Closed = true
	return nil
}
