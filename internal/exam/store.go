package exam

import (
	"context"
	"sort"
	"sync"
)

// Store persists exams, attempts and the append-only activity log. The
// single-writer discipline per attempt comes from the Service's locks, not
// from the store.
type Store interface {
	PutExam(ctx context.Context, e Exam) error
	GetExam(ctx context.Context, id string) (Exam, error)

	CreateAttempt(ctx context.Context, a Attempt) error
	GetAttempt(ctx context.Context, id string) (Attempt, error)
	UpdateAttempt(ctx context.Context, a Attempt) error
	CountAttempts(ctx context.Context, studentID, examID string) (int, error)
	ActiveAttempt(ctx context.Context, studentID, examID string) (Attempt, bool, error)
	ListAttempts(ctx context.Context, examID string, statuses ...Status) ([]Attempt, error)

	AppendEvent(ctx context.Context, attemptID string, ev ActivityEvent) error
	ListEvents(ctx context.Context, attemptID string) ([]ActivityEvent, error)
}

type memoryStore struct {
	mu       sync.RWMutex
	exams    map[string]Exam
	attempts map[string]Attempt
	events   map[string][]ActivityEvent
}

// NewMemoryStore backs the engine with process memory; used in tests and
// offline single-node deployments.
func NewMemoryStore() Store {
	return &memoryStore{
		exams:    map[string]Exam{},
		attempts: map[string]Attempt{},
		events:   map[string][]ActivityEvent{},
	}
}

func (m *memoryStore) PutExam(_ context.Context, e Exam) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exams[e.ID] = e
	return nil
}

func (m *memoryStore) GetExam(_ context.Context, id string) (Exam, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.exams[id]
	if !ok {
		return Exam{}, ErrExamNotFound
	}
	return e, nil
}

func (m *memoryStore) CreateAttempt(_ context.Context, a Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts[a.ID] = a
	return nil
}

func (m *memoryStore) GetAttempt(_ context.Context, id string) (Attempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.attempts[id]
	if !ok {
		return Attempt{}, ErrAttemptNotFound
	}
	return a, nil
}

func (m *memoryStore) UpdateAttempt(_ context.Context, a Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.attempts[a.ID]; !ok {
		return ErrAttemptNotFound
	}
	m.attempts[a.ID] = a
	return nil
}

func (m *memoryStore) CountAttempts(_ context.Context, studentID, examID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, a := range m.attempts {
		if a.StudentID == studentID && a.ExamID == examID {
			n++
		}
	}
	return n, nil
}

func (m *memoryStore) ActiveAttempt(_ context.Context, studentID, examID string) (Attempt, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.attempts {
		if a.StudentID == studentID && a.ExamID == examID && a.Status == StatusInProgress {
			return a, true, nil
		}
	}
	return Attempt{}, false, nil
}

func (m *memoryStore) ListAttempts(_ context.Context, examID string, statuses ...Status) ([]Attempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Attempt
	for _, a := range m.attempts {
		if a.ExamID != examID {
			continue
		}
		if len(statuses) > 0 && !statusIn(a.Status, statuses) {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryStore) AppendEvent(_ context.Context, attemptID string, ev ActivityEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[attemptID] = append(m.events[attemptID], ev)
	return nil
}

func (m *memoryStore) ListEvents(_ context.Context, attemptID string) ([]ActivityEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	evs := m.events[attemptID]
	out := make([]ActivityEvent, len(evs))
	copy(out, evs)
	return out, nil
}

func statusIn(s Status, in []Status) bool {
	for _, x := range in {
		if s == x {
			return true
		}
	}
	return false
}
