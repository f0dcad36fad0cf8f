package temporal

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockScheduler is an in-memory Scheduler for testing.
type MockScheduler struct {
	mu        sync.Mutex
	exists    bool
	interval  time.Duration
	input     ReconcileInput
	ensures   int
	ensureErr error
	deleteErr error
}

// NewMockScheduler creates a new MockScheduler with no schedule.
func NewMockScheduler() *MockScheduler {
	return &MockScheduler{}
}

// EnsureReconcileSchedule records the schedule.
func (m *MockScheduler) EnsureReconcileSchedule(ctx context.Context, interval time.Duration, input ReconcileInput) error {
	if m.ensureErr != nil {
		return m.ensureErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.exists = true
	m.interval = interval
	m.input = input
	m.ensures++
	return nil
}

// DeleteReconcileSchedule removes the schedule.
func (m *MockScheduler) DeleteReconcileSchedule(ctx context.Context) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.exists {
		return fmt.Errorf("schedule %q not found", ReconcileScheduleID)
	}
	m.exists = false
	return nil
}

// SetEnsureError makes EnsureReconcileSchedule return an error.
func (m *MockScheduler) SetEnsureError(err error) {
	m.ensureErr = err
}

// SetDeleteError makes DeleteReconcileSchedule return an error.
func (m *MockScheduler) SetDeleteError(err error) {
	m.deleteErr = err
}

// Schedule returns the recorded schedule and whether one exists.
func (m *MockScheduler) Schedule() (time.Duration, ReconcileInput, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.interval, m.input, m.exists
}

// EnsureCount returns how many times EnsureReconcileSchedule succeeded.
func (m *MockScheduler) EnsureCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ensures
}
