// Package performance tracks the memory budget that bounds tree construction.
package performance

import (
	"sync"

	"github.com/YuminosukeSato/microforest/pkg/errors"
)

// MemoryBudget accounts for bytes reserved by builders against a fixed limit.
// A limit of 0 means unlimited.
type MemoryBudget struct {
	mu       sync.Mutex
	limit    int64
	used     int64
	peak     int64
	refusals int64
}

// NewMemoryBudget creates a budget of limitBytes (0 = unlimited).
func NewMemoryBudget(limitBytes int64) *MemoryBudget {
	return &MemoryBudget{limit: limitBytes}
}

// NewMemoryBudgetMB creates a budget in mebibytes.
func NewMemoryBudgetMB(limitMB int64) *MemoryBudget {
	return NewMemoryBudget(limitMB * 1024 * 1024)
}

// CanAllocate reports whether bytes more would fit.
func (m *MemoryBudget) CanAllocate(bytes int64) bool {
	if m == nil {
		return true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.limit == 0 || m.used+bytes <= m.limit
}

// Allocate reserves bytes or returns a CapacityError.
func (m *MemoryBudget) Allocate(bytes int64) error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.limit != 0 && m.used+bytes > m.limit {
		m.refusals++
		return errors.NewCapacityError("memory bytes", int(m.limit), int(m.used+bytes))
	}
	m.used += bytes
	if m.used > m.peak {
		m.peak = m.used
	}
	return nil
}

// Free returns bytes to the budget.
func (m *MemoryBudget) Free(bytes int64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.used -= bytes
	if m.used < 0 {
		m.used = 0
	}
}

// Usage returns current and maximum bytes.
func (m *MemoryBudget) Usage() (used, limit int64) {
	if m == nil {
		return 0, 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.used, m.limit
}

// Stats returns the peak reservation and the number of refused allocations.
func (m *MemoryBudget) Stats() (peak, refusals int64) {
	if m == nil {
		return 0, 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peak, m.refusals
}
