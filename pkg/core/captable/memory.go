package captable

import (
	"context"
	"fmt"
	"sync"

	"opm_backsolve/pkg/core/waterfall"
)

// MemoryStore is an in-process provider used when no database is
// configured (local runs, tests). It keeps the API usable without
// infrastructure.
type MemoryStore struct {
	mu          sync.RWMutex
	breakpoints map[string][]waterfall.Breakpoint
	capTables   map[string]*CapTable
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		breakpoints: make(map[string][]waterfall.Breakpoint),
		capTables:   make(map[string]*CapTable),
	}
}

func (m *MemoryStore) PutBreakpoints(valuationID string, bps []waterfall.Breakpoint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.breakpoints[valuationID] = bps
}

func (m *MemoryStore) PutCapTable(ct *CapTable) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.capTables[ct.ValuationID] = ct
}

func (m *MemoryStore) Breakpoints(ctx context.Context, valuationID string) ([]waterfall.Breakpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bps, ok := m.breakpoints[valuationID]
	if !ok {
		return nil, &UpstreamError{Resource: "breakpoints", Key: valuationID, Err: fmt.Errorf("not found")}
	}
	return bps, nil
}

func (m *MemoryStore) CapTable(ctx context.Context, valuationID string) (*CapTable, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ct, ok := m.capTables[valuationID]
	if !ok {
		return nil, &UpstreamError{Resource: "cap_table", Key: valuationID, Err: fmt.Errorf("not found")}
	}
	return ct, nil
}
