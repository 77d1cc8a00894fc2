package registry

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryRegistry implements Registry using in-memory storage. It mirrors the
// semantics of the DynamoDB registry and is used in unit tests and local
// development.
type MemoryRegistry struct {
	mu      sync.RWMutex
	records map[string]*Record

	// History keeps every status written per tenant, oldest first. Exposed
	// for tests asserting monotonic transitions.
	history map[string][]Status
}

// NewMemoryRegistry creates a new in-memory registry
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		records: make(map[string]*Record),
		history: make(map[string][]Status),
	}
}

// Get retrieves the infrastructure record for a tenant
func (r *MemoryRegistry) Get(ctx context.Context, tenantID string) (*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.records[tenantID]
	if !ok {
		return nil, ErrRecordNotFound
	}

	// Return a copy so callers cannot mutate stored state
	copied := *record
	return &copied, nil
}

// BeginOperation marks the tenant record as in-progress for a new operation
func (r *MemoryRegistry) BeginOperation(ctx context.Context, tenantID string, status Status) error {
	if !status.InProgress() {
		return fmt.Errorf("begin operation requires an in-progress status, got %s", status)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[tenantID]
	if !ok {
		record = &Record{TenantID: tenantID, Status: StatusUnknown}
		r.records[tenantID] = record
	}

	if record.Status.InProgress() {
		return fmt.Errorf("%w: %s", ErrOperationInFlight, tenantID)
	}

	record.Status = status
	record.LastModified = time.Now()
	r.history[tenantID] = append(r.history[tenantID], status)

	return nil
}

// Update applies a partial update to the tenant record
func (r *MemoryRegistry) Update(ctx context.Context, tenantID string, patch Patch) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[tenantID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRecordNotFound, tenantID)
	}

	if patch.TenantName != nil {
		record.TenantName = *patch.TenantName
	}
	if patch.Tier != nil {
		record.Tier = *patch.Tier
	}
	if patch.StackHandle != nil {
		record.StackHandle = *patch.StackHandle
	}
	if patch.StackName != nil {
		record.StackName = *patch.StackName
	}
	if patch.Status != nil {
		record.Status = *patch.Status
		r.history[tenantID] = append(r.history[tenantID], *patch.Status)
	}
	if patch.Detail != nil {
		record.Detail = *patch.Detail
	}
	record.LastModified = time.Now()

	return nil
}

// History returns the status transitions recorded for a tenant, oldest first.
func (r *MemoryRegistry) History(tenantID string) []Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Status, len(r.history[tenantID]))
	copy(out, r.history[tenantID])
	return out
}
