package store

import (
	"context"
	"sync"
	"time"

	"github.com/example/roadassist/internal/apperr"
	"github.com/example/roadassist/internal/models"
)

// RequestStore defines persistence for service requests. Update applies a
// compare-and-swap on Version: the write only lands when the stored version
// matches the snapshot the caller read, otherwise ErrConflict. That is the
// only serialization requests need; independent request IDs never contend.
type RequestStore interface {
	Create(ctx context.Context, r *models.ServiceRequest) error
	Get(ctx context.Context, id string) (*models.ServiceRequest, error)
	Update(ctx context.Context, r *models.ServiceRequest) error
	ListByCustomer(ctx context.Context, customerID string, status models.Status) ([]*models.ServiceRequest, error)
	// ListByProvider returns requests the provider has accepted or been
	// confirmed for; this is the pull path for providers who missed pushes.
	ListByProvider(ctx context.Context, providerID string, status models.Status) ([]*models.ServiceRequest, error)
	// ListPending returns open requests of a service type, for providers
	// discovering work that was dispatched before they came online.
	ListPending(ctx context.Context, st models.ServiceType) ([]*models.ServiceRequest, error)
	// ListAll is the admin view, optionally filtered by status.
	ListAll(ctx context.Context, status models.Status) ([]*models.ServiceRequest, error)
}

// MemoryStore keeps requests in a map guarded by one mutex. Versions bump
// on every successful write, mirroring the Postgres CAS semantics exactly
// so the request service behaves the same against either backend.
type MemoryStore struct {
	mu       sync.RWMutex
	requests map[string]*models.ServiceRequest
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{requests: make(map[string]*models.ServiceRequest)}
}

func (m *MemoryStore) Create(ctx context.Context, r *models.ServiceRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.requests[r.ID]; ok {
		return apperr.Wrap("store.memory.Create", apperr.ErrConflict)
	}
	now := time.Now()
	r.CreatedAt = now
	r.UpdatedAt = now
	r.Version = 1
	m.requests[r.ID] = r.Clone()
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*models.ServiceRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, apperr.Wrap("store.memory.Get", apperr.ErrNotFound)
	}
	return r.Clone(), nil
}

func (m *MemoryStore) Update(ctx context.Context, r *models.ServiceRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.requests[r.ID]
	if !ok {
		return apperr.Wrap("store.memory.Update", apperr.ErrNotFound)
	}
	if cur.Version != r.Version {
		return apperr.Wrap("store.memory.Update", apperr.ErrConflict)
	}
	r.Version++
	r.UpdatedAt = time.Now()
	m.requests[r.ID] = r.Clone()
	return nil
}

func (m *MemoryStore) ListByCustomer(ctx context.Context, customerID string, status models.Status) ([]*models.ServiceRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []*models.ServiceRequest{}
	for _, r := range m.requests {
		if r.CustomerID != customerID {
			continue
		}
		if status != "" && r.Status != status {
			continue
		}
		out = append(out, r.Clone())
	}
	sortByCreated(out)
	return out, nil
}

func (m *MemoryStore) ListByProvider(ctx context.Context, providerID string, status models.Status) ([]*models.ServiceRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []*models.ServiceRequest{}
	for _, r := range m.requests {
		if !r.HasAccepted(providerID) && r.ConfirmedProviderID != providerID {
			continue
		}
		if status != "" && r.Status != status {
			continue
		}
		out = append(out, r.Clone())
	}
	sortByCreated(out)
	return out, nil
}

func (m *MemoryStore) ListPending(ctx context.Context, st models.ServiceType) ([]*models.ServiceRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []*models.ServiceRequest{}
	for _, r := range m.requests {
		if r.Status != models.StatusPending && r.Status != models.StatusAccepted {
			continue
		}
		if st != "" && r.ServiceType != st {
			continue
		}
		out = append(out, r.Clone())
	}
	sortByCreated(out)
	return out, nil
}

func (m *MemoryStore) ListAll(ctx context.Context, status models.Status) ([]*models.ServiceRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []*models.ServiceRequest{}
	for _, r := range m.requests {
		if status != "" && r.Status != status {
			continue
		}
		out = append(out, r.Clone())
	}
	sortByCreated(out)
	return out, nil
}

func sortByCreated(rs []*models.ServiceRequest) {
	for i := 1; i < len(rs); i++ {
		for j := i; j > 0 && rs[j].CreatedAt.Before(rs[j-1].CreatedAt); j-- {
			rs[j], rs[j-1] = rs[j-1], rs[j]
		}
	}
}
