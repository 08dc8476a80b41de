package session

import (
	"context"
	"sync"
	"time"

	"github.com/jun/gophvault/internal/model"
)

// MockLocker implements Locker using an in-memory map. It backs DEV_MODE and
// tests.
type MockLocker struct {
	leases      map[string]*model.AccountLease
	mu          sync.Mutex
	ttlDuration time.Duration
}

// NewMockLocker creates a new MockLocker with the default TTL.
func NewMockLocker() *MockLocker {
	return &MockLocker{
		leases:      make(map[string]*model.AccountLease),
		ttlDuration: DefaultTTL,
	}
}

func (m *MockLocker) Acquire(ctx context.Context, accountID, holderID string) (*model.AccountLease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().Unix()
	if existing, ok := m.leases[accountID]; ok {
		if existing.ExpiresAt > now && existing.HolderID != holderID {
			return nil, ErrLeaseHeld
		}
	}

	lease := &model.AccountLease{
		AccountID: accountID,
		HolderID:  holderID,
		ExpiresAt: now + int64(m.ttlDuration.Seconds()),
	}
	m.leases[accountID] = lease
	copied := *lease
	return &copied, nil
}

func (m *MockLocker) Renew(ctx context.Context, accountID, holderID string) (*model.AccountLease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.leases[accountID]
	if !ok || existing.HolderID != holderID {
		return nil, ErrLeaseNotOwned
	}
	existing.ExpiresAt = time.Now().Unix() + int64(m.ttlDuration.Seconds())
	copied := *existing
	return &copied, nil
}

func (m *MockLocker) Release(ctx context.Context, accountID, holderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.leases[accountID]
	if !ok || existing.HolderID != holderID {
		return ErrLeaseNotOwned
	}
	delete(m.leases, accountID)
	return nil
}

func (m *MockLocker) Status(ctx context.Context, accountID string) (*model.AccountLease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.leases[accountID]
	if !ok || existing.ExpiresAt < time.Now().Unix() {
		return nil, nil
	}
	copied := *existing
	return &copied, nil
}
