package ledger

import (
	"context"
	"fmt"
	"sync"

	"quotasigner/internal/domain"
)

// Memory is an in-process ledger for development and tests.
type Memory struct {
	mu      sync.Mutex
	quotas  map[domain.Identifier]domain.QuotaStatus
	domains map[domain.Identifier]domain.DomainState
	applied map[string]struct{}
}

func NewMemory() *Memory {
	return &Memory{
		quotas:  make(map[domain.Identifier]domain.QuotaStatus),
		domains: make(map[domain.Identifier]domain.DomainState),
		applied: make(map[string]struct{}),
	}
}

func (m *Memory) SetQuota(id domain.Identifier, status domain.QuotaStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quotas[id] = status
}

func (m *Memory) SetDomain(state domain.DomainState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.domains[state.Domain] = state
}

func (m *Memory) QuotaStatus(_ context.Context, id domain.Identifier) (domain.QuotaStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	status, ok := m.quotas[id]
	if !ok {
		return domain.QuotaStatus{}, domain.ErrNotFound
	}
	return status, nil
}

func (m *Memory) DomainState(_ context.Context, d domain.Identifier) (domain.DomainState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.domains[d]
	if !ok {
		return domain.DomainState{}, domain.ErrNotFound
	}
	return state, nil
}

// DisableDomain creates a disabled record for unknown domains.
func (m *Memory) DisableDomain(_ context.Context, d domain.Identifier) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.domains[d]
	if !ok {
		state = domain.DomainState{Domain: d}
	}
	state.Disabled = true
	m.domains[d] = state
	return nil
}

func (m *Memory) IncrementQuota(_ context.Context, kind domain.QuotaKind, id domain.Identifier, amount int64, idempotencyKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if idempotencyKey != "" {
		if _, ok := m.applied[idempotencyKey]; ok {
			return nil
		}
	}
	switch kind {
	case domain.QuotaKindPNP:
		status, ok := m.quotas[id]
		if !ok {
			return domain.ErrNotFound
		}
		status.PerformedQueryCount += amount
		m.quotas[id] = status
	case domain.QuotaKindDomain:
		state, ok := m.domains[id]
		if !ok {
			return domain.ErrNotFound
		}
		state.Quota.PerformedQueryCount += amount
		m.domains[id] = state
	default:
		return fmt.Errorf("%w: unknown quota kind %q", domain.ErrValidation, kind)
	}
	if idempotencyKey != "" {
		m.applied[idempotencyKey] = struct{}{}
	}
	return nil
}

var _ Backend = (*Memory)(nil)
