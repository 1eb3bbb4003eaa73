package usecase

import (
	"context"
	"errors"
	"sync"

	"quotasigner/internal/domain"
)

type memLedger struct {
	mu         sync.Mutex
	quotas     map[domain.Identifier]domain.QuotaStatus
	domains    map[domain.Identifier]domain.DomainState
	unavail    bool
	incrErr    error
	reads      int
	increments int
	disables   int
}

func newMemLedger() *memLedger {
	return &memLedger{
		quotas:  map[domain.Identifier]domain.QuotaStatus{},
		domains: map[domain.Identifier]domain.DomainState{},
	}
}

func (l *memLedger) FetchQuotaStatus(ctx context.Context, id domain.Identifier) (domain.QuotaStatus, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reads++
	if l.unavail {
		return domain.QuotaStatus{}, domain.ErrLedgerUnavailable
	}
	status, ok := l.quotas[id]
	if !ok {
		return domain.QuotaStatus{}, domain.ErrNotFound
	}
	return status, nil
}

func (l *memLedger) FetchDomainState(ctx context.Context, id domain.Identifier) (domain.DomainState, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reads++
	if l.unavail {
		return domain.DomainState{}, domain.ErrLedgerUnavailable
	}
	state, ok := l.domains[id]
	if !ok {
		return domain.DomainState{}, domain.ErrNotFound
	}
	return state, nil
}

func (l *memLedger) DisableDomain(ctx context.Context, id domain.Identifier) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.disables++
	if l.unavail {
		return domain.ErrLedgerUnavailable
	}
	state := l.domains[id]
	state.Domain = id
	state.Disabled = true
	l.domains[id] = state
	return nil
}

func (l *memLedger) IncrementQuota(ctx context.Context, kind domain.QuotaKind, id domain.Identifier, amount int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.increments++
	if l.incrErr != nil {
		return l.incrErr
	}
	switch kind {
	case domain.QuotaKindPNP:
		if status, ok := l.quotas[id]; ok {
			status.PerformedQueryCount += amount
			l.quotas[id] = status
			return nil
		}
	case domain.QuotaKindDomain:
		if state, ok := l.domains[id]; ok {
			state.Quota.PerformedQueryCount += amount
			l.domains[id] = state
			return nil
		}
	}
	return domain.ErrNotFound
}

type stubKeys struct {
	calls int
	last  domain.KeyRef
	err   error
}

func (k *stubKeys) Sign(ctx context.Context, ref domain.KeyRef, blinded []byte) ([]byte, error) {
	k.calls++
	k.last = ref
	if k.err != nil {
		return nil, k.err
	}
	return append([]byte("sig:"), blinded...), nil
}

// loadedKeys only holds the listed versions.
type loadedKeys struct {
	stubKeys
	loaded map[domain.KeyRef]bool
}

func (k *loadedKeys) HasKey(ref domain.KeyRef) bool {
	return k.loaded[ref]
}

type bonusPolicy struct {
	bonus int64
	err   error
}

func (p bonusPolicy) TotalQuota(ctx context.Context, in domain.QuotaPolicyInput) (int64, error) {
	if p.err != nil {
		return 0, p.err
	}
	return in.Status.TotalQuota + p.bonus, nil
}

var errHSM = errors.New("hsm offline")
