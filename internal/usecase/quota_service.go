package usecase

import (
	"context"
	"errors"
	"fmt"

	"quotasigner/internal/domain"
)

// PnpQuotaService tracks quota per requesting account.
type PnpQuotaService struct {
	Ledger domain.Ledger
	Policy domain.QuotaPolicy
}

func NewPnpQuotaService(ledger domain.Ledger, policy domain.QuotaPolicy) *PnpQuotaService {
	return &PnpQuotaService{Ledger: ledger, Policy: policy}
}

func (s *PnpQuotaService) Status(ctx context.Context, id domain.Identifier) (domain.QuotaStatus, error) {
	if s == nil || s.Ledger == nil {
		return domain.QuotaStatus{}, fmt.Errorf("%w: pnp quota service not configured", domain.ErrInternal)
	}
	status, err := s.Ledger.FetchQuotaStatus(ctx, id)
	if err != nil {
		return domain.QuotaStatus{}, err
	}
	return applyPolicy(ctx, s.Policy, domain.QuotaKindPNP, id, status)
}

// CheckAndConsume reads the account's status and, when cost fits, records the
// consumption before returning. The returned status reflects the increment.
func (s *PnpQuotaService) CheckAndConsume(ctx context.Context, id domain.Identifier, cost int64) (domain.QuotaDecision, error) {
	status, err := s.Status(ctx, id)
	if err != nil {
		return domain.QuotaDecision{}, err
	}
	return consume(ctx, s.Ledger, domain.QuotaKindPNP, id, status, cost)
}

// DomainQuotaService tracks quota and disablement per domain identifier.
type DomainQuotaService struct {
	Ledger domain.Ledger
	Policy domain.QuotaPolicy
}

func NewDomainQuotaService(ledger domain.Ledger, policy domain.QuotaPolicy) *DomainQuotaService {
	return &DomainQuotaService{Ledger: ledger, Policy: policy}
}

func (s *DomainQuotaService) State(ctx context.Context, id domain.Identifier) (domain.DomainState, error) {
	if s == nil || s.Ledger == nil {
		return domain.DomainState{}, fmt.Errorf("%w: domain quota service not configured", domain.ErrInternal)
	}
	state, err := s.Ledger.FetchDomainState(ctx, id)
	if err != nil {
		return domain.DomainState{}, err
	}
	state.Domain = id
	if state.Disabled {
		return state, nil
	}
	state.Quota, err = applyPolicy(ctx, s.Policy, domain.QuotaKindDomain, id, state.Quota)
	if err != nil {
		return domain.DomainState{}, err
	}
	return state, nil
}

// CheckAndConsume fails with ErrDomainDisabled for disabled domains.
func (s *DomainQuotaService) CheckAndConsume(ctx context.Context, id domain.Identifier, cost int64) (domain.QuotaDecision, error) {
	state, err := s.State(ctx, id)
	if err != nil {
		return domain.QuotaDecision{}, err
	}
	return s.Consume(ctx, state, cost)
}

// Consume charges a state already read by State.
func (s *DomainQuotaService) Consume(ctx context.Context, state domain.DomainState, cost int64) (domain.QuotaDecision, error) {
	if state.Disabled {
		return domain.QuotaDecision{Status: state.Quota}, domain.ErrDomainDisabled
	}
	return consume(ctx, s.Ledger, domain.QuotaKindDomain, state.Domain, state.Quota, cost)
}

func applyPolicy(ctx context.Context, policy domain.QuotaPolicy, kind domain.QuotaKind, id domain.Identifier, status domain.QuotaStatus) (domain.QuotaStatus, error) {
	if policy == nil {
		return status, nil
	}
	total, err := policy.TotalQuota(ctx, domain.QuotaPolicyInput{Kind: kind, Identifier: id, Status: status})
	if err != nil {
		return domain.QuotaStatus{}, fmt.Errorf("%w: quota policy: %w", domain.ErrInternal, err)
	}
	status.TotalQuota = total
	return status, nil
}

func consume(ctx context.Context, ledger domain.Ledger, kind domain.QuotaKind, id domain.Identifier, status domain.QuotaStatus, cost int64) (domain.QuotaDecision, error) {
	if cost <= 0 {
		cost = 1
	}
	if !status.Allows(cost) {
		return domain.QuotaDecision{Allowed: false, Status: status}, nil
	}
	if err := ledger.IncrementQuota(ctx, kind, id, cost); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.QuotaDecision{}, err
		}
		return domain.QuotaDecision{}, fmt.Errorf("%w: %w", domain.ErrQuotaNotRecorded, err)
	}
	status.PerformedQueryCount += cost
	return domain.QuotaDecision{Allowed: true, Status: status}, nil
}
