package domain

import "context"

// Ledger is the source of truth for quota counters and domain state.
// IncrementQuota and DisableDomain are safe to retry. IncrementQuota only
// touches the counter of the given kind.
type Ledger interface {
	FetchQuotaStatus(ctx context.Context, id Identifier) (QuotaStatus, error)
	FetchDomainState(ctx context.Context, domain Identifier) (DomainState, error)
	DisableDomain(ctx context.Context, domain Identifier) error
	IncrementQuota(ctx context.Context, kind QuotaKind, id Identifier, amount int64) error
}
