package domain

import "context"

type QuotaKind string

const (
	QuotaKindPNP    QuotaKind = "pnp"
	QuotaKindDomain QuotaKind = "domain"
)

type QuotaPolicyInput struct {
	Kind       QuotaKind   `json:"kind"`
	Identifier Identifier  `json:"identifier"`
	Status     QuotaStatus `json:"status"`
}

// QuotaPolicy applies local adjustments to the total quota read from the ledger.
type QuotaPolicy interface {
	TotalQuota(ctx context.Context, input QuotaPolicyInput) (int64, error)
}
