package domain

import "time"

// Identifier is the key quota is tracked under: the requesting account for
// PNP, the domain descriptor hash for domains.
type Identifier string

type QuotaStatus struct {
	PerformedQueryCount int64 `json:"performedQueryCount"`
	TotalQuota          int64 `json:"totalQuota"`
}

// Allows reports whether a request of the given cost fits in the remaining quota.
func (q QuotaStatus) Allows(cost int64) bool {
	return q.PerformedQueryCount+cost <= q.TotalQuota
}

func (q QuotaStatus) Remaining() int64 {
	if q.PerformedQueryCount >= q.TotalQuota {
		return 0
	}
	return q.TotalQuota - q.PerformedQueryCount
}

type DomainState struct {
	Domain   Identifier
	Disabled bool
	Quota    QuotaStatus
}

type RetryPolicy struct {
	Timeout    time.Duration
	RetryCount int
	RetryDelay time.Duration
}

// Attempts is the total number of tries a logical call may make.
func (p RetryPolicy) Attempts() int {
	if p.RetryCount < 0 {
		return 1
	}
	return p.RetryCount + 1
}

type EndpointConfig struct {
	Enabled  bool
	FailOpen bool
}

type QuotaDecision struct {
	Allowed bool
	Status  QuotaStatus
}
