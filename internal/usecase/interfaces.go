package usecase

import (
	"context"

	"quotasigner/internal/domain"
)

// Action is one endpoint's domain logic. Validate checks request semantics
// the IO layer cannot; Perform never returns an error, only a Result.
type Action[Req any] interface {
	Validate(req Req) error
	Perform(ctx context.Context, req Req) Result
}

type Outcome string

const (
	OutcomeAuthorized      Outcome = "authorized"
	OutcomeDegraded        Outcome = "degraded"
	OutcomeUnauthorized    Outcome = "unauthorized"
	OutcomeDisabled        Outcome = "disabled"
	OutcomeDisableRecorded Outcome = "disable_recorded"
	OutcomeSignFailed      Outcome = "sign_failed"
	OutcomeUnavailable     Outcome = "unavailable"
	OutcomeInternal        Outcome = "internal"
)

const (
	ReasonQuotaExceeded = "quota exceeded"
	ReasonNotRegistered = "identifier not registered"
	ReasonNonceMismatch = "nonce mismatch"
	ReasonDisabled      = "domain disabled"
)

type Result struct {
	Outcome Outcome
	// Status is nil when the ledger could not be read.
	Status    *domain.QuotaStatus
	Signature *domain.SignResult
	Disabled  bool
	Reason    string
	Err       error
}

func (r Result) Success() bool {
	switch r.Outcome {
	case OutcomeAuthorized, OutcomeDegraded, OutcomeDisableRecorded:
		return true
	default:
		return false
	}
}

func authorized(status domain.QuotaStatus, sig *domain.SignResult) Result {
	return Result{Outcome: OutcomeAuthorized, Status: &status, Signature: sig}
}

func degraded(sig *domain.SignResult) Result {
	return Result{Outcome: OutcomeDegraded, Signature: sig}
}

func unauthorized(reason string, status *domain.QuotaStatus) Result {
	return Result{Outcome: OutcomeUnauthorized, Reason: reason, Status: status, Err: domain.ErrUnauthorized}
}

func unavailable(err error) Result {
	return Result{Outcome: OutcomeUnavailable, Err: err}
}

func internal(err error) Result {
	return Result{Outcome: OutcomeInternal, Err: err}
}
