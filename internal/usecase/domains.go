package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"quotasigner/internal/domain"
)

// Domain requests carry the identifier derived from the descriptor at parse time.
type DomainQuotaRequest struct {
	Domain domain.DomainDescriptor
	ID     domain.Identifier
}

type DomainSignRequest struct {
	Domain         domain.DomainDescriptor
	ID             domain.Identifier
	BlindedMessage []byte
	KeyVersion     int
	// Nonce, when set, must equal the domain's performed query count.
	Nonce *int64
}

type DomainDisableRequest struct {
	Domain domain.DomainDescriptor
	ID     domain.Identifier
}

func validateDomain(d domain.DomainDescriptor, id domain.Identifier) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if id == "" {
		return fmt.Errorf("%w: domain identifier missing", domain.ErrValidation)
	}
	return nil
}

type DomainQuotaAction struct {
	Quota    *DomainQuotaService
	FailOpen bool
	Logger   *slog.Logger
}

func NewDomainQuotaAction(quota *DomainQuotaService, endpoint domain.EndpointConfig, logger *slog.Logger) *DomainQuotaAction {
	return &DomainQuotaAction{Quota: quota, FailOpen: endpoint.FailOpen, Logger: loggerOrDefault(logger)}
}

func (a *DomainQuotaAction) Validate(req DomainQuotaRequest) error {
	return validateDomain(req.Domain, req.ID)
}

func (a *DomainQuotaAction) Perform(ctx context.Context, req DomainQuotaRequest) Result {
	state, err := a.Quota.State(ctx, req.ID)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrNotFound):
		return authorized(domain.QuotaStatus{}, nil)
	case errors.Is(err, domain.ErrLedgerUnavailable):
		if a.FailOpen {
			a.Logger.Warn("domain quota degraded", "domain", req.Domain.Name, "id", req.ID, "err", err)
			return degraded(nil)
		}
		return unavailable(err)
	default:
		return internal(err)
	}
	if state.Disabled {
		return Result{Outcome: OutcomeDisabled, Disabled: true, Reason: ReasonDisabled, Status: &state.Quota, Err: domain.ErrDomainDisabled}
	}
	return authorized(state.Quota, nil)
}

type DomainSignAction struct {
	Quota    *DomainQuotaService
	FailOpen bool
	Logger   *slog.Logger
	signer   signer
}

func NewDomainSignAction(quota *DomainQuotaService, keys domain.KeyProvider, latestVersion int, endpoint domain.EndpointConfig, logger *slog.Logger) *DomainSignAction {
	return &DomainSignAction{
		Quota:    quota,
		FailOpen: endpoint.FailOpen,
		Logger:   loggerOrDefault(logger),
		signer:   signer{keys: keys, purpose: domain.KeyPurposeDomains, latestVersion: latestVersion},
	}
}

func (a *DomainSignAction) Validate(req DomainSignRequest) error {
	if err := validateDomain(req.Domain, req.ID); err != nil {
		return err
	}
	if len(req.BlindedMessage) == 0 {
		return fmt.Errorf("%w: blindedMessage is required", domain.ErrValidation)
	}
	if req.Nonce != nil && *req.Nonce < 0 {
		return fmt.Errorf("%w: nonce must not be negative", domain.ErrValidation)
	}
	return a.signer.validateVersion(req.KeyVersion)
}

func (a *DomainSignAction) Perform(ctx context.Context, req DomainSignRequest) Result {
	decision, err := a.checkAndConsume(ctx, req)
	isDegraded := false
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrDomainDisabled):
			return Result{Outcome: OutcomeDisabled, Disabled: true, Reason: ReasonDisabled, Status: &decision.Status, Err: err}
		case errors.Is(err, errNonceMismatch):
			return unauthorized(ReasonNonceMismatch, &decision.Status)
		case errors.Is(err, domain.ErrQuotaNotRecorded):
			return unavailable(err)
		case errors.Is(err, domain.ErrNotFound):
			return unauthorized(ReasonNotRegistered, nil)
		case errors.Is(err, domain.ErrLedgerUnavailable):
			if !a.FailOpen {
				return unavailable(err)
			}
			a.Logger.Warn("domain sign degraded, skipping quota check", "domain", req.Domain.Name, "id", req.ID, "err", err)
			isDegraded = true
		default:
			return internal(err)
		}
	} else if !decision.Allowed {
		return unauthorized(ReasonQuotaExceeded, &decision.Status)
	}

	sig, err := a.signer.sign(ctx, req.ID, req.KeyVersion, req.BlindedMessage)
	if err != nil {
		return signFailed(err)
	}
	if isDegraded {
		return degraded(sig)
	}
	return authorized(decision.Status, sig)
}

var errNonceMismatch = errors.New("nonce mismatch")

func (a *DomainSignAction) checkAndConsume(ctx context.Context, req DomainSignRequest) (domain.QuotaDecision, error) {
	state, err := a.Quota.State(ctx, req.ID)
	if err != nil {
		return domain.QuotaDecision{}, err
	}
	if state.Disabled {
		return domain.QuotaDecision{Status: state.Quota}, domain.ErrDomainDisabled
	}
	if req.Nonce != nil && *req.Nonce != state.Quota.PerformedQueryCount {
		return domain.QuotaDecision{Status: state.Quota}, errNonceMismatch
	}
	return a.Quota.Consume(ctx, state, 1)
}

type DomainDisableAction struct {
	Ledger domain.Ledger
	Logger *slog.Logger
}

func NewDomainDisableAction(ledger domain.Ledger, logger *slog.Logger) *DomainDisableAction {
	return &DomainDisableAction{Ledger: ledger, Logger: loggerOrDefault(logger)}
}

func (a *DomainDisableAction) Validate(req DomainDisableRequest) error {
	return validateDomain(req.Domain, req.ID)
}

// Perform has no fail-open path: a disable that was not recorded is reported.
func (a *DomainDisableAction) Perform(ctx context.Context, req DomainDisableRequest) Result {
	if a.Ledger == nil {
		return internal(fmt.Errorf("%w: ledger not configured", domain.ErrInternal))
	}
	err := a.Ledger.DisableDomain(ctx, req.ID)
	switch {
	case err == nil:
		a.Logger.Info("domain disabled", "domain", req.Domain.Name, "id", req.ID)
		return Result{Outcome: OutcomeDisableRecorded, Disabled: true}
	case errors.Is(err, domain.ErrLedgerUnavailable):
		return unavailable(err)
	default:
		return internal(err)
	}
}
