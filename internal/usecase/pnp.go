package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"quotasigner/internal/domain"
)

const maxAccountLen = 128

type PnpQuotaRequest struct {
	Account string
}

type PnpSignRequest struct {
	Account        string
	BlindedMessage []byte
	KeyVersion     int
}

func validateAccount(account string) error {
	switch {
	case account == "":
		return fmt.Errorf("%w: account is required", domain.ErrValidation)
	case len(account) > maxAccountLen:
		return fmt.Errorf("%w: account too long", domain.ErrValidation)
	case strings.ContainsAny(account, " \t\r\n"):
		return fmt.Errorf("%w: account contains whitespace", domain.ErrValidation)
	}
	return nil
}

type PnpQuotaAction struct {
	Quota    *PnpQuotaService
	FailOpen bool
	Logger   *slog.Logger
}

func NewPnpQuotaAction(quota *PnpQuotaService, endpoint domain.EndpointConfig, logger *slog.Logger) *PnpQuotaAction {
	return &PnpQuotaAction{Quota: quota, FailOpen: endpoint.FailOpen, Logger: loggerOrDefault(logger)}
}

func (a *PnpQuotaAction) Validate(req PnpQuotaRequest) error {
	return validateAccount(req.Account)
}

func (a *PnpQuotaAction) Perform(ctx context.Context, req PnpQuotaRequest) Result {
	id := domain.Identifier(req.Account)
	status, err := a.Quota.Status(ctx, id)
	switch {
	case err == nil:
		return authorized(status, nil)
	case errors.Is(err, domain.ErrNotFound):
		// Unregistered accounts simply have no quota.
		return authorized(domain.QuotaStatus{}, nil)
	case errors.Is(err, domain.ErrLedgerUnavailable):
		if a.FailOpen {
			a.Logger.Warn("pnp quota degraded", "account", req.Account, "err", err)
			return degraded(nil)
		}
		return unavailable(err)
	default:
		return internal(err)
	}
}

type PnpSignAction struct {
	Quota    *PnpQuotaService
	FailOpen bool
	Logger   *slog.Logger
	signer   signer
}

func NewPnpSignAction(quota *PnpQuotaService, keys domain.KeyProvider, latestVersion int, endpoint domain.EndpointConfig, logger *slog.Logger) *PnpSignAction {
	return &PnpSignAction{
		Quota:    quota,
		FailOpen: endpoint.FailOpen,
		Logger:   loggerOrDefault(logger),
		signer:   signer{keys: keys, purpose: domain.KeyPurposePNP, latestVersion: latestVersion},
	}
}

func (a *PnpSignAction) Validate(req PnpSignRequest) error {
	if err := validateAccount(req.Account); err != nil {
		return err
	}
	if len(req.BlindedMessage) == 0 {
		return fmt.Errorf("%w: blindedMessage is required", domain.ErrValidation)
	}
	return a.signer.validateVersion(req.KeyVersion)
}

func (a *PnpSignAction) Perform(ctx context.Context, req PnpSignRequest) Result {
	id := domain.Identifier(req.Account)
	decision, err := a.Quota.CheckAndConsume(ctx, id, 1)
	isDegraded := false
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrQuotaNotRecorded):
			return unavailable(err)
		case errors.Is(err, domain.ErrNotFound):
			return unauthorized(ReasonNotRegistered, nil)
		case errors.Is(err, domain.ErrLedgerUnavailable):
			if !a.FailOpen {
				return unavailable(err)
			}
			a.Logger.Warn("pnp sign degraded, skipping quota check", "account", req.Account, "err", err)
			isDegraded = true
		default:
			return internal(err)
		}
	} else if !decision.Allowed {
		return unauthorized(ReasonQuotaExceeded, &decision.Status)
	}

	sig, err := a.signer.sign(ctx, id, req.KeyVersion, req.BlindedMessage)
	if err != nil {
		return signFailed(err)
	}
	if isDegraded {
		return degraded(sig)
	}
	return authorized(decision.Status, sig)
}

func loggerOrDefault(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}
