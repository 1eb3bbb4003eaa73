package domain

import "errors"

var (
	ErrValidation        = errors.New("invalid request")
	ErrEndpointDisabled  = errors.New("endpoint disabled")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrQuotaExceeded     = errors.New("quota exceeded")
	ErrDomainDisabled    = errors.New("domain disabled")
	ErrNotFound          = errors.New("not found")
	ErrLedgerUnavailable = errors.New("ledger unavailable")
	ErrQuotaNotRecorded  = errors.New("quota consumption not recorded")
	ErrSignFailure       = errors.New("signature failed")
	ErrInternal          = errors.New("internal error")
)
