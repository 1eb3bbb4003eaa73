package usecase

import (
	"context"
	"fmt"

	"quotasigner/internal/domain"
)

// signer binds a key purpose to the provider and the latest key version.
type signer struct {
	keys          domain.KeyProvider
	purpose       domain.KeyPurpose
	latestVersion int
}

func (s signer) validateVersion(requested int) error {
	if requested < 0 {
		return fmt.Errorf("%w: keyVersion must not be negative", domain.ErrValidation)
	}
	if requested > s.latestVersion {
		return fmt.Errorf("%w: keyVersion %d is newer than %d", domain.ErrValidation, requested, s.latestVersion)
	}
	if avail, ok := s.keys.(domain.KeyAvailability); ok && !avail.HasKey(s.ref(requested)) {
		return fmt.Errorf("%w: keyVersion %d is not available", domain.ErrValidation, s.resolve(requested))
	}
	return nil
}

// resolve maps zero to the latest version.
func (s signer) resolve(requested int) int {
	if requested == 0 {
		return s.latestVersion
	}
	return requested
}

func (s signer) ref(requested int) domain.KeyRef {
	return domain.KeyRef{Purpose: s.purpose, Version: s.resolve(requested)}
}

// sign is called at most once per request. Zero selects the latest version.
func (s signer) sign(ctx context.Context, id domain.Identifier, requested int, blinded []byte) (*domain.SignResult, error) {
	if s.keys == nil {
		return nil, fmt.Errorf("%w: key provider not configured", domain.ErrSignFailure)
	}
	ref := s.ref(requested)
	sig, err := s.keys.Sign(ctx, ref, blinded)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrSignFailure, err)
	}
	if len(sig) == 0 {
		return nil, fmt.Errorf("%w: empty signature", domain.ErrSignFailure)
	}
	return &domain.SignResult{Signature: sig, KeyVersion: ref.Version, Identifier: id}, nil
}

func signFailed(err error) Result {
	return Result{Outcome: OutcomeSignFailed, Err: err}
}
