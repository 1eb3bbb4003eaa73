package domain

import "context"

type KeyPurpose string

const (
	KeyPurposePNP     KeyPurpose = "pnp"
	KeyPurposeDomains KeyPurpose = "domains"
)

type KeyRef struct {
	Purpose KeyPurpose
	Version int
}

// KeyProvider performs the signing operation over already blinded input.
// Custody of the key material is up to the implementation.
type KeyProvider interface {
	Sign(ctx context.Context, ref KeyRef, blindedInput []byte) ([]byte, error)
}

// KeyAvailability is implemented by providers that can tell, before any
// quota is charged, whether a key version is loaded. Providers that cannot
// know without a remote call answer true.
type KeyAvailability interface {
	HasKey(ref KeyRef) bool
}

type SignResult struct {
	Signature  []byte
	KeyVersion int
	Identifier Identifier
}
