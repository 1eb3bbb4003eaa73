package soft

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"quotasigner/internal/config"
	"quotasigner/internal/domain"
)

// Manager signs with key material held in process memory.
type Manager struct {
	keys map[domain.KeyRef]ed25519.PrivateKey
}

func NewManager(keys map[domain.KeyRef]ed25519.PrivateKey) *Manager {
	keyMap := make(map[domain.KeyRef]ed25519.PrivateKey, len(keys))
	for ref, key := range keys {
		keyMap[ref] = append(ed25519.PrivateKey(nil), key...)
	}
	return &Manager{keys: keyMap}
}

// NewManagerFromConfig loads the current PNP and domains keys. A purpose with
// no configured material is left empty and fails at signing time.
func NewManagerFromConfig(cfg config.Config) (*Manager, error) {
	keys := make(map[domain.KeyRef]ed25519.PrivateKey, 2)
	pnp, err := readPrivateKey(cfg.Keys.PNPPrivateKeyBase64, cfg.Keys.PNPPrivateKeySeedHex)
	if err != nil {
		return nil, fmt.Errorf("pnp key: %w", err)
	}
	if pnp != nil {
		keys[domain.KeyRef{Purpose: domain.KeyPurposePNP, Version: cfg.Keys.PNPKeyVersion}] = pnp
	}
	domains, err := readPrivateKey(cfg.Keys.DomainsPrivateKeyBase64, cfg.Keys.DomainsPrivateKeySeedHex)
	if err != nil {
		return nil, fmt.Errorf("domains key: %w", err)
	}
	if domains != nil {
		keys[domain.KeyRef{Purpose: domain.KeyPurposeDomains, Version: cfg.Keys.DomainsKeyVersion}] = domains
	}
	return &Manager{keys: keys}, nil
}

func (m *Manager) Sign(_ context.Context, ref domain.KeyRef, blindedInput []byte) ([]byte, error) {
	if err := validateKeyRef(ref); err != nil {
		return nil, err
	}
	if len(blindedInput) == 0 {
		return nil, errors.New("blinded input is required")
	}
	if m == nil {
		return nil, errors.New("key manager not configured")
	}
	key, ok := m.keys[ref]
	if !ok {
		return nil, fmt.Errorf("private key not found for %s v%d", ref.Purpose, ref.Version)
	}
	return ed25519.Sign(key, blindedInput), nil
}

// HasKey reports whether the exact version is loaded.
func (m *Manager) HasKey(ref domain.KeyRef) bool {
	if m == nil {
		return false
	}
	_, ok := m.keys[ref]
	return ok
}

func readPrivateKey(b64, seedHex string) (ed25519.PrivateKey, error) {
	if b64 != "" {
		raw, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return nil, err
		}
		return parsePrivateKey(raw)
	}
	if seedHex != "" {
		raw, err := hex.DecodeString(seedHex)
		if err != nil {
			return nil, err
		}
		return parsePrivateKey(raw)
	}
	return nil, nil
}

func parsePrivateKey(raw []byte) (ed25519.PrivateKey, error) {
	switch len(raw) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(raw), nil
	default:
		return nil, errors.New("invalid ed25519 private key length")
	}
}

func validateKeyRef(ref domain.KeyRef) error {
	if ref.Version <= 0 {
		return errors.New("key version must be positive")
	}
	switch ref.Purpose {
	case domain.KeyPurposePNP, domain.KeyPurposeDomains:
		return nil
	default:
		return errors.New("unsupported key purpose")
	}
}

var (
	_ domain.KeyProvider     = (*Manager)(nil)
	_ domain.KeyAvailability = (*Manager)(nil)
)
