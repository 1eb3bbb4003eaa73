package vault

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"quotasigner/internal/config"
	"quotasigner/internal/domain"
	"quotasigner/internal/infra/vaultclient"
)

// Manager signs with key material held in Vault. Keys are read per call and
// never retained.
type Manager struct {
	client *vaultclient.Client
	env    string
}

type storedKey struct {
	Alg              string `json:"alg"`
	Version          int    `json:"version"`
	PrivateKeyBase64 string `json:"private_key_base64"`
}

func NewManager(client *vaultclient.Client, env string) (*Manager, error) {
	if env == "" {
		return nil, errors.New("VAULT_ENV is required")
	}
	if client == nil {
		return nil, errors.New("vault client is required")
	}
	return &Manager{client: client, env: env}, nil
}

func NewManagerFromConfig(cfg config.Config) (*Manager, error) {
	if cfg.Keys.VaultEnv == "" {
		return nil, errors.New("VAULT_ENV is required")
	}
	if cfg.Keys.VaultAddr == "" || cfg.Keys.VaultToken == "" {
		return nil, errors.New("VAULT_ADDR and VAULT_TOKEN are required")
	}
	return NewManager(vaultclient.New(cfg.Keys.VaultAddr, cfg.Keys.VaultToken), cfg.Keys.VaultEnv)
}

func (m *Manager) Sign(ctx context.Context, ref domain.KeyRef, blindedInput []byte) ([]byte, error) {
	if m == nil || m.client == nil {
		return nil, errors.New("vault manager not configured")
	}
	if len(blindedInput) == 0 {
		return nil, errors.New("blinded input is required")
	}
	path, err := vaultPath(m.env, ref)
	if err != nil {
		return nil, err
	}
	var key storedKey
	if err := m.client.ReadKV(ctx, path, &key); err != nil {
		return nil, err
	}
	if key.Alg != "" && !strings.EqualFold(key.Alg, "ed25519") {
		return nil, errors.New("unsupported key algorithm")
	}
	if key.Version != 0 && key.Version != ref.Version {
		return nil, fmt.Errorf("key version mismatch: stored v%d, requested v%d", key.Version, ref.Version)
	}
	privKey, err := parsePrivateKeyBase64(key.PrivateKeyBase64)
	if err != nil {
		return nil, err
	}
	return ed25519.Sign(privKey, blindedInput), nil
}

// HasKey only checks the reference shape. Whether the version exists is
// known once the secret is read at signing time.
func (m *Manager) HasKey(ref domain.KeyRef) bool {
	return m != nil && validateKeyRef(ref) == nil
}

func parsePrivateKeyBase64(value string) (ed25519.PrivateKey, error) {
	if value == "" {
		return nil, errors.New("private_key_base64 is required")
	}
	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, err
	}
	switch len(raw) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(raw), nil
	default:
		return nil, errors.New("invalid ed25519 private key length")
	}
}

var (
	_ domain.KeyProvider     = (*Manager)(nil)
	_ domain.KeyAvailability = (*Manager)(nil)
)
