package vault

import (
	"errors"
	"fmt"

	"quotasigner/internal/domain"
)

// Vault KV v2 path format (env-scoped, purpose-scoped, versioned):
// secret/data/signer/{env}/keys/{purpose}/v{version}
// Stored fields: alg, version, private_key_base64.
const vaultKVPathFormat = "secret/data/signer/%s/keys/%s/v%d"

func vaultPath(env string, ref domain.KeyRef) (string, error) {
	if env == "" {
		return "", errors.New("VAULT_ENV is required")
	}
	if err := validateKeyRef(ref); err != nil {
		return "", err
	}
	return fmt.Sprintf(vaultKVPathFormat, env, ref.Purpose, ref.Version), nil
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
