package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	maxDomainNameLen    = 128
	maxDomainVersionLen = 32
)

// DomainDescriptor names an application-defined signing domain. Its hash is
// the Identifier quota and disablement are tracked under.
type DomainDescriptor struct {
	Name    string         `json:"name"`
	Version string         `json:"version"`
	Params  map[string]any `json:"params,omitempty"`
}

func (d DomainDescriptor) Validate() error {
	name := strings.TrimSpace(d.Name)
	switch {
	case name == "":
		return fmt.Errorf("%w: domain name is required", ErrValidation)
	case name != d.Name:
		return fmt.Errorf("%w: domain name has surrounding whitespace", ErrValidation)
	case len(d.Name) > maxDomainNameLen:
		return fmt.Errorf("%w: domain name too long", ErrValidation)
	case d.Version == "":
		return fmt.Errorf("%w: domain version is required", ErrValidation)
	case len(d.Version) > maxDomainVersionLen:
		return fmt.Errorf("%w: domain version too long", ErrValidation)
	}
	return nil
}

// Identifier is the hex SHA-256 of the descriptor's JSON encoding. Map keys are
// encoded in sorted order, so equal descriptors hash equally.
func (d DomainDescriptor) Identifier() (Identifier, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("%w: encode domain: %v", ErrValidation, err)
	}
	sum := sha256.Sum256(raw)
	return Identifier(hex.EncodeToString(sum[:])), nil
}
