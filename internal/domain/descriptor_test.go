package domain

import (
	"errors"
	"testing"
)

func TestDomainIdentifierIsStable(t *testing.T) {
	a := DomainDescriptor{Name: "ODIS", Version: "1", Params: map[string]any{"b": 2, "a": "x"}}
	b := DomainDescriptor{Name: "ODIS", Version: "1", Params: map[string]any{"a": "x", "b": 2}}
	idA, err := a.Identifier()
	if err != nil {
		t.Fatalf("identifier: %v", err)
	}
	idB, err := b.Identifier()
	if err != nil {
		t.Fatalf("identifier: %v", err)
	}
	if idA != idB {
		t.Fatalf("expected equal identifiers, got %s and %s", idA, idB)
	}
	if len(idA) != 64 {
		t.Fatalf("expected hex sha256, got %q", idA)
	}

	c := DomainDescriptor{Name: "ODIS", Version: "2", Params: a.Params}
	idC, _ := c.Identifier()
	if idC == idA {
		t.Fatalf("version must change the identifier")
	}
}

func TestDomainDescriptorValidate(t *testing.T) {
	tests := []struct {
		name string
		d    DomainDescriptor
		ok   bool
	}{
		{name: "valid", d: DomainDescriptor{Name: "backup", Version: "1"}, ok: true},
		{name: "missing name", d: DomainDescriptor{Version: "1"}},
		{name: "padded name", d: DomainDescriptor{Name: " backup", Version: "1"}},
		{name: "missing version", d: DomainDescriptor{Name: "backup"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.d.Validate()
			if tt.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestQuotaStatusAllows(t *testing.T) {
	status := QuotaStatus{PerformedQueryCount: 4, TotalQuota: 5}
	if !status.Allows(1) {
		t.Fatalf("expected one more query to fit")
	}
	if status.Allows(2) {
		t.Fatalf("expected two queries to exceed quota")
	}
	if status.Remaining() != 1 {
		t.Fatalf("expected 1 remaining, got %d", status.Remaining())
	}
	if (QuotaStatus{PerformedQueryCount: 7, TotalQuota: 5}).Remaining() != 0 {
		t.Fatalf("remaining must not go negative")
	}
}
