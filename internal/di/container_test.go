package di

import (
	"errors"
	"testing"

	"github.com/star-cafe/api/internal/domain"
)

func TestParseTierTable(t *testing.T) {
	table, err := ParseTierTable("bronze=0:10000, silver=20000:11000, gold=60000:12500")
	if err != nil {
		t.Fatalf("ParseTierTable returned error: %v", err)
	}
	if table.Len() != 3 {
		t.Fatalf("expected 3 tiers, got %d", table.Len())
	}
	tier, next := table.Resolve(25000)
	if tier.Name != "silver" || tier.MultiplierBps != 11000 {
		t.Fatalf("unexpected tier %+v", tier)
	}
	if next == nil || next.Name != "gold" {
		t.Fatalf("unexpected next tier %+v", next)
	}
}

func TestParseTierTableRejectsMalformedEntries(t *testing.T) {
	cases := []string{
		"bronze",
		"bronze=0",
		"bronze=zero:10000",
		"bronze=0:lots",
		"=0:10000",
	}
	for _, spec := range cases {
		if _, err := ParseTierTable(spec); err == nil {
			t.Fatalf("spec %q: expected error", spec)
		}
	}
}

func TestParseTierTableRequiresZeroBase(t *testing.T) {
	_, err := ParseTierTable("silver=20000:11000,gold=60000:12500")
	if !errors.Is(err, domain.ErrInvalidTierTable) {
		t.Fatalf("expected ErrInvalidTierTable, got %v", err)
	}
}
