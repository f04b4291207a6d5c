package tax

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestDefaultsApply(t *testing.T) {
	defaults := StandardDefaults()
	ipi := d("5")
	item := defaults.Apply(Input{NetValue: d("800"), IPIRatePercent: &ipi})

	assertMoney(t, "mva", item.MVAPercent, "0")
	assertMoney(t, "icms_own", item.ICMSOwnRatePercent, "4")
	assertMoney(t, "st_internal", item.STInternalRatePercent, "18")
	assertMoney(t, "ipi", item.IPIRatePercent, "5")
}

func TestDefaultsValidate(t *testing.T) {
	if err := StandardDefaults().Validate(); err != nil {
		t.Fatalf("standard defaults should be valid: %v", err)
	}
	bad := StandardDefaults()
	bad.STInternalRatePercent = decimal.NewFromInt(-18)
	if err := bad.Validate(); err == nil {
		t.Fatal("expected error for negative default")
	}
}
