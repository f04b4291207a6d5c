package tax

import "github.com/shopspring/decimal"

// Defaults holds the rates applied when a line omits them. It is resolved once
// at the call boundary; ComputeItem itself never falls back to a default.
type Defaults struct {
	MVAPercent            decimal.Decimal
	ICMSOwnRatePercent    decimal.Decimal
	STInternalRatePercent decimal.Decimal
	IPIRatePercent        decimal.Decimal
}

// StandardDefaults returns the documented defaults: MVA 0, ICMS próprio 4%,
// internal ICMS 18%, IPI 0.
func StandardDefaults() Defaults {
	return Defaults{
		MVAPercent:            decimal.Zero,
		ICMSOwnRatePercent:    decimal.NewFromInt(4),
		STInternalRatePercent: decimal.NewFromInt(18),
		IPIRatePercent:        decimal.Zero,
	}
}

// Validate rejects negative defaults.
func (d Defaults) Validate() error {
	if err := nonNegative("default_mva_percent", d.MVAPercent); err != nil {
		return err
	}
	if err := nonNegative("default_icms_own_rate_percent", d.ICMSOwnRatePercent); err != nil {
		return err
	}
	if err := nonNegative("default_st_internal_rate_percent", d.STInternalRatePercent); err != nil {
		return err
	}
	return nonNegative("default_ipi_rate_percent", d.IPIRatePercent)
}

// Input is a line item whose rates may be left unset.
type Input struct {
	NetValue              decimal.Decimal
	MVAPercent            *decimal.Decimal
	ICMSOwnRatePercent    *decimal.Decimal
	STInternalRatePercent *decimal.Decimal
	IPIRatePercent        *decimal.Decimal
	TaxesSuppressed       bool
}

// Apply fills every unset rate of in from d.
func (d Defaults) Apply(in Input) LineItem {
	return LineItem{
		NetValue:              in.NetValue,
		MVAPercent:            pick(in.MVAPercent, d.MVAPercent),
		ICMSOwnRatePercent:    pick(in.ICMSOwnRatePercent, d.ICMSOwnRatePercent),
		STInternalRatePercent: pick(in.STInternalRatePercent, d.STInternalRatePercent),
		IPIRatePercent:        pick(in.IPIRatePercent, d.IPIRatePercent),
		TaxesSuppressed:       in.TaxesSuppressed,
	}
}

func pick(v *decimal.Decimal, fallback decimal.Decimal) decimal.Decimal {
	if v == nil {
		return fallback
	}
	return *v
}
