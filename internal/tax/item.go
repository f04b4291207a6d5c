package tax

import "github.com/shopspring/decimal"

// LineItem is one sale line as seen by the calculator. Rates are percentages
// (18 means 18%). Defaults are resolved before constructing a LineItem, see Defaults.
type LineItem struct {
	NetValue              decimal.Decimal
	MVAPercent            decimal.Decimal
	ICMSOwnRatePercent    decimal.Decimal
	STInternalRatePercent decimal.Decimal
	IPIRatePercent        decimal.Decimal
	TaxesSuppressed       bool
}

// Result is the tax breakdown of a single line item.
type Result struct {
	STBase     decimal.Decimal
	ICMSST     decimal.Decimal
	ICMSOwn    decimal.Decimal
	STFinal    decimal.Decimal
	IPI        decimal.Decimal
	FinalValue decimal.Decimal
}

// Validate checks that the value and every rate are non-negative.
func (it LineItem) Validate() error {
	checks := []struct {
		field string
		value decimal.Decimal
	}{
		{"net_value", it.NetValue},
		{"mva_percent", it.MVAPercent},
		{"icms_own_rate_percent", it.ICMSOwnRatePercent},
		{"st_internal_rate_percent", it.STInternalRatePercent},
		{"ipi_rate_percent", it.IPIRatePercent},
	}
	for _, c := range checks {
		if err := nonNegative(c.field, c.value); err != nil {
			return err
		}
	}
	return nil
}

// AppliesST reports whether the substitution regime is computed for the item.
func (it LineItem) AppliesST() bool {
	return !it.TaxesSuppressed && it.MVAPercent.IsPositive()
}

// ComputeItem derives ST, ICMS próprio, IPI and the final value for one line.
// Each intermediate is rounded on its own, and later steps consume the rounded
// figures so the breakdown matches a manual fiscal audit line by line.
func ComputeItem(it LineItem) (Result, error) {
	if err := it.Validate(); err != nil {
		return Result{}, err
	}
	net := Round(it.NetValue)
	if it.TaxesSuppressed {
		return Result{
			STBase:     decimal.Zero,
			ICMSST:     decimal.Zero,
			ICMSOwn:    decimal.Zero,
			STFinal:    decimal.Zero,
			IPI:        decimal.Zero,
			FinalValue: net,
		}, nil
	}

	res := Result{
		STBase:  decimal.Zero,
		ICMSST:  decimal.Zero,
		ICMSOwn: decimal.Zero,
		STFinal: decimal.Zero,
	}
	if it.MVAPercent.IsPositive() {
		margin := hundred.Add(it.MVAPercent)
		res.STBase = percentOf(it.NetValue, margin)
		res.ICMSST = percentOf(res.STBase, it.STInternalRatePercent)
		res.ICMSOwn = percentOf(it.NetValue, it.ICMSOwnRatePercent)
		// never clamped: ICMS próprio above ICMS-ST leaves a negative balance
		res.STFinal = Round(res.ICMSST.Sub(res.ICMSOwn))
	}
	res.IPI = percentOf(it.NetValue, it.IPIRatePercent)
	res.FinalValue = Round(net.Add(res.STFinal).Add(res.IPI))
	return res, nil
}
