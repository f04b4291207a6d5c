package tax

import "github.com/shopspring/decimal"

// Line pairs a line item with its computed result.
type Line struct {
	Item   LineItem
	Result Result
}

// SaleAggregate holds sale-level totals. Every total is the exact sum of the
// already rounded per-line figures.
type SaleAggregate struct {
	NetValue    decimal.Decimal
	STFinal     decimal.Decimal
	IPI         decimal.Decimal
	FinalValue  decimal.Decimal
	STItemCount int
	ItemCount   int
}

// Sale is the effective per-line breakdown together with its totals.
type Sale struct {
	Lines           []Line
	Totals          SaleAggregate
	TaxesSuppressed bool
}

// AggregateSale sums lines into a SaleAggregate. When suppressAll is set, the
// sale-level flag is authoritative: every item is recomputed with taxes
// suppressed regardless of its own flag or the result it carries.
func AggregateSale(lines []Line, suppressAll bool) (SaleAggregate, error) {
	agg := SaleAggregate{
		NetValue:   decimal.Zero,
		STFinal:    decimal.Zero,
		IPI:        decimal.Zero,
		FinalValue: decimal.Zero,
	}
	for i, line := range lines {
		item, res := line.Item, line.Result
		if suppressAll {
			item.TaxesSuppressed = true
			var err error
			res, err = ComputeItem(item)
			if err != nil {
				return SaleAggregate{}, prefixField(err, i)
			}
		}
		agg.NetValue = agg.NetValue.Add(Round(item.NetValue))
		agg.STFinal = agg.STFinal.Add(res.STFinal)
		agg.IPI = agg.IPI.Add(res.IPI)
		agg.FinalValue = agg.FinalValue.Add(res.FinalValue)
		if item.AppliesST() {
			agg.STItemCount++
		}
		agg.ItemCount++
	}
	agg.NetValue = Round(agg.NetValue)
	agg.STFinal = Round(agg.STFinal)
	agg.IPI = Round(agg.IPI)
	agg.FinalValue = Round(agg.FinalValue)
	return agg, nil
}

// ComputeSale computes every item and aggregates the results. The returned
// lines carry the effective items, so with suppressAll each item reports
// TaxesSuppressed.
func ComputeSale(items []LineItem, suppressAll bool) (Sale, error) {
	lines := make([]Line, 0, len(items))
	for i, item := range items {
		if suppressAll {
			item.TaxesSuppressed = true
		}
		res, err := ComputeItem(item)
		if err != nil {
			return Sale{}, prefixField(err, i)
		}
		lines = append(lines, Line{Item: item, Result: res})
	}
	totals, err := AggregateSale(lines, false)
	if err != nil {
		return Sale{}, err
	}
	return Sale{Lines: lines, Totals: totals, TaxesSuppressed: suppressAll}, nil
}
