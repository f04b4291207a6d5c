package quote

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/backend-petshop/internal/mva"
	"github.com/noah-isme/backend-petshop/internal/obs"
	"github.com/noah-isme/backend-petshop/internal/tax"
)

// MVA resolution outcomes reported per line.
const (
	MVAFromRequest  = "request"
	MVAFromProduct  = "product"
	MVAFromCategory = "category"
	MVAFromDefault  = "default"
)

// ItemRequest is a line as received from a caller. When Input.MVAPercent is
// nil the MVA is resolved from the published table using Product (then
// Category) and the Origin/Destination states.
type ItemRequest struct {
	Input       tax.Input
	Product     string
	Category    string
	Origin      string
	Destination string
}

// Line is a computed line together with how its MVA was obtained.
type Line struct {
	tax.Line
	MVASource string
}

// SaleQuote is the per-line breakdown of a sale plus its totals.
type SaleQuote struct {
	Lines           []Line
	Totals          tax.SaleAggregate
	TaxesSuppressed bool
}

// Config configures a Service.
type Config struct {
	Holder      *mva.Holder
	Defaults    tax.Defaults
	Parallelism int
	MaxItems    int
}

// Service resolves request lines into tax line items and computes them.
type Service struct {
	holder      *mva.Holder
	defaults    tax.Defaults
	parallelism int
	maxItems    int
}

// NewService validates cfg and constructs a Service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Holder == nil {
		return nil, errors.New("quote: mva holder is required")
	}
	if err := cfg.Defaults.Validate(); err != nil {
		return nil, err
	}
	parallelism := cfg.Parallelism
	if parallelism <= 0 {
		parallelism = 1
	}
	return &Service{
		holder:      cfg.Holder,
		defaults:    cfg.Defaults,
		parallelism: parallelism,
		maxItems:    cfg.MaxItems,
	}, nil
}

// Defaults returns the rates applied to lines that omit them.
func (s *Service) Defaults() tax.Defaults { return s.defaults }

// Prepare resolves the effective line item for req.
func (s *Service) Prepare(req ItemRequest) (tax.LineItem, string) {
	in := req.Input
	source := MVAFromRequest
	if in.MVAPercent == nil {
		v, src := s.resolveMVA(req)
		in.MVAPercent = &v
		source = src
	}
	return s.defaults.Apply(in), source
}

func (s *Service) resolveMVA(req ItemRequest) (value decimal.Decimal, source string) {
	origin := strings.TrimSpace(req.Origin)
	destination := strings.TrimSpace(req.Destination)
	if origin == "" || destination == "" {
		return s.defaults.MVAPercent, MVAFromDefault
	}
	table := s.holder.Load()
	for _, candidate := range []struct{ id, source string }{
		{req.Product, MVAFromProduct},
		{req.Category, MVAFromCategory},
	} {
		if strings.TrimSpace(candidate.id) == "" {
			continue
		}
		if v, ok := table.Lookup(mva.NewKey(candidate.id, origin, destination)); ok {
			obs.ObserveMVALookup(true)
			return v, candidate.source
		}
	}
	obs.ObserveMVALookup(false)
	// a miss between known states means no substitution applies
	return decimal.Zero, MVAFromDefault
}

// ComputeItem computes a single line.
func (s *Service) ComputeItem(ctx context.Context, req ItemRequest) (Line, error) {
	if err := ctx.Err(); err != nil {
		return Line{}, err
	}
	item, source := s.Prepare(req)
	res, err := tax.ComputeItem(item)
	obs.ObserveItemComputation(regimeOf(item), outcome(err))
	if err != nil {
		return Line{}, err
	}
	return Line{Line: tax.Line{Item: item, Result: res}, MVASource: source}, nil
}

// ComputeSale computes every line, at most Parallelism at a time, and
// aggregates them in input order. With suppressAll every line is computed with
// taxes suppressed regardless of its own flag.
func (s *Service) ComputeSale(ctx context.Context, reqs []ItemRequest, suppressAll bool) (SaleQuote, error) {
	quote, err := s.computeSale(ctx, reqs, suppressAll)
	obs.ObserveSaleComputation(suppressAll, outcome(err), len(reqs))
	return quote, err
}

func (s *Service) computeSale(ctx context.Context, reqs []ItemRequest, suppressAll bool) (SaleQuote, error) {
	if s.maxItems > 0 && len(reqs) > s.maxItems {
		return SaleQuote{}, &tax.ValidationError{Field: "items", Reason: fmt.Sprintf("must contain at most %d items", s.maxItems)}
	}
	lines := make([]Line, len(reqs))
	for i, req := range reqs {
		item, source := s.Prepare(req)
		if suppressAll {
			item.TaxesSuppressed = true
		}
		lines[i] = Line{Line: tax.Line{Item: item}, MVASource: source}
	}

	if err := ctx.Err(); err != nil {
		return SaleQuote{}, err
	}
	// every line runs; the lowest failing index is reported
	errs := make([]error, len(lines))
	var g errgroup.Group
	g.SetLimit(s.parallelism)
	for i := range lines {
		g.Go(func() error {
			res, err := tax.ComputeItem(lines[i].Item)
			obs.ObserveItemComputation(regimeOf(lines[i].Item), outcome(err))
			if err != nil {
				errs[i] = err
				return nil
			}
			lines[i].Result = res
			return nil
		})
	}
	_ = g.Wait()
	for i, err := range errs {
		if err != nil {
			return SaleQuote{}, itemError(err, i)
		}
	}

	taxLines := make([]tax.Line, len(lines))
	for i, l := range lines {
		taxLines[i] = l.Line
	}
	totals, err := tax.AggregateSale(taxLines, false)
	if err != nil {
		return SaleQuote{}, err
	}
	return SaleQuote{Lines: lines, Totals: totals, TaxesSuppressed: suppressAll}, nil
}

func itemError(err error, index int) error {
	var verr *tax.ValidationError
	if errors.As(err, &verr) {
		return &tax.ValidationError{Field: fmt.Sprintf("items[%d].%s", index, verr.Field), Reason: verr.Reason}
	}
	return err
}

func regimeOf(item tax.LineItem) string {
	switch {
	case item.TaxesSuppressed:
		return "suppressed"
	case item.AppliesST():
		return "st"
	default:
		return "no_st"
	}
}

func outcome(err error) string {
	var verr *tax.ValidationError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &verr):
		return "invalid"
	default:
		return "error"
	}
}
