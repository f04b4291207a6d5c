package quote

import (
	"context"
	"errors"
	"net/http"
	"strings"

	validator "github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-petshop/internal/common"
	"github.com/noah-isme/backend-petshop/internal/tax"
)

// Handler exposes the tax computation endpoints.
type Handler struct {
	Service  *Service
	Validate *validator.Validate
	Logger   zerolog.Logger
}

type itemPayload struct {
	NetValue              string  `json:"netValue" validate:"required,decimal"`
	MVAPercent            *string `json:"mvaPercent,omitempty" validate:"omitempty,decimal"`
	ICMSOwnRatePercent    *string `json:"icmsOwnRatePercent,omitempty" validate:"omitempty,decimal"`
	STInternalRatePercent *string `json:"stInternalRatePercent,omitempty" validate:"omitempty,decimal"`
	IPIRatePercent        *string `json:"ipiRatePercent,omitempty" validate:"omitempty,decimal"`
	Product               string  `json:"product,omitempty" validate:"max=64"`
	Category              string  `json:"category,omitempty" validate:"max=64"`
	Origin                string  `json:"origin,omitempty" validate:"omitempty,uf"`
	Destination           string  `json:"destination,omitempty" validate:"omitempty,uf"`
	TaxesSuppressed       bool    `json:"taxesSuppressed"`
}

type salePayload struct {
	Items           []itemPayload `json:"items" validate:"dive"`
	Origin          string        `json:"origin,omitempty" validate:"omitempty,uf"`
	Destination     string        `json:"destination,omitempty" validate:"omitempty,uf"`
	TaxesSuppressed bool          `json:"taxesSuppressed"`
}

// ResultView renders monetary figures with two fraction digits.
type ResultView struct {
	STBase     string `json:"stBase"`
	ICMSST     string `json:"icmsSt"`
	ICMSOwn    string `json:"icmsOwn"`
	STFinal    string `json:"stFinal"`
	IPI        string `json:"ipi"`
	FinalValue string `json:"finalValue"`
}

// LineView is one computed line: the effective inputs and the result.
type LineView struct {
	NetValue              string     `json:"netValue"`
	MVAPercent            string     `json:"mvaPercent"`
	MVASource             string     `json:"mvaSource"`
	ICMSOwnRatePercent    string     `json:"icmsOwnRatePercent"`
	STInternalRatePercent string     `json:"stInternalRatePercent"`
	IPIRatePercent        string     `json:"ipiRatePercent"`
	TaxesSuppressed       bool       `json:"taxesSuppressed"`
	SubstitutionApplied   bool       `json:"substitutionApplied"`
	Result                ResultView `json:"result"`
}

// TotalsView is the sale aggregate.
type TotalsView struct {
	NetValue    string `json:"netValue"`
	STFinal     string `json:"stFinal"`
	IPI         string `json:"ipi"`
	FinalValue  string `json:"finalValue"`
	STItemCount int    `json:"stItemCount"`
	ItemCount   int    `json:"itemCount"`
}

// SaleView is the response body of the sale endpoint.
type SaleView struct {
	Items           []LineView `json:"items"`
	Totals          TotalsView `json:"totals"`
	TaxesSuppressed bool       `json:"taxesSuppressed"`
}

func money(d decimal.Decimal) string { return d.StringFixed(tax.MoneyPlaces) }

func lineView(l Line) LineView {
	it, res := l.Item, l.Result
	return LineView{
		NetValue:              money(it.NetValue),
		MVAPercent:            it.MVAPercent.String(),
		MVASource:             l.MVASource,
		ICMSOwnRatePercent:    it.ICMSOwnRatePercent.String(),
		STInternalRatePercent: it.STInternalRatePercent.String(),
		IPIRatePercent:        it.IPIRatePercent.String(),
		TaxesSuppressed:       it.TaxesSuppressed,
		SubstitutionApplied:   it.AppliesST(),
		Result: ResultView{
			STBase:     money(res.STBase),
			ICMSST:     money(res.ICMSST),
			ICMSOwn:    money(res.ICMSOwn),
			STFinal:    money(res.STFinal),
			IPI:        money(res.IPI),
			FinalValue: money(res.FinalValue),
		},
	}
}

func totalsView(a tax.SaleAggregate) TotalsView {
	return TotalsView{
		NetValue:    money(a.NetValue),
		STFinal:     money(a.STFinal),
		IPI:         money(a.IPI),
		FinalValue:  money(a.FinalValue),
		STItemCount: a.STItemCount,
		ItemCount:   a.ItemCount,
	}
}

// Item computes a single line item.
func (h *Handler) Item(w http.ResponseWriter, r *http.Request) {
	var payload itemPayload
	if err := common.DecodeJSON(r, &payload); err != nil {
		common.WriteError(w, err)
		return
	}
	if err := common.ValidateStruct(h.Validate, payload); err != nil {
		common.WriteError(w, err)
		return
	}
	req, err := payload.request("", "")
	if err != nil {
		h.writeError(w, err)
		return
	}
	line, err := h.Service.ComputeItem(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": lineView(line)})
}

// Sale computes every line of a sale and its totals.
func (h *Handler) Sale(w http.ResponseWriter, r *http.Request) {
	var payload salePayload
	if err := common.DecodeJSON(r, &payload); err != nil {
		common.WriteError(w, err)
		return
	}
	if err := common.ValidateStruct(h.Validate, payload); err != nil {
		common.WriteError(w, err)
		return
	}
	reqs := make([]ItemRequest, 0, len(payload.Items))
	for i, item := range payload.Items {
		req, err := item.request(payload.Origin, payload.Destination)
		if err != nil {
			h.writeError(w, itemError(err, i))
			return
		}
		reqs = append(reqs, req)
	}
	quote, err := h.Service.ComputeSale(r.Context(), reqs, payload.TaxesSuppressed)
	if err != nil {
		h.writeError(w, err)
		return
	}
	view := SaleView{
		Items:           make([]LineView, 0, len(quote.Lines)),
		Totals:          totalsView(quote.Totals),
		TaxesSuppressed: quote.TaxesSuppressed,
	}
	for _, l := range quote.Lines {
		view.Items = append(view.Items, lineView(l))
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": view})
}

// request converts the payload; origin and destination fall back to the sale-level states.
func (p itemPayload) request(origin, destination string) (ItemRequest, error) {
	net, err := parseDecimal("net_value", &p.NetValue)
	if err != nil {
		return ItemRequest{}, err
	}
	in := tax.Input{NetValue: *net, TaxesSuppressed: p.TaxesSuppressed}
	rates := []struct {
		field string
		raw   *string
		dst   **decimal.Decimal
	}{
		{"mva_percent", p.MVAPercent, &in.MVAPercent},
		{"icms_own_rate_percent", p.ICMSOwnRatePercent, &in.ICMSOwnRatePercent},
		{"st_internal_rate_percent", p.STInternalRatePercent, &in.STInternalRatePercent},
		{"ipi_rate_percent", p.IPIRatePercent, &in.IPIRatePercent},
	}
	for _, rate := range rates {
		if *rate.dst, err = parseDecimal(rate.field, rate.raw); err != nil {
			return ItemRequest{}, err
		}
	}
	if p.Origin != "" {
		origin = p.Origin
	}
	if p.Destination != "" {
		destination = p.Destination
	}
	return ItemRequest{
		Input:       in,
		Product:     strings.TrimSpace(p.Product),
		Category:    strings.TrimSpace(p.Category),
		Origin:      strings.ToUpper(strings.TrimSpace(origin)),
		Destination: strings.ToUpper(strings.TrimSpace(destination)),
	}, nil
}

func parseDecimal(field string, raw *string) (*decimal.Decimal, error) {
	if raw == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(strings.TrimSpace(*raw))
	if err != nil {
		return nil, &tax.ValidationError{Field: field, Reason: "must be a decimal number"}
	}
	return &d, nil
}

var jsonFields = strings.NewReplacer(
	"net_value", "netValue",
	"mva_percent", "mvaPercent",
	"icms_own_rate_percent", "icmsOwnRatePercent",
	"st_internal_rate_percent", "stInternalRatePercent",
	"ipi_rate_percent", "ipiRatePercent",
)

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var verr *tax.ValidationError
	switch {
	case errors.As(err, &verr):
		common.WriteError(w, common.ValidationFailed(jsonFields.Replace(verr.Field), verr.Reason, err))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		common.JSONError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "request cancelled", nil)
	default:
		h.Logger.Error().Err(err).Msg("compute tax")
		common.WriteError(w, err)
	}
}
