package mva

import (
	"sync/atomic"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-petshop/internal/obs"
)

// Holder publishes the current MVA snapshot. Readers always observe a complete
// table; a refresh replaces the pointer and never mutates a published table.
type Holder struct {
	current atomic.Pointer[Table]
}

// NewHolder returns a holder publishing the provided table, or an empty one.
func NewHolder(initial *Table) *Holder {
	h := &Holder{}
	if initial == nil {
		initial = EmptyTable()
	}
	h.current.Store(initial)
	return h
}

// Load returns the current snapshot.
func (h *Holder) Load() *Table {
	return h.current.Load()
}

// Swap publishes next and returns the previous snapshot. A nil table is ignored.
func (h *Holder) Swap(next *Table) *Table {
	if next == nil {
		return h.current.Load()
	}
	return h.current.Swap(next)
}

// Loaded reports whether a snapshot from a real source has been published.
func (h *Holder) Loaded() bool {
	t := h.current.Load()
	return t != nil && t.Source() != "empty"
}

// Resolve looks key up in the current snapshot.
func (h *Holder) Resolve(key Key) decimal.Decimal {
	v, ok := h.Load().Lookup(key)
	obs.ObserveMVALookup(ok)
	return v
}

// ResolveFirst tries keys in order against a single snapshot.
func (h *Holder) ResolveFirst(keys ...Key) (decimal.Decimal, bool) {
	v, ok := h.Load().ResolveFirst(keys...)
	obs.ObserveMVALookup(ok)
	return v, ok
}
