package mva

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Entry maps a key to its MVA percentage.
type Entry struct {
	Key
	Percent     decimal.Decimal `json:"percent"`
	Description string          `json:"description,omitempty"`
}

// Validate checks the key and rejects negative percentages.
func (e Entry) Validate() error {
	if err := e.Key.Validate(); err != nil {
		return err
	}
	if e.Percent.IsNegative() {
		return &EntryError{Key: e.Key.Normalize(), Field: "percent", Reason: "must not be negative"}
	}
	return nil
}

// Table is an immutable MVA snapshot. Lookups are O(1) and safe for concurrent use.
type Table struct {
	entries  map[Key]Entry
	source   string
	loadedAt time.Time
}

// NewTable validates entries and builds a snapshot. A key listed twice with
// different values is rejected.
func NewTable(source string, entries []Entry) (*Table, error) {
	m := make(map[Key]Entry, len(entries))
	for _, e := range entries {
		if err := e.Validate(); err != nil {
			return nil, err
		}
		e.Key = e.Key.Normalize()
		if prev, ok := m[e.Key]; ok && !prev.Percent.Equal(e.Percent) {
			return nil, &EntryError{Key: e.Key, Field: "percent", Reason: "conflicting duplicate entry"}
		}
		m[e.Key] = e
	}
	return &Table{entries: m, source: source, loadedAt: time.Now().UTC()}, nil
}

// EmptyTable returns a table that resolves every key to zero.
func EmptyTable() *Table {
	return &Table{entries: map[Key]Entry{}, source: "empty", loadedAt: time.Now().UTC()}
}

// Lookup returns the MVA for key and whether an entry exists.
func (t *Table) Lookup(key Key) (decimal.Decimal, bool) {
	if t == nil {
		return decimal.Zero, false
	}
	e, ok := t.entries[key.Normalize()]
	if !ok {
		return decimal.Zero, false
	}
	return e.Percent, true
}

// Resolve returns the MVA for key, or zero (no substitution) on a miss.
func (t *Table) Resolve(key Key) decimal.Decimal {
	v, _ := t.Lookup(key)
	return v
}

// ResolveFirst tries keys in order and returns the first hit. Empty products are skipped.
func (t *Table) ResolveFirst(keys ...Key) (decimal.Decimal, bool) {
	for _, k := range keys {
		if k.Product == "" {
			continue
		}
		if v, ok := t.Lookup(k); ok {
			return v, true
		}
	}
	return decimal.Zero, false
}

// Len returns the number of entries.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.entries)
}

// Source names where the snapshot was loaded from.
func (t *Table) Source() string {
	if t == nil {
		return ""
	}
	return t.source
}

// LoadedAt returns when the snapshot was built.
func (t *Table) LoadedAt() time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.loadedAt
}

// Entries returns a copy of the entries sorted by product, origin and destination.
func (t *Table) Entries() []Entry {
	if t == nil {
		return nil
	}
	out := make([]Entry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Key, out[j].Key
		if a.Product != b.Product {
			return a.Product < b.Product
		}
		if a.Origin != b.Origin {
			return a.Origin < b.Origin
		}
		return a.Destination < b.Destination
	})
	return out
}
