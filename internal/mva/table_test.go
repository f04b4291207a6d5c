package mva

import (
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
)

func pct(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func sampleEntries() []Entry {
	return []Entry{
		{Key: NewKey("2309.10.00", "SP", "RJ"), Percent: pct("40")},
		{Key: NewKey("racao-caes", "sp", "mg"), Percent: pct("71.78")},
		{Key: NewKey("3306.10.00", "PR", "SC"), Percent: pct("0")},
	}
}

func TestTableResolve(t *testing.T) {
	table, err := NewTable("static", sampleEntries())
	if err != nil {
		t.Fatalf("build table: %v", err)
	}
	if got := table.Resolve(NewKey("2309.10.00", "sp", " rj ")); !got.Equal(pct("40")) {
		t.Fatalf("expected 40, got %s", got)
	}
	if got := table.Resolve(NewKey("racao-caes", "SP", "MG")); !got.Equal(pct("71.78")) {
		t.Fatalf("expected 71.78, got %s", got)
	}
	if table.Len() != 3 {
		t.Fatalf("expected 3 entries, got %d", table.Len())
	}
}

func TestTableMissResolvesToZero(t *testing.T) {
	table, err := NewTable("static", sampleEntries())
	if err != nil {
		t.Fatalf("build table: %v", err)
	}
	v, ok := table.Lookup(NewKey("2309.10.00", "RJ", "SP"))
	if ok {
		t.Fatal("expected miss for reversed state pair")
	}
	if !v.IsZero() {
		t.Fatalf("expected zero, got %s", v)
	}
	var nilTable *Table
	if !nilTable.Resolve(NewKey("x", "SP", "RJ")).IsZero() {
		t.Fatal("nil table should resolve to zero")
	}
}

func TestTableResolveFirstFallsBackToCategory(t *testing.T) {
	table, err := NewTable("static", sampleEntries())
	if err != nil {
		t.Fatalf("build table: %v", err)
	}
	v, ok := table.ResolveFirst(NewKey("sku-123", "SP", "MG"), NewKey("racao-caes", "SP", "MG"))
	if !ok || !v.Equal(pct("71.78")) {
		t.Fatalf("expected category fallback 71.78, got %s (hit=%t)", v, ok)
	}
	v, ok = table.ResolveFirst(NewKey("", "SP", "MG"), NewKey("unknown", "SP", "MG"))
	if ok || !v.IsZero() {
		t.Fatalf("expected miss, got %s", v)
	}
}

func TestNewTableRejectsInvalidEntries(t *testing.T) {
	cases := map[string]Entry{
		"product":     {Key: NewKey(" ", "SP", "RJ"), Percent: pct("1")},
		"origin":      {Key: NewKey("a", "XX", "RJ"), Percent: pct("1")},
		"destination": {Key: NewKey("a", "SP", ""), Percent: pct("1")},
		"percent":     {Key: NewKey("a", "SP", "RJ"), Percent: pct("-1")},
	}
	for field, entry := range cases {
		_, err := NewTable("static", []Entry{entry})
		var entryErr *EntryError
		if !errors.As(err, &entryErr) {
			t.Fatalf("%s: expected EntryError, got %v", field, err)
		}
		if entryErr.Field != field {
			t.Fatalf("expected field %s, got %s", field, entryErr.Field)
		}
	}
}

func TestNewTableDuplicates(t *testing.T) {
	same := []Entry{
		{Key: NewKey("a", "SP", "RJ"), Percent: pct("40")},
		{Key: NewKey("a", "sp", "rj"), Percent: pct("40.00")},
	}
	if _, err := NewTable("static", same); err != nil {
		t.Fatalf("identical duplicates should be accepted: %v", err)
	}
	conflicting := []Entry{
		{Key: NewKey("a", "SP", "RJ"), Percent: pct("40")},
		{Key: NewKey("a", "SP", "RJ"), Percent: pct("35")},
	}
	if _, err := NewTable("static", conflicting); err == nil {
		t.Fatal("expected conflicting duplicates to be rejected")
	}
}

func TestTableEntriesSorted(t *testing.T) {
	table, err := NewTable("static", sampleEntries())
	if err != nil {
		t.Fatalf("build table: %v", err)
	}
	entries := table.Entries()
	if entries[0].Product != "2309.10.00" || entries[2].Product != "racao-caes" {
		t.Fatalf("unexpected order: %+v", entries)
	}
	if entries[2].Origin != "SP" || entries[2].Destination != "MG" {
		t.Fatalf("states should be normalised: %+v", entries[2])
	}
}

func TestHolderSwapIsAtomic(t *testing.T) {
	first, _ := NewTable("first", []Entry{{Key: NewKey("a", "SP", "RJ"), Percent: pct("10")}, {Key: NewKey("b", "SP", "RJ"), Percent: pct("10")}})
	second, _ := NewTable("second", []Entry{{Key: NewKey("a", "SP", "RJ"), Percent: pct("20")}, {Key: NewKey("b", "SP", "RJ"), Percent: pct("20")}})
	holder := NewHolder(first)
	if !holder.Loaded() {
		t.Fatal("expected holder to report a loaded snapshot")
	}

	var wg sync.WaitGroup
	errs := make(chan string, 64)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				snap := holder.Load()
				a := snap.Resolve(NewKey("a", "SP", "RJ"))
				b := snap.Resolve(NewKey("b", "SP", "RJ"))
				if !a.Equal(b) {
					errs <- "mixed snapshot observed"
					return
				}
			}
		}()
	}
	for i := 0; i < 200; i++ {
		if i%2 == 0 {
			holder.Swap(second)
		} else {
			holder.Swap(first)
		}
	}
	wg.Wait()
	close(errs)
	for msg := range errs {
		t.Fatal(msg)
	}
}

func TestHolderIgnoresNilSwap(t *testing.T) {
	holder := NewHolder(nil)
	if holder.Loaded() {
		t.Fatal("empty holder should not report loaded")
	}
	prev := holder.Load()
	holder.Swap(nil)
	if holder.Load() != prev {
		t.Fatal("nil swap must keep the current snapshot")
	}
	if !holder.Resolve(NewKey("a", "SP", "RJ")).IsZero() {
		t.Fatal("empty holder should resolve to zero")
	}
}
