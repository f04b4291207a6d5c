package mva

import (
	"fmt"
	"strings"
)

// states lists the 27 Brazilian federative units.
var states = map[string]struct{}{
	"AC": {}, "AL": {}, "AP": {}, "AM": {}, "BA": {}, "CE": {}, "DF": {}, "ES": {}, "GO": {},
	"MA": {}, "MT": {}, "MS": {}, "MG": {}, "PA": {}, "PB": {}, "PR": {}, "PE": {}, "PI": {},
	"RJ": {}, "RN": {}, "RS": {}, "RO": {}, "RR": {}, "SC": {}, "SP": {}, "SE": {}, "TO": {},
}

// ValidState reports whether uf is a Brazilian state code (case-insensitive).
func ValidState(uf string) bool {
	_, ok := states[strings.ToUpper(strings.TrimSpace(uf))]
	return ok
}

// Key identifies an MVA entry. Product holds a product or category identifier
// (e.g. an NCM code or a catalogue category slug).
type Key struct {
	Product     string `json:"product"`
	Origin      string `json:"origin"`
	Destination string `json:"destination"`
}

// NewKey returns a normalised key.
func NewKey(product, origin, destination string) Key {
	return Key{
		Product:     strings.TrimSpace(product),
		Origin:      strings.ToUpper(strings.TrimSpace(origin)),
		Destination: strings.ToUpper(strings.TrimSpace(destination)),
	}
}

// Normalize trims the product and upper-cases both states.
func (k Key) Normalize() Key {
	return NewKey(k.Product, k.Origin, k.Destination)
}

// Validate checks the product is present and both states are known.
func (k Key) Validate() error {
	k = k.Normalize()
	if k.Product == "" {
		return &EntryError{Key: k, Field: "product", Reason: "is required"}
	}
	if !ValidState(k.Origin) {
		return &EntryError{Key: k, Field: "origin", Reason: fmt.Sprintf("unknown state %q", k.Origin)}
	}
	if !ValidState(k.Destination) {
		return &EntryError{Key: k, Field: "destination", Reason: fmt.Sprintf("unknown state %q", k.Destination)}
	}
	return nil
}

func (k Key) String() string {
	return k.Product + "|" + k.Origin + "|" + k.Destination
}

// EntryError reports a malformed MVA configuration entry.
type EntryError struct {
	Key    Key
	Field  string
	Reason string
}

func (e *EntryError) Error() string {
	return fmt.Sprintf("mva: entry %s: %s %s", e.Key, e.Field, e.Reason)
}
