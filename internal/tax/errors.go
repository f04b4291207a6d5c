package tax

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ValidationError reports an out-of-domain input field.
type ValidationError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("tax: invalid %s: %s", e.Field, e.Reason)
}

func nonNegative(field string, value decimal.Decimal) error {
	if value.IsNegative() {
		return &ValidationError{Field: field, Reason: "must not be negative"}
	}
	return nil
}

// prefixField qualifies the field of a ValidationError with the item position.
func prefixField(err error, index int) error {
	if verr, ok := err.(*ValidationError); ok {
		return &ValidationError{Field: fmt.Sprintf("items[%d].%s", index, verr.Field), Reason: verr.Reason}
	}
	return err
}
