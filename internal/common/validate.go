package common

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	validator "github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// NewValidator returns a validator that reports fields by their JSON names.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	if err := v.RegisterValidation("decimal", validDecimal); err != nil {
		panic(fmt.Errorf("register decimal validation: %w", err))
	}
	return v
}

func validDecimal(fl validator.FieldLevel) bool {
	if fl.Field().Kind() != reflect.String {
		return false
	}
	_, err := decimal.NewFromString(strings.TrimSpace(fl.Field().String()))
	return err == nil
}

// ValidateStruct runs v against dst and converts the first failure into a 422 AppError.
func ValidateStruct(v *validator.Validate, dst any) error {
	if v == nil {
		return nil
	}
	err := v.Struct(dst)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return ValidationFailed(fieldPath(fe.Namespace()), describe(fe), err)
	}
	return NewAppError("BAD_REQUEST", "invalid payload", http.StatusBadRequest, err)
}

// fieldPath drops the root struct name from a validator namespace ("quoteRequest.items[0].netValue").
func fieldPath(ns string) string {
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "len":
		return fmt.Sprintf("must have length %s", fe.Param())
	case "uf":
		return "must be a Brazilian state code"
	case "decimal":
		return "must be a decimal number"
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}
