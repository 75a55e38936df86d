// Package apperr holds the error kinds shared by services and the request
// validator they use.
package apperr

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/clmc/procurement/internal/model"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// ErrForbidden is returned when the caller's role may not perform an action.
var ErrForbidden = errors.New("forbidden")

// FieldError is one failed rule. Field uses the JSON name.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every failed rule of one request.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + ": " + f.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Invalid builds a single-field ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Fields: []FieldError{{Field: field, Message: fmt.Sprintf(format, args...)}}}
}

// Validate is the shared validator with the domain rules registered.
var Validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("role", func(fl validator.FieldLevel) bool {
		return model.Role(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("internal_status", func(fl validator.FieldLevel) bool {
		return slices.Contains(model.InternalStatuses, fl.Field().String())
	})
	_ = v.RegisterValidation("project_status", func(fl validator.FieldLevel) bool {
		return slices.Contains(model.ProjectStatuses, fl.Field().String())
	})
	_ = v.RegisterValidation("tab", func(fl validator.FieldLevel) bool {
		return slices.Contains(model.Tabs, model.Tab(fl.Field().String()))
	})
	_ = v.RegisterValidation("money", func(fl validator.FieldLevel) bool {
		d, err := decimal.NewFromString(strings.TrimSpace(fl.Field().String()))
		return err == nil && !d.IsNegative()
	})
	return v
}

// Struct validates s and converts failures into a *ValidationError.
func Struct(s any) error {
	err := Validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := &ValidationError{}
	for _, fe := range verrs {
		out.Fields = append(out.Fields, FieldError{Field: fieldPath(fe), Message: message(fe)})
	}
	return out
}

// fieldPath drops the top-level struct name from the namespace.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return fe.Field()
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must have at least " + fe.Param() + " entries"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "email":
		return "must be a valid email address"
	case "role", "internal_status", "project_status", "tab":
		return "is not a known " + strings.ReplaceAll(fe.Tag(), "_", " ")
	case "money":
		return "must be a non-negative amount"
	case "oneof":
		return "must be one of " + fe.Param()
	default:
		return "failed " + fe.Tag() + " rule"
	}
}
