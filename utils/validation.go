package utils

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	validate  *validator.Validate
	caseIDRex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:-]{0,127}$`)
)

func init() {
	validate = validator.New()
	validate.RegisterTagNameFunc(jsonFieldName)
	RegisterCustomValidations()
}

// FieldError describes a single rejected field
type FieldError struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// ValidateStruct validates a struct using validation tags
func ValidateStruct(s interface{}) error {
	if err := validate.Struct(s); err != nil {
		return err
	}
	return nil
}

// FieldErrors flattens a validator error into a field-level list. Errors
// that did not come from the validator are reported against an empty field.
func FieldErrors(err error) []FieldError {
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []FieldError{{Rule: "invalid", Message: err.Error()}}
	}

	out := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Namespace()
		// Drop the top-level struct name, keep the json path below it
		if i := strings.Index(field, "."); i >= 0 {
			field = field[i+1:]
		}
		out = append(out, FieldError{
			Field:   field,
			Rule:    fe.Tag(),
			Message: describe(fe),
		})
	}
	return out
}

// RegisterStringValidation registers a custom rule evaluated on string values
func RegisterStringValidation(tag string, fn func(string) bool) {
	if err := validate.RegisterValidation(tag, func(fl validator.FieldLevel) bool {
		return fn(fl.Field().String())
	}); err != nil {
		panic(fmt.Sprintf("register validation %q: %v", tag, err))
	}
}

// IsValidCaseID checks if a string can be used as a case identifier
func IsValidCaseID(id string) bool {
	return caseIDRex.MatchString(id)
}

// RegisterCustomValidations registers custom validation functions
func RegisterCustomValidations() {
	RegisterCaseIDValidation(validate)
}

// RegisterCaseIDValidation adds the case_id rule to v, e.g. to the validator
// gin binds requests with
func RegisterCaseIDValidation(v *validator.Validate) {
	if err := v.RegisterValidation("case_id", func(fl validator.FieldLevel) bool {
		return IsValidCaseID(fl.Field().String())
	}); err != nil {
		panic(fmt.Sprintf("register validation %q: %v", "case_id", err))
	}
}

// UseJSONFieldNames makes v report fields by their json names, e.g. for the
// validator gin binds requests with
func UseJSONFieldNames(v *validator.Validate) {
	v.RegisterTagNameFunc(jsonFieldName)
}

func jsonFieldName(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	if name == "" {
		return fld.Name
	}
	return name
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	case "min":
		return "must have at least " + fe.Param() + " characters"
	case "max":
		return "must have at most " + fe.Param() + " characters"
	case "case_id":
		return "is not a valid case id"
	default:
		return "failed rule " + fe.Tag()
	}
}
