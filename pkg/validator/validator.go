// Package validator wraps go-playground/validator with the request rules the
// tracking API needs and renders failures under their wire names.
package validator

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"unicode"

	"github.com/go-playground/validator/v10"

	"github.com/glavox/glavox-server/pkg/timefmt"
)

// MaxUserIDLength bounds user ids; they appear in URL paths and cache keys.
const MaxUserIDLength = 128

var (
	once     sync.Once
	validate *validator.Validate
)

// ValidationError is one failed rule on one field.
type ValidationError struct {
	Field string `json:"field"`
	Tag   string `json:"tag"`
	Param string `json:"param"`
}

// Message renders the failure for API clients.
func (e ValidationError) Message() string {
	field := e.Field
	if field == "" {
		field = "field"
	}
	switch e.Tag {
	case "required":
		return field + " is required"
	case "email":
		return field + " must be a valid email address"
	case "timestamp":
		return field + " must be an ISO-8601 timestamp or epoch milliseconds"
	case "userid":
		return fmt.Sprintf("%s must be at most %d characters without whitespace, '/', '?' or '#'", field, MaxUserIDLength)
	case "gte":
		return field + " must be at least " + e.Param
	case "max":
		return field + " must be at most " + e.Param + " characters"
	}
	if e.Param != "" {
		return fmt.Sprintf("%s failed validation: %s=%s", field, e.Tag, e.Param)
	}
	return field + " failed validation: " + e.Tag
}

// ValidationErrors collects every failure of one struct.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return "validation failed"
	}
	parts := make([]string, len(v))
	for i, err := range v {
		parts[i] = err.Field + " failed on " + err.Tag
		if err.Param != "" {
			parts[i] += "=" + err.Param
		}
	}
	return strings.Join(parts, "; ")
}

// Messages joins the client facing messages of all failures.
func (v ValidationErrors) Messages() string {
	msgs := make([]string, len(v))
	for i, err := range v {
		msgs[i] = err.Message()
	}
	return strings.Join(msgs, "; ")
}

// ValidateStruct runs the registered rules against s. Rule failures come back
// as ValidationErrors.
func ValidateStruct(s any) error {
	err := instance().Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	failures := make(ValidationErrors, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		failures = append(failures, ValidationError{Field: fe.Field(), Tag: fe.Tag(), Param: fe.Param()})
	}
	return failures
}

// validateTimestamp accepts ISO-8601 instants and unix epoch milliseconds.
// Presence is left to "required".
func validateTimestamp(fl validator.FieldLevel) bool {
	value, ok := stringField(fl)
	if !ok {
		return false
	}
	if value == "" {
		return true
	}
	_, err := timefmt.ParseTimestamp(value)
	return err == nil
}

// validateUserID keeps user ids usable as a single URL path segment.
func validateUserID(fl validator.FieldLevel) bool {
	value, ok := stringField(fl)
	if !ok || len(value) > MaxUserIDLength {
		return false
	}
	for _, r := range value {
		if unicode.IsSpace(r) || unicode.IsControl(r) || strings.ContainsRune("/?#", r) {
			return false
		}
	}
	return true
}

func stringField(fl validator.FieldLevel) (string, bool) {
	field := fl.Field()
	if field.Kind() != reflect.String {
		return "", false
	}
	return strings.TrimSpace(field.String()), true
}

// wireName reports json or form tag names so messages match the payload.
func wireName(fld reflect.StructField) string {
	for _, key := range []string{"json", "form"} {
		name, _, _ := strings.Cut(fld.Tag.Get(key), ",")
		if name != "" && name != "-" {
			return name
		}
	}
	return fld.Name
}

func instance() *validator.Validate {
	once.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(wireName)
		_ = validate.RegisterValidation("timestamp", validateTimestamp)
		_ = validate.RegisterValidation("userid", validateUserID)
	})
	return validate
}
