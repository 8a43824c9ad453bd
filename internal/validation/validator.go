// AbuseGuard - Request Abuse Detection and Mitigation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/abuseguard

package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"
)

// MaxClientKeyLength bounds client keys accepted by the admin API.
const MaxClientKeyLength = 256

// CodeValidation is the error code of every validation failure body.
const CodeValidation = "VALIDATION_ERROR"

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// instance returns the shared validator. Struct metadata is cached on it,
// so all callers go through the same one.
func instance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(fieldName)

		// Registration only fails on empty tags or nil funcs.
		_ = validate.RegisterValidation("client_key", validateClientKey) //nolint:errcheck
		_ = validate.RegisterValidation("duration", validateDuration)    //nolint:errcheck
	})
	return validate
}

// fieldName reports fields by the name operators see: the JSON key for
// request bodies, the koanf key for configuration.
func fieldName(f reflect.StructField) string {
	for _, tag := range []string{"json", "koanf"} {
		name, _, _ := strings.Cut(f.Tag.Get(tag), ",")
		if name == "-" {
			return ""
		}
		if name != "" {
			return name
		}
	}
	return f.Name
}

func validateClientKey(fl validator.FieldLevel) bool {
	key := fl.Field().String()
	if key == "" || len(key) > MaxClientKeyLength {
		return false
	}
	for _, r := range key {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return false
		}
	}
	return true
}

func validateDuration(fl validator.FieldLevel) bool {
	d, err := time.ParseDuration(fl.Field().String())
	return err == nil && d > 0
}

// FieldError is one failed constraint.
type FieldError struct {
	Field   string      `json:"field"`
	Tag     string      `json:"tag"`
	Value   interface{} `json:"value,omitempty"`
	Message string      `json:"message"`
}

// Error collects the failed constraints of one struct.
type Error struct {
	Fields []FieldError
}

func (e *Error) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = f.Message
	}
	return strings.Join(msgs, "; ")
}

// APIError mirrors the api package's error body without importing it.
type APIError struct {
	Code    string
	Message string
	Details map[string]interface{}
}

// ToAPIError converts e to a VALIDATION_ERROR body. A single failure
// reports its field and tag; several are listed under "fields".
func (e *Error) ToAPIError() *APIError {
	switch len(e.Fields) {
	case 0:
		return &APIError{Code: CodeValidation, Message: "Validation failed"}
	case 1:
		f := e.Fields[0]
		return &APIError{
			Code:    CodeValidation,
			Message: f.Message,
			Details: map[string]interface{}{"field": f.Field, "tag": f.Tag, "value": f.Value},
		}
	}
	return &APIError{
		Code:    CodeValidation,
		Message: e.Error(),
		Details: map[string]interface{}{"fields": e.Fields},
	}
}

// ValidateStruct checks s against its validate tags and returns nil or the
// failed constraints.
//
//	if verr := validation.ValidateStruct(&cfg); verr != nil {
//	    return fmt.Errorf("invalid engine config: %w", verr)
//	}
func ValidateStruct(s interface{}) *Error {
	err := instance().Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return &Error{Fields: []FieldError{{Field: "unknown", Tag: "unknown", Message: err.Error()}}}
	}

	out := &Error{Fields: make([]FieldError, len(fieldErrs))}
	for i, fe := range fieldErrs {
		out.Fields[i] = FieldError{
			Field:   fe.Field(),
			Tag:     fe.Tag(),
			Value:   fe.Value(),
			Message: message(fe),
		}
	}
	return out
}

var messages = map[string]string{
	"required":      "%s is required",
	"client_key":    "%s must be a client address or key without whitespace",
	"duration":      "%s must be a positive duration such as 30m or 1h",
	"ip":            "%s must be an IP address",
	"cidr":          "%s must be a CIDR range",
	"url":           "%s must be a URL",
	"hostname_port": "%s must be a host:port address",
}

func message(fe validator.FieldError) string {
	field, param := fe.Field(), fe.Param()
	if tmpl, ok := messages[fe.Tag()]; ok {
		return fmt.Sprintf(tmpl, field)
	}

	unit := ""
	if fe.Kind() == reflect.String {
		unit = " characters"
	}
	switch fe.Tag() {
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, param)
	case "min", "gte":
		return fmt.Sprintf("%s must be at least %s%s", field, param, unit)
	case "max", "lte":
		return fmt.Sprintf("%s must be at most %s%s", field, param, unit)
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, param)
	case "lt":
		return fmt.Sprintf("%s must be less than %s", field, param)
	}
	return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
}
