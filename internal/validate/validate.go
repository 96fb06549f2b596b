// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package validate collects field-level problems in a configuration and
// reports them together.
package validate

import (
	"cmp"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// FieldError is one rejected setting, addressed by its dotted YAML path.
type FieldError struct {
	Field   string
	Value   any
	Message string
}

func (e FieldError) Error() string {
	return e.Field + ": " + e.Message
}

// Errors is the combined failure returned by Validator.Err.
type Errors []FieldError

func (es Errors) Error() string {
	msgs := make([]string, len(es))
	for i, e := range es {
		msgs[i] = e.Error()
	}
	return "invalid configuration: " + strings.Join(msgs, "; ")
}

// Fields lists the rejected field paths in report order.
func (es Errors) Fields() []string {
	out := make([]string, len(es))
	for i, e := range es {
		out[i] = e.Field
	}
	return out
}

type Validator struct {
	errs Errors
}

func New() *Validator { return &Validator{} }

// Fail records a problem with field.
func (v *Validator) Fail(field, message string, value any) {
	v.errs = append(v.errs, FieldError{Field: field, Value: value, Message: message})
}

// Check records message against field unless ok holds.
func (v *Validator) Check(ok bool, field, message string, value any) {
	if !ok {
		v.Fail(field, message, value)
	}
}

func (v *Validator) IsValid() bool { return len(v.errs) == 0 }

// Err returns nil or an Errors value snapshotting what has been recorded.
func (v *Validator) Err() error {
	if len(v.errs) == 0 {
		return nil
	}
	return slices.Clone(v.errs)
}

// AsErrors extracts the field list from an error returned by Err.
func AsErrors(err error) (Errors, bool) {
	var es Errors
	ok := errors.As(err, &es)
	return es, ok
}

// URL requires an absolute URL with a host and one of schemes.
func (v *Validator) URL(field, value string, schemes ...string) {
	if value == "" {
		v.Fail(field, "is required", value)
		return
	}
	u, err := url.Parse(value)
	switch {
	case err != nil:
		v.Fail(field, "is not a URL", value)
	case u.Host == "":
		v.Fail(field, "has no host", value)
	case !slices.ContainsFunc(schemes, func(s string) bool { return strings.EqualFold(s, u.Scheme) }):
		v.Fail(field, fmt.Sprintf("scheme %q not in %v", u.Scheme, schemes), value)
	}
}

// OptionalURL is URL for settings that may be left empty.
func (v *Validator) OptionalURL(field, value string, schemes ...string) {
	if value != "" {
		v.URL(field, value, schemes...)
	}
}

// Dir requires path to be a directory. With create set a missing directory
// is made instead of rejected.
func (v *Validator) Dir(field, path string, create bool) {
	if path == "" {
		v.Fail(field, "is required", path)
		return
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		v.Fail(field, err.Error(), path)
		return
	}
	info, err := os.Stat(abs)
	switch {
	case err == nil && !info.IsDir():
		v.Fail(field, "is not a directory", path)
	case err == nil:
	case !errors.Is(err, os.ErrNotExist):
		v.Fail(field, err.Error(), path)
	case !create:
		v.Fail(field, "does not exist", path)
	default:
		if err := os.MkdirAll(abs, 0o750); err != nil {
			v.Fail(field, err.Error(), path)
		}
	}
}

func (v *Validator) NotEmpty(field, value string) {
	v.Check(strings.TrimSpace(value) != "", field, "is required", value)
}

func (v *Validator) OneOf(field, value string, allowed ...string) {
	v.Check(slices.Contains(allowed, value), field, fmt.Sprintf("must be one of %v", allowed), value)
}

// Positive requires value > 0.
func Positive[T cmp.Ordered](v *Validator, field string, value T) {
	var zero T
	v.Check(value > zero, field, fmt.Sprintf("must be > 0, got %v", value), value)
}

// NonNegative requires value >= 0.
func NonNegative[T cmp.Ordered](v *Validator, field string, value T) {
	var zero T
	v.Check(value >= zero, field, fmt.Sprintf("must be >= 0, got %v", value), value)
}

// InRange requires lo <= value <= hi.
func InRange[T cmp.Ordered](v *Validator, field string, value, lo, hi T) {
	v.Check(value >= lo && value <= hi, field, fmt.Sprintf("must be within [%v, %v], got %v", lo, hi, value), value)
}
