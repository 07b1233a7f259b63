package graph

import (
	"errors"
	"fmt"
)

// UnknownAttributeError reports a filter or resource attribute with no
// Microsoft Graph mapping.
type UnknownAttributeError struct {
	Path string
}

func (e *UnknownAttributeError) Error() string {
	return fmt.Sprintf("no directory mapping for attribute %q", e.Path)
}

// TypeMismatchError reports a filter literal that cannot be coerced to the
// mapped field's value type.
type TypeMismatchError struct {
	Attr string
	Want ValueType
	Got  string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("attribute %q expects a %s value, got %s", e.Attr, e.Want, e.Got)
}

// UnsupportedOperatorError reports an operator that cannot be applied to the
// mapped field in native or client-side form.
type UnsupportedOperatorError struct {
	Op   string
	Attr string
}

func (e *UnsupportedOperatorError) Error() string {
	return fmt.Sprintf("operator %q is not supported for attribute %q", e.Op, e.Attr)
}

// InvalidPaginationError reports out-of-range or non-numeric SCIM pagination
// parameters. Raw carries the query text as sent when it did not parse.
type InvalidPaginationError struct {
	Param string
	Value int
	Raw   string
}

func (e *InvalidPaginationError) Error() string {
	if e.Raw != "" {
		return fmt.Sprintf("invalid pagination parameter %s=%q", e.Param, e.Raw)
	}
	return fmt.Sprintf("invalid pagination parameter %s=%d", e.Param, e.Value)
}

// APIError is a non-2xx response from the Microsoft Graph API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("graph api error (status %d): %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a Graph 404 for a missing directory object.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == 404
}
