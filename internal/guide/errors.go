package guide

import (
	"errors"
	"fmt"
)

// ParseKind classifies a ParseError.
type ParseKind string

const (
	ParseMalformed ParseKind = "malformed"
	ParseEmpty     ParseKind = "empty"
)

// ParseError is returned by Parse when the document cannot produce a Guide.
type ParseError struct {
	Kind ParseKind
	Err  error
}

func (e *ParseError) Error() string {
	if e.Err == nil {
		return "guide: " + string(e.Kind) + " document"
	}
	return fmt.Sprintf("guide: %s document: %v", e.Kind, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// IsParseError reports whether err (or anything it wraps) is a *ParseError.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

func malformed(err error) error { return &ParseError{Kind: ParseMalformed, Err: err} }
