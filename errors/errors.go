// Package errors provides error handling for Kestrel.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - Marking errors with a taxonomy kind that survives wrapping
//
// Usage:
//
//	// Create a kind-specific error
//	err := errors.Mark(errors.Newf("variable %q is not bound", name), errors.ErrUnboundVariable)
//
//	// Wrap with context
//	if err := doSomething(); err != nil {
//	    return errors.Wrap(err, "failed to do something")
//	}
//
//	// Classify
//	if errors.Is(err, errors.ErrUnboundVariable) {
//	    // handle missing variable
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
	Mark         = crdb.Mark
)

// User-facing messages and details
var (
	WithHint           = crdb.WithHint
	WithHintf          = crdb.WithHintf
	WithDetail         = crdb.WithDetail
	WithDetailf        = crdb.WithDetailf
	WithSecondaryError = crdb.WithSecondaryError
	CombineErrors      = crdb.CombineErrors
)

// Error inspection
var (
	Is             = crdb.Is
	IsAny          = crdb.IsAny
	As             = crdb.As
	Unwrap         = crdb.Unwrap
	UnwrapAll      = crdb.UnwrapAll
	GetAllHints    = crdb.GetAllHints
	GetAllDetails  = crdb.GetAllDetails
	FlattenHints   = crdb.FlattenHints
	FlattenDetails = crdb.FlattenDetails
)

// GetStack is an alias for GetReportableStackTrace for convenience.
var GetStack = crdb.GetReportableStackTrace

// Hunt-flow error taxonomy. Every failure surfaced by the interpreter is
// marked with exactly one of these; use errors.Is() to classify.
var (
	ErrSyntax               = New("syntax error")
	ErrUnboundVariable      = New("unbound variable")
	ErrSchemaMismatch       = New("schema mismatch")
	ErrJoinKeyNotFound      = New("join key not found")
	ErrSortKeyNotFound      = New("sort key not found")
	ErrAggregateKeyNotFound = New("aggregate key not found")
	ErrLiteralParse         = New("literal parse error")
	ErrDumpFormat           = New("dump format error")
	ErrIOWrite              = New("io write error")
	ErrAnalyticsInvocation  = New("analytics invocation error")
	ErrDataSource           = New("data source error")
	ErrEmptyInput           = New("empty input variable")
)

// kinds is ordered so that the most specific kind wins when an error
// carries several marks (e.g. a data source error that wraps an IO error).
var kinds = []struct {
	name string
	ref  error
}{
	{"SyntaxError", ErrSyntax},
	{"UnboundVariableError", ErrUnboundVariable},
	{"SchemaMismatchError", ErrSchemaMismatch},
	{"JoinKeyNotFoundError", ErrJoinKeyNotFound},
	{"SortKeyNotFoundError", ErrSortKeyNotFound},
	{"AggregateKeyNotFoundError", ErrAggregateKeyNotFound},
	{"LiteralParseError", ErrLiteralParse},
	{"DumpFormatError", ErrDumpFormat},
	{"AnalyticsInvocationError", ErrAnalyticsInvocation},
	{"DataSourceError", ErrDataSource},
	{"IOWriteError", ErrIOWrite},
	{"EmptyInputError", ErrEmptyInput},
}

// KindOf returns the taxonomy name of err, or "InternalError" when err
// carries no taxonomy mark. Returns "" for nil.
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if Is(err, k.ref) {
			return k.name
		}
	}
	return "InternalError"
}

// Newk creates a formatted error marked with the given taxonomy kind.
func Newk(kind error, format string, args ...interface{}) error {
	return Mark(crdb.NewWithDepthf(1, format, args...), kind)
}

// Wrapk wraps err with a message and marks it with the given taxonomy kind.
// The collaborator's original message stays in the chain.
func Wrapk(err error, kind error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return Mark(crdb.WrapWithDepthf(1, err, format, args...), kind)
}
