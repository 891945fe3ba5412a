package parser

import (
	"fmt"
	"strings"

	"github.com/pterm/pterm"

	"github.com/teranos/kestrel/ast"
	"github.com/teranos/kestrel/errors"
)

// ErrorSeverity indicates the severity level of a parser error
type ErrorSeverity string

const (
	SeverityError   ErrorSeverity = "error"   // Prevents the script from running
	SeverityWarning ErrorSeverity = "warning" // Script runs, but probably not as intended
)

// ErrorKind categorizes parser errors for programmatic handling
type ErrorKind string

const (
	ErrorKindSyntax   ErrorKind = "syntax"   // Malformed statement
	ErrorKindSemantic ErrorKind = "semantic" // Well-formed but invalid (duplicate alias, explicit target on DISP)
	ErrorKindTemporal ErrorKind = "temporal" // Bad timestamp or time range
	ErrorKindLiteral  ErrorKind = "literal"  // Malformed NEW data body
)

// ErrorContext selects how FormatError renders the error
type ErrorContext int

const (
	ErrorContextTerminal ErrorContext = iota // Colored, multi-line
	ErrorContextPlain                        // Single line for logs and JSON output
)

// ParseError represents a structured parser error with source position
type ParseError struct {
	Err         error         // Underlying taxonomy error
	Kind        ErrorKind     // Error category
	Severity    ErrorSeverity // Error severity
	Message     string        // Human-readable message
	Pos         ast.Position  // Where the offending token starts
	Token       string        // Offending token text (optional)
	Line        string        // Source line containing Pos
	Suggestions []string      // Possible fixes
}

// Error implements error interface
func (e *ParseError) Error() string {
	return e.FormatError(ErrorContextPlain)
}

// FormatError generates context-appropriate error message
func (e *ParseError) FormatError(ctx ErrorContext) string {
	if ctx == ErrorContextPlain {
		return e.formatPlainError()
	}
	return e.formatTerminalError()
}

func (e *ParseError) formatPlainError() string {
	msg := fmt.Sprintf("%s: %s", e.Pos, e.Message)
	if len(e.Suggestions) > 0 {
		msg += fmt.Sprintf(" (did you mean %s?)", strings.Join(e.Suggestions, ", "))
	}
	return msg
}

// formatTerminalError creates rich colored error for terminal
func (e *ParseError) formatTerminalError() string {
	var baseMsg string
	switch e.Severity {
	case SeverityWarning:
		baseMsg = pterm.Yellow(e.Message)
	default:
		baseMsg = pterm.Red(e.Message)
	}

	context := fmt.Sprintf("\n\n%s", pterm.LightCyan("Context:"))
	context += fmt.Sprintf("\n  %s %s", pterm.Yellow("Position:"), e.Pos)
	if e.Token != "" {
		context += fmt.Sprintf("\n  %s '%s'", pterm.Yellow("Token:"), e.Token)
	}
	if e.Line != "" {
		context += fmt.Sprintf("\n\n  %s\n  %s%s", e.Line, strings.Repeat(" ", e.Pos.Character), pterm.Red("^"))
	}

	if len(e.Suggestions) > 0 {
		context += fmt.Sprintf("\n\n%s", pterm.Green("Did you mean:"))
		for _, suggestion := range e.Suggestions {
			context += fmt.Sprintf("\n  • %s", suggestion)
		}
	}

	return fmt.Sprintf("%s%s", baseMsg, context)
}

// Unwrap for errors.Is/As compatibility
func (e *ParseError) Unwrap() error {
	return e.Err
}

// NewParseError creates a new ParseError with the given kind and message.
// Literal errors classify as LiteralParseError, everything else as SyntaxError.
func NewParseError(kind ErrorKind, message string) *ParseError {
	err := errors.ErrSyntax
	if kind == ErrorKindLiteral {
		err = errors.ErrLiteralParse
	}
	return &ParseError{
		Err:      err,
		Kind:     kind,
		Severity: SeverityError,
		Message:  message,
	}
}

// WithPosition sets where the error occurred
func (e *ParseError) WithPosition(pos ast.Position) *ParseError {
	e.Pos = pos
	return e
}

// WithToken sets the token that caused the error
func (e *ParseError) WithToken(tok string) *ParseError {
	e.Token = tok
	return e
}

// WithSourceLine attaches the line of source the error points into
func (e *ParseError) WithSourceLine(source string) *ParseError {
	lines := strings.Split(source, "\n")
	if e.Pos.Line >= 1 && e.Pos.Line <= len(lines) {
		e.Line = lines[e.Pos.Line-1]
	}
	return e
}

// WithSuggestion adds a suggestion for fixing the error
func (e *ParseError) WithSuggestion(suggestion string) *ParseError {
	e.Suggestions = append(e.Suggestions, suggestion)
	return e
}

// WithUnderlying keeps the taxonomy mark and attaches cause as detail
func (e *ParseError) WithUnderlying(cause error) *ParseError {
	e.Err = errors.Mark(errors.Wrap(cause, e.Message), e.Err)
	return e
}
