package commands

import (
	"fmt"
	"io"

	"github.com/pterm/pterm"

	"github.com/teranos/kestrel/errors"
	"github.com/teranos/kestrel/interpreter"
	"github.com/teranos/kestrel/parser"
)

// ReportError writes err for a human: parse errors with their source line,
// statement errors with the failing statement, and any hints attached.
func ReportError(w io.Writer, err error) {
	var perr *parser.ParseError
	var serr *interpreter.StatementError
	switch {
	case errors.As(err, &perr):
		fmt.Fprintln(w, perr.FormatError(parser.ErrorContextTerminal))
	case errors.As(err, &serr):
		fmt.Fprintln(w, pterm.Red(serr.Error()))
		if serr.Source != "" {
			fmt.Fprintf(w, "  %s\n", pterm.Gray(serr.Source))
		}
	default:
		fmt.Fprintln(w, pterm.Red(err.Error()))
	}
	for _, hint := range errors.GetAllHints(err) {
		fmt.Fprintf(w, "  %s %s\n", pterm.Cyan("hint:"), hint)
	}
}
