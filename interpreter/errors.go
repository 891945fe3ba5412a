package interpreter

import (
	"fmt"
	"strings"

	"github.com/teranos/kestrel/ast"
	"github.com/teranos/kestrel/errors"
)

// StatementError reports the failure of one statement: the error kind,
// where the statement is in the script, and the underlying message.
type StatementError struct {
	// Index is the 0-based position of the statement in the script
	Index   int
	Range   ast.Range
	Command string
	Source  string
	Err     error
}

func (e *StatementError) Error() string {
	return fmt.Sprintf("%s at %s (statement %d, %s): %v",
		e.Kind(), e.Range.Start, e.Index+1, strings.ToUpper(e.Command), e.Err)
}

func (e *StatementError) Unwrap() error {
	return e.Err
}

// Kind is the taxonomy name of the underlying error
func (e *StatementError) Kind() string {
	return errors.KindOf(e.Err)
}
