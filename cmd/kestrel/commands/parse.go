package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/kestrel/am"
	"github.com/teranos/kestrel/ast"
	"github.com/teranos/kestrel/display"
	"github.com/teranos/kestrel/errors"
	"github.com/teranos/kestrel/parser"
)

// ParseCmd prints the statements of a hunt flow without executing it
var ParseCmd = &cobra.Command{
	Use:   "parse <script|->",
	Short: "Print the statements of a hunt flow as JSON",
	Long: `Parse a hunt flow and print one JSON object per statement: its target
variable, command name, source range and command fields. Use - to read
from stdin.`,
	Args: cobra.ExactArgs(1),
	RunE: runParse,
}

var parseCompact bool

func init() {
	ParseCmd.Flags().BoolVar(&parseCompact, "compact", false, "Single-line JSON")
}

type parsedStatement struct {
	Target   string      `json:"target,omitempty"`
	Explicit bool        `json:"explicit"`
	Command  string      `json:"command"`
	Range    ast.Range   `json:"range"`
	Source   string      `json:"source"`
	Fields   ast.Command `json:"fields"`
}

func runParse(cmd *cobra.Command, args []string) error {
	src, err := readScript(cmd.InOrStdin(), args[0])
	if err != nil {
		return err
	}
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}

	stmts, err := parser.Parse(src, parser.WithDefaultVariable(cfg.GetDefaultVariable()))
	if err != nil {
		return err
	}
	out := make([]parsedStatement, len(stmts))
	for i, s := range stmts {
		out[i] = parsedStatement{
			Target:   s.Target,
			Explicit: s.Explicit,
			Command:  s.Command.Name(),
			Range:    s.Range,
			Source:   s.Source,
			Fields:   s.Command,
		}
	}
	data, err := display.MarshalJSON(out, parseCompact)
	if err != nil {
		return errors.Wrap(err, "failed to encode statements")
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return err
}

func readScript(stdin io.Reader, path string) (string, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", errors.Wrapf(err, "failed to read script %s", path)
	}
	return string(data), nil
}
