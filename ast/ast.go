// Package ast defines the hunt-flow statement and command model.
//
// A script parses into an ordered []Statement. Each statement binds the
// result of exactly one Command to a target variable. Command is a closed
// set: only the types in this package implement it.
package ast

import (
	"encoding/json"
	"time"
)

// Statement is one unit of a script: an optional target and one command.
type Statement struct {
	// Target is the variable the result binds to; the configured default
	// variable when the script did not name one. Empty for commands that
	// produce no dataset (DISP, INFO, SAVE).
	Target string
	// Explicit is true when the script named Target.
	Explicit bool
	Command  Command
	Range    Range
	// Source is the statement text as written, used in error reports.
	Source string
}

// Command is implemented by every command variant.
type Command interface {
	// Name is the lower-case command keyword.
	Name() string
	isCommand()
}

// TimeRange is an absolute UTC window. Start is strictly before Stop.
type TimeRange struct {
	Start time.Time `json:"start"`
	Stop  time.Time `json:"stop"`
}

// Get retrieves entities of EntityType matching Pattern.
type Get struct {
	EntityType string `json:"type"`
	// From is the datasource reference or a bound variable name; empty
	// when the FROM clause was omitted.
	From    string     `json:"from,omitempty"`
	Pattern string     `json:"pattern"`
	Time    *TimeRange `json:"time,omitempty"`
}

// Find traverses Relation from the entities bound to Input.
type Find struct {
	EntityType string     `json:"type"`
	Relation   string     `json:"relation"`
	Reversed   bool       `json:"reversed"`
	Input      string     `json:"input"`
	Time       *TimeRange `json:"time,omitempty"`
}

// Disp renders a variable. Limit 0 means no limit.
type Disp struct {
	Input  string   `json:"input"`
	Attrs  []string `json:"attrs,omitempty"`
	Limit  int      `json:"limit,omitempty"`
	Offset int      `json:"offset,omitempty"`
}

// Info reports schema and row count of a variable.
type Info struct {
	Input string `json:"input"`
}

// Apply invokes an external analytics over one or more variables.
type Apply struct {
	Analytics string   `json:"analytics"`
	Inputs    []string `json:"inputs"`
	// Params is nil when no WITH clause was given.
	Params Params `json:"params,omitempty"`
}

// Join equi-joins two variables. Keys are empty when BY was omitted.
type Join struct {
	Left     string `json:"left"`
	Right    string `json:"right"`
	LeftKey  string `json:"left_key,omitempty"`
	RightKey string `json:"right_key,omitempty"`
}

// SortOrder of a SORT command; OrderDefault defers to configuration.
type SortOrder string

const (
	OrderDefault SortOrder = ""
	OrderAsc     SortOrder = "asc"
	OrderDesc    SortOrder = "desc"
)

// Sort stably reorders a variable by Key.
type Sort struct {
	Input string    `json:"input"`
	Key   string    `json:"key"`
	Order SortOrder `json:"order,omitempty"`
}

// Group groups a variable by Keys and computes Aggregates per group.
type Group struct {
	Input      string          `json:"input"`
	Keys       []string        `json:"keys"`
	Aggregates []AggregateSpec `json:"aggregates,omitempty"`
}

// Load imports an external dump.
type Load struct {
	Path       string `json:"path"`
	EntityType string `json:"type,omitempty"`
}

// Save exports a variable to an external dump.
type Save struct {
	Input string `json:"input"`
	Path  string `json:"path"`
}

// New constructs a dataset from literal records.
type New struct {
	EntityType string  `json:"type,omitempty"`
	Data       Literal `json:"data"`
}

// Merge is the row-wise union of Inputs. A single input copies it.
type Merge struct {
	Inputs []string `json:"inputs"`
}

func (*Get) Name() string   { return "get" }
func (*Find) Name() string  { return "find" }
func (*Disp) Name() string  { return "disp" }
func (*Info) Name() string  { return "info" }
func (*Apply) Name() string { return "apply" }
func (*Join) Name() string  { return "join" }
func (*Sort) Name() string  { return "sort" }
func (*Group) Name() string { return "group" }
func (*Load) Name() string  { return "load" }
func (*Save) Name() string  { return "save" }
func (*New) Name() string   { return "new" }
func (*Merge) Name() string { return "merge" }

func (*Get) isCommand()   {}
func (*Find) isCommand()  {}
func (*Disp) isCommand()  {}
func (*Info) isCommand()  {}
func (*Apply) isCommand() {}
func (*Join) isCommand()  {}
func (*Sort) isCommand()  {}
func (*Group) isCommand() {}
func (*Load) isCommand()  {}
func (*Save) isCommand()  {}
func (*New) isCommand()   {}
func (*Merge) isCommand() {}

// ProducesDataset reports whether cmd binds a result to its statement target.
func ProducesDataset(cmd Command) bool {
	switch cmd.(type) {
	case *Disp, *Info, *Save:
		return false
	}
	return true
}

// Inputs returns the variable names cmd reads, in script order.
// GET's From is not included: whether it names a variable is decided at
// execution time.
func Inputs(cmd Command) []string {
	switch c := cmd.(type) {
	case *Find:
		return []string{c.Input}
	case *Disp:
		return []string{c.Input}
	case *Info:
		return []string{c.Input}
	case *Apply:
		return append([]string(nil), c.Inputs...)
	case *Join:
		return []string{c.Left, c.Right}
	case *Sort:
		return []string{c.Input}
	case *Group:
		return []string{c.Input}
	case *Save:
		return []string{c.Input}
	case *Merge:
		return append([]string(nil), c.Inputs...)
	}
	return nil
}

// MarshalJSON renders the statement as {"target", "command", "args"}.
func (s Statement) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Target  string  `json:"target,omitempty"`
		Command string  `json:"command"`
		Args    Command `json:"args"`
		Range   Range   `json:"range"`
	}{s.Target, s.Command.Name(), s.Command, s.Range})
}
