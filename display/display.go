// Package display renders command output: dataset tables for DISP,
// variable summaries for INFO, analytics text and the execution summary.
package display

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pterm/pterm"

	"github.com/teranos/kestrel/dataset"
	"github.com/teranos/kestrel/errors"
)

// Display is the output of one command
type Display interface {
	// Render writes the terminal form to w
	Render(w io.Writer) error
	// Data returns the JSON form
	Data() interface{}
}

// Table is a rendered slice of a dataset.
type Table struct {
	EntityType string
	Columns    []string
	Rows       []dataset.Record
}

// NewTable takes the rows of d as they will be shown: empty records are
// dropped and duplicate records collapse to their first occurrence.
func NewTable(d *dataset.Dataset) *Table {
	d = d.Compact()
	return &Table{EntityType: d.EntityType, Columns: d.Columns, Rows: d.Records}
}

func (t *Table) Render(w io.Writer) error {
	if len(t.Rows) == 0 {
		_, err := fmt.Fprintf(w, "%s\n", pterm.Gray("no records"))
		return err
	}
	data := pterm.TableData{t.Columns}
	for _, r := range t.Rows {
		row := make([]string, len(t.Columns))
		for i, c := range t.Columns {
			row[i] = Cell(r[c])
		}
		data = append(data, row)
	}
	out, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return errors.Wrap(err, "failed to render table")
	}
	_, err = fmt.Fprintln(w, out)
	return err
}

func (t *Table) Data() interface{} {
	return map[string]interface{}{
		"type":    t.EntityType,
		"columns": t.Columns,
		"data":    t.Rows,
	}
}

// Cell formats one attribute value for a table
func Cell(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case []interface{}:
		parts := make([]string, len(t))
		for i, e := range t {
			parts[i] = Cell(e)
		}
		return strings.Join(parts, ", ")
	}
	if b, err := json.Marshal(v); err == nil {
		return string(b)
	}
	return fmt.Sprint(v)
}

// Entry is one key of a Dict. Value is a string or a []string.
type Entry struct {
	Key   string      `json:"key"`
	Value interface{} `json:"value"`
}

// Dict is an ordered key/value display.
type Dict struct {
	Entries []Entry
}

// Add appends an entry
func (d *Dict) Add(key string, value interface{}) {
	d.Entries = append(d.Entries, Entry{Key: key, Value: value})
}

// Get returns the value of key
func (d *Dict) Get(key string) (interface{}, bool) {
	for _, e := range d.Entries {
		if e.Key == key {
			return e.Value, true
		}
	}
	return nil, false
}

func (d *Dict) Render(w io.Writer) error {
	width := 0
	for _, e := range d.Entries {
		if len(e.Key) > width {
			width = len(e.Key)
		}
	}
	for _, e := range d.Entries {
		key := pterm.LightCyan(fmt.Sprintf("%-*s", width, e.Key))
		switch v := e.Value.(type) {
		case []string:
			if len(v) == 0 {
				if _, err := fmt.Fprintf(w, "%s\n", key); err != nil {
					return err
				}
			}
			for i, line := range v {
				if i > 0 {
					key = strings.Repeat(" ", width)
				}
				if _, err := fmt.Fprintf(w, "%s  %s\n", key, line); err != nil {
					return err
				}
			}
		default:
			if _, err := fmt.Fprintf(w, "%s  %v\n", key, v); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *Dict) Data() interface{} {
	out := make(map[string]interface{}, len(d.Entries))
	for _, e := range d.Entries {
		out[e.Key] = e.Value
	}
	return out
}

// Text is free-form output, such as the display an analytics returns
type Text struct {
	Body string
}

func (t *Text) Render(w io.Writer) error {
	_, err := fmt.Fprintln(w, strings.TrimRight(t.Body, "\n"))
	return err
}

func (t *Text) Data() interface{} {
	return map[string]interface{}{"text": t.Body}
}

// Write renders displays to w, one after another, or as one JSON list
func Write(w io.Writer, displays []Display, asJSON bool) error {
	if asJSON {
		data := make([]interface{}, len(displays))
		for i, d := range displays {
			data[i] = d.Data()
		}
		b, err := MarshalJSON(data, false)
		if err != nil {
			return errors.Wrap(err, "failed to marshal displays")
		}
		_, err = fmt.Fprintln(w, string(b))
		return err
	}
	for _, d := range displays {
		if err := d.Render(w); err != nil {
			return err
		}
	}
	return nil
}
