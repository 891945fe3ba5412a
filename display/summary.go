package display

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/pterm/pterm"

	"github.com/teranos/kestrel/errors"
)

// StepSummary records one executed statement
type StepSummary struct {
	Index    int           `json:"index"`
	Line     int           `json:"line"`
	Command  string        `json:"command"`
	Target   string        `json:"target,omitempty"`
	Records  int           `json:"records"`
	Duration time.Duration `json:"duration_ns"`
}

// Summary is the execution summary of one script run
type Summary struct {
	Steps        []StepSummary `json:"steps"`
	NewVariables []string      `json:"new_variables"`
	Duration     time.Duration `json:"duration_ns"`
}

func (s *Summary) Render(w io.Writer) error {
	data := pterm.TableData{{"#", "line", "command", "variable", "records", "time"}}
	for _, st := range s.Steps {
		data = append(data, []string{
			strconv.Itoa(st.Index + 1),
			strconv.Itoa(st.Line),
			st.Command,
			st.Target,
			strconv.Itoa(st.Records),
			st.Duration.Round(time.Millisecond).String(),
		})
	}
	out, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return errors.Wrap(err, "failed to render execution summary")
	}
	if _, err := fmt.Fprintln(w, out); err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s %d statements, %d new variables, %s\n",
		pterm.Green("done:"), len(s.Steps), len(s.NewVariables), s.Duration.Round(time.Millisecond))
	return err
}

func (s *Summary) Data() interface{} {
	return map[string]interface{}{"summary": s}
}
