package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kballard/go-shellquote"
	"go.uber.org/zap"

	"github.com/teranos/kestrel/ast"
	"github.com/teranos/kestrel/dataset"
	"github.com/teranos/kestrel/errors"
	"github.com/teranos/kestrel/logger"
)

// Environment handed to exec:// programs
const (
	EnvParams = "KESTREL_ANALYTICS_PARAMS" // JSON object of the WITH clause
	EnvTypes  = "KESTREL_ANALYTICS_TYPES"  // comma-separated entity types of the inputs
)

// Exec runs exec://<command line>. The command line is split like a shell
// would; each input is written as a JSON record list to a file under
// WorkDir and its path is appended as an argument. The program prints
// either a JSON record list (replacing the first input) or
// {"outputs": [[...], ...], "display": "..."} on stdout.
type Exec struct {
	WorkDir string
	logger  *zap.SugaredLogger
}

// NewExec creates exec:// analytics writing inputs under workDir
func NewExec(workDir string, log *zap.SugaredLogger) *Exec {
	return &Exec{WorkDir: workDir, logger: logger.OrNop(log).Named("exec")}
}

// Invoke implements Analytics
func (e *Exec) Invoke(ctx context.Context, ref string, inputs []*dataset.Dataset, params ast.Params) (*Result, error) {
	line := ref
	if i := strings.Index(ref, "://"); i >= 0 {
		line = ref[i+3:]
	}
	argv, err := shellquote.Split(line)
	if err != nil {
		return nil, errors.Wrapk(err, errors.ErrAnalyticsInvocation, "cannot parse analytics command %q", line)
	}
	if len(argv) == 0 {
		return nil, errors.Newk(errors.ErrAnalyticsInvocation, "analytics %s names no program", ref)
	}

	dir, err := os.MkdirTemp(e.WorkDir, "analytics-")
	if err != nil {
		return nil, errors.Wrapk(err, errors.ErrAnalyticsInvocation, "cannot create analytics input directory")
	}
	defer os.RemoveAll(dir)

	types := make([]string, len(inputs))
	for i, in := range inputs {
		data, err := json.Marshal(in.Maps())
		if err != nil {
			return nil, errors.Wrapk(err, errors.ErrAnalyticsInvocation, "cannot encode input %d", i)
		}
		path := filepath.Join(dir, "input-"+strconv.Itoa(i)+".json")
		if err := os.WriteFile(path, data, 0600); err != nil {
			return nil, errors.Wrapk(err, errors.ErrAnalyticsInvocation, "cannot write input %d", i)
		}
		argv = append(argv, path)
		types[i] = in.EntityType
	}

	paramsJSON := []byte("{}")
	if params != nil {
		if paramsJSON, err = json.Marshal(params); err != nil {
			return nil, errors.Wrapk(err, errors.ErrAnalyticsInvocation, "cannot encode parameters")
		}
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(),
		EnvParams+"="+string(paramsJSON),
		EnvTypes+"="+strings.Join(types, ","),
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	e.logger.Debugw("running analytics program", "argv", argv)
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = "no output on stderr"
		}
		return nil, errors.Wrapk(err, errors.ErrAnalyticsInvocation, "analytics %s failed: %s", argv[0], msg)
	}
	return decodeOutput(stdout.Bytes(), inputs)
}

type execOutput struct {
	Outputs []json.RawMessage `json:"outputs"`
	Display string            `json:"display"`
}

func decodeOutput(out []byte, inputs []*dataset.Dataset) (*Result, error) {
	trimmed := bytes.TrimSpace(out)
	if len(trimmed) == 0 {
		return &Result{}, nil
	}

	var raw []json.RawMessage
	res := &Result{}
	if trimmed[0] == '[' {
		raw = []json.RawMessage{trimmed}
	} else {
		var eo execOutput
		if err := json.Unmarshal(trimmed, &eo); err != nil {
			return nil, errors.Wrapk(err, errors.ErrAnalyticsInvocation, "analytics output is not JSON")
		}
		raw, res.Display = eo.Outputs, eo.Display
	}

	for i, r := range raw {
		if i >= len(inputs) {
			return nil, errors.Newk(errors.ErrAnalyticsInvocation, "analytics returned %d outputs for %d inputs", len(raw), len(inputs))
		}
		dec := json.NewDecoder(bytes.NewReader(r))
		dec.UseNumber()
		var records []map[string]interface{}
		if err := dec.Decode(&records); err != nil {
			return nil, errors.Wrapk(err, errors.ErrAnalyticsInvocation, "analytics output %d is not a record list", i)
		}
		res.Outputs = append(res.Outputs, dataset.New(inputs[i].EntityType, records))
	}
	return res, nil
}
