package stixquery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/kestrel/ast"
	"github.com/teranos/kestrel/dataset"
	"github.com/teranos/kestrel/errors"
)

type fakeVars map[string]*dataset.Dataset

func (f fakeVars) Resolve(name string) (*dataset.Dataset, error) {
	if d, ok := f[name]; ok {
		return d, nil
	}
	return nil, errors.Newk(errors.ErrUnboundVariable, "variable %q is not bound", name)
}

var now = time.Date(2021, 3, 29, 19, 25, 12, 0, time.UTC)

func TestBuildGetDefaultWindow(t *testing.T) {
	tr := NewTranslator(-300, 300, false)

	p, err := tr.BuildGet(&ast.Get{EntityType: "process", Pattern: "[process:name = 'svc.exe']"}, now, nil)
	require.NoError(t, err)

	assert.Equal(t, "[process:name = 'svc.exe']", p.Body)
	assert.Equal(t, now.Add(-300*time.Second), p.Range.Start)
	assert.Equal(t, now.Add(300*time.Second), p.Range.Stop)
	assert.False(t, p.SupportID)
	assert.Equal(t,
		"[process:name = 'svc.exe'] START t'2021-03-29T19:20:12.000Z' STOP t'2021-03-29T19:30:12.000Z'",
		p.String())
}

func TestBuildGetExplicitWindow(t *testing.T) {
	tr := NewTranslator(-300, 300, true)
	explicit := &ast.TimeRange{Start: now.Add(-time.Hour), Stop: now}

	p, err := tr.BuildGet(&ast.Get{EntityType: "url", Pattern: "[url:value LIKE '%']", Time: explicit}, now, nil)
	require.NoError(t, err)
	assert.Equal(t, *explicit, p.Range)
	assert.True(t, p.SupportID)
}

func TestBuildGetInvalidOffsets(t *testing.T) {
	tr := NewTranslator(300, -300, false)
	_, err := tr.BuildGet(&ast.Get{EntityType: "url", Pattern: "[url:value = 'a']"}, now, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrSyntax))
}

func TestBuildGetVariableReference(t *testing.T) {
	procs := dataset.New("process", []map[string]interface{}{
		{"pid": 4, "name": "a", "first_observed": "2021-03-29T10:00:00Z", "last_observed": "2021-03-29T10:05:00Z"},
		{"pid": 8, "name": "b'c", "first_observed": "2021-03-29T09:00:00Z", "last_observed": "2021-03-29T09:30:00Z"},
		{"pid": 4, "name": "a"},
	})
	vars := fakeVars{"procs": procs}
	tr := NewTranslator(-300, 300, false)

	tests := []struct {
		name string
		body string
		want string
	}{
		{"equals many", "[process:pid = procs.pid]", "[process:pid IN (4, 8)]"},
		{"not equals many", "[process:pid != procs.pid]", "[process:pid NOT IN (4, 8)]"},
		{"in", "[process:name IN procs.name]", "[process:name IN ('a', 'b\\'c')]"},
		{"not in", "[process:name NOT IN procs.name]", "[process:name NOT IN ('a', 'b\\'c')]"},
		{"untouched literal", "[process:name = 'procs.name' AND process:pid = procs.pid]", "[process:name = 'procs.name' AND process:pid IN (4, 8)]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := tr.BuildGet(&ast.Get{EntityType: "process", Pattern: tt.body}, now, vars)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Body)
			// reference event window
			assert.Equal(t, time.Date(2021, 3, 29, 8, 55, 0, 0, time.UTC), p.Range.Start)
			assert.Equal(t, time.Date(2021, 3, 29, 10, 10, 0, 0, time.UTC), p.Range.Stop)
		})
	}
}

func TestBuildGetReferenceErrors(t *testing.T) {
	vars := fakeVars{
		"procs": dataset.New("process", []map[string]interface{}{{"pid": 1}}),
		"empty": dataset.New("process", []map[string]interface{}{{"pid": nil, "name": "x"}}),
	}
	tr := NewTranslator(-300, 300, false)

	tests := []struct {
		body string
		kind error
	}{
		{"[process:pid = nope.pid]", errors.ErrUnboundVariable},
		{"[process:pid = procs.ppid]", errors.ErrSchemaMismatch},
		{"[process:pid = empty.pid]", errors.ErrEmptyInput},
	}
	for _, tt := range tests {
		t.Run(tt.body, func(t *testing.T) {
			_, err := tr.BuildGet(&ast.Get{EntityType: "process", Pattern: tt.body}, now, vars)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.kind), "got %v", err)
		})
	}
}

func TestBuildFind(t *testing.T) {
	tr := NewTranslator(-300, 300, false)
	src := dataset.New("process", []map[string]interface{}{{"pid": 1}})

	req := tr.BuildFind(&ast.Find{EntityType: "network-traffic", Relation: "created", Input: "p"}, src)
	assert.Nil(t, req.Range, "FIND without START/STOP is unbounded")
	assert.Equal(t, "created", req.Relation)
	assert.Same(t, src, req.Source)
}

func TestPatternStringMultipleObservations(t *testing.T) {
	p := Pattern{Body: "[a:x = 1] OR [a:y = 2]", Range: ast.TimeRange{Start: now, Stop: now.Add(time.Second)}}
	assert.Equal(t, "([a:x = 1] OR [a:y = 2]) START t'2021-03-29T19:25:12.000Z' STOP t'2021-03-29T19:25:13.000Z'", p.String())
}

func TestMatcher(t *testing.T) {
	conn := dataset.New("network-traffic", []map[string]interface{}{{
		"src_ref":        map[string]interface{}{"value": "192.168.1.5"},
		"dst_ref":        map[string]interface{}{"value": "8.8.8.8"},
		"dst_port":       53,
		"protocols":      []interface{}{"udp", "dns"},
		"first_observed": "2021-03-29T19:25:12Z",
	}}).Records[0]

	tests := []struct {
		body string
		want bool
	}{
		{"[network-traffic:dst_port = 53]", true},
		{"[network-traffic:dst_port > 0]", true},
		{"[network-traffic:dst_port <= 52]", false},
		{"[network-traffic:dst_port != 53]", false},
		{"[network-traffic:dst_port IN (80, 443)]", false},
		{"[network-traffic:dst_port NOT IN (80, 443)]", true},
		{"[network-traffic:dst_ref.value ISSUBSET '8.8.0.0/16']", true},
		{"[network-traffic:src_ref.value NOT ISSUBSET '192.168.1.0/24']", false},
		{"[network-traffic:dst_port = 53 AND network-traffic:dst_ref.value NOT ISSUBSET '192.168.1.0/24']", true},
		{"[network-traffic:src_ref.value LIKE '192.168.%']", true},
		{"[network-traffic:src_ref.value LIKE '192_168%']", true},
		{"[network-traffic:dst_ref.value MATCHES '^8\\\\.8']", true},
		{"[network-traffic:protocols[*] = 'dns']", true},
		{"[network-traffic:protocols[0] = 'dns']", false},
		{"[network-traffic:first_observed > t'2021-03-29T19:00:00Z']", true},
		{"[network-traffic:missing = 1]", false},
		{"[network-traffic:missing != 1]", false},
		{"[process:pid = 53]", false},
		{"[process:pid = 53] OR [network-traffic:dst_port = 53]", true},
		{"([process:pid = 1] OR [network-traffic:dst_port = 1]) AND [network-traffic:dst_port = 53]", false},
		{"[(network-traffic:dst_port = 1 OR network-traffic:dst_port = 53) AND network-traffic:src_ref.value = '192.168.1.5']", true},
	}

	for _, tt := range tests {
		t.Run(tt.body, func(t *testing.T) {
			m, err := Compile(tt.body)
			require.NoError(t, err)
			assert.Equal(t, tt.want, m.Match("network-traffic", conn))
		})
	}
}

func TestMatcherFilter(t *testing.T) {
	d := dataset.New("process", []map[string]interface{}{
		{"pid": 1, "name": "a"}, {"pid": 2, "name": "b"}, {"pid": 3, "name": "a"},
	})
	m, err := Compile("[process:name = 'a']")
	require.NoError(t, err)
	assert.Equal(t, 1, m.Observations())

	out := m.Filter(d, "")
	assert.Equal(t, 2, out.Len())
	assert.Equal(t, "process", out.EntityType)
	assert.Equal(t, 3, d.Len())
}

func TestCompileErrors(t *testing.T) {
	for _, body := range []string{
		"[x-other-custom-thing:x_custom_prop IN ('a', 'b', 'c']",
		"process:pid = 1",
		"[process:pid ~ 1]",
		"[process:pid = procs.pid]",
		"[process:name = 'abc]",
		"[process:pid = 1] garbage",
	} {
		t.Run(body, func(t *testing.T) {
			_, err := Compile(body)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrSyntax))
		})
	}
}

func TestLiteral(t *testing.T) {
	assert.Equal(t, "'it\\'s'", Literal("it's"))
	assert.Equal(t, "42", Literal(int64(42)))
	assert.Equal(t, "0.5", Literal(0.5))
	assert.Equal(t, "true", Literal(true))
	assert.Equal(t, "7", Literal(7))
}

func TestInRange(t *testing.T) {
	tr := ast.TimeRange{Start: now, Stop: now.Add(time.Minute)}
	rec := func(m map[string]interface{}) dataset.Record { return dataset.New("x", []map[string]interface{}{m}).Records[0] }

	assert.True(t, InRange(rec(map[string]interface{}{"pid": 1}), tr), "no times")
	assert.True(t, InRange(rec(map[string]interface{}{"first_observed": "2021-03-29T19:25:30Z"}), tr))
	assert.False(t, InRange(rec(map[string]interface{}{"first_observed": "2021-03-29T19:27:30Z"}), tr))
	assert.True(t, InRange(rec(map[string]interface{}{
		"first_observed": "2021-03-29T19:00:00Z",
		"last_observed":  "2021-03-29T19:25:30Z",
	}), tr), "overlap")
	assert.False(t, InRange(rec(map[string]interface{}{"last_observed": "2021-03-29T19:00:00Z"}), tr))
}
