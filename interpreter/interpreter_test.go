package interpreter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/teranos/kestrel/am"
	"github.com/teranos/kestrel/analytics"
	"github.com/teranos/kestrel/ast"
	"github.com/teranos/kestrel/dataset"
	"github.com/teranos/kestrel/datasource"
	"github.com/teranos/kestrel/display"
	"github.com/teranos/kestrel/dump"
	"github.com/teranos/kestrel/errors"
	"github.com/teranos/kestrel/internal/httpclient"
	"github.com/teranos/kestrel/metrics"
	"github.com/teranos/kestrel/parser"
	"github.com/teranos/kestrel/prefetch"
	"github.com/teranos/kestrel/store"
	"github.com/teranos/kestrel/symtable"
	qtest "github.com/teranos/kestrel/internal/testing"
)

var now = time.Date(2021, 3, 29, 19, 25, 12, 0, time.UTC)

func bundle() []map[string]interface{} {
	return []map[string]interface{}{
		{"type": "process", "id": "process--1", "pid": 4, "name": "svc.exe",
			"opened_connection_refs": []interface{}{"network-traffic--1"},
			"first_observed":         "2021-03-29T19:25:00Z", "last_observed": "2021-03-29T19:25:01Z"},
		{"type": "process", "id": "process--2", "pid": 12, "name": "svc.exe",
			"first_observed": "2021-03-29T19:27:00Z", "last_observed": "2021-03-29T19:27:01Z"},
		// same process three hours earlier, outside the default window
		{"type": "process", "id": "process--3", "pid": 4, "name": "svc.exe", "command_line": "svc.exe -k",
			"first_observed": "2021-03-29T17:00:00Z", "last_observed": "2021-03-29T17:00:01Z"},
		{"type": "process", "id": "process--4", "pid": 8, "name": "cmd.exe",
			"first_observed": "2021-03-29T19:26:00Z", "last_observed": "2021-03-29T19:26:01Z"},
		{"type": "network-traffic", "id": "network-traffic--1", "dst_port": 53,
			"first_observed": "2021-03-29T19:25:00Z", "last_observed": "2021-03-29T19:25:01Z"},
	}
}

// failingStore fails writes of the names in fail
type failingStore struct {
	store.Store
	fail map[string]bool
}

func (f *failingStore) Put(ctx context.Context, e *store.Entry) error {
	if f.fail[e.Name] {
		return errors.Newk(errors.ErrIOWrite, "disk full writing %s", e.Name)
	}
	return f.Store.Put(ctx, e)
}

type fixture struct {
	in      *Interpreter
	source  *datasource.Memory
	store   *failingStore
	metrics *metrics.Collector
	reg     *prometheus.Registry
}

func newFixture(t *testing.T, configure func(*Config)) *fixture {
	t.Helper()
	sqlStore, err := store.NewSQLStore(qtest.CreateTestDB(t), 16, nil)
	require.NoError(t, err)
	fs := &failingStore{Store: sqlStore, fail: map[string]bool{}}

	mem := datasource.NewMemory(bundle())
	sources := datasource.NewRegistry("stixshifter", nil)
	sources.Register("stixshifter", mem)

	reg := prometheus.NewRegistry()
	col, err := metrics.New(reg)
	require.NoError(t, err)

	cfg := ConfigFrom(am.Default())
	if configure != nil {
		configure(&cfg)
	}
	in := New(cfg, Deps{
		Env:     symtable.New(fs, nil),
		Sources: sources,
		Metrics: col,
		WorkDir: t.TempDir(),
		Now:     func() time.Time { return now },
	}, nil)
	return &fixture{in: in, source: mem, store: fs, metrics: col, reg: reg}
}

func (f *fixture) run(t *testing.T, script string) (*Result, error) {
	t.Helper()
	stmts, err := parser.Parse(script)
	require.NoError(t, err)
	return f.in.Run(context.Background(), stmts)
}

func (f *fixture) mustRun(t *testing.T, script string) *Result {
	t.Helper()
	res, err := f.run(t, script)
	require.NoError(t, err)
	return res
}

func (f *fixture) resolve(t *testing.T, name string) *dataset.Dataset {
	t.Helper()
	d, err := f.in.Env().Resolve(context.Background(), name)
	require.NoError(t, err)
	return d
}

func column(d *dataset.Dataset, attr string) []interface{} {
	out := make([]interface{}, len(d.Records))
	for i, r := range d.Records {
		out[i] = r[attr]
	}
	return out
}

func TestDefaultVariableBinding(t *testing.T) {
	f := newFixture(t, nil)
	res := f.mustRun(t, "GET process WHERE [process:name = 'cmd.exe']")

	d := f.resolve(t, "_")
	assert.Equal(t, "process", d.EntityType)
	assert.Equal(t, []interface{}{int64(8)}, column(d, "pid"))
	assert.Equal(t, []string{"_"}, res.NewVariables)
}

func TestGetDefaultWindow(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.PrefetchGet = false })
	f.mustRun(t, "x = GET process WHERE [process:name = 'svc.exe']")

	require.Len(t, f.source.Retrievals, 1)
	assert.Equal(t, now.Add(-300*time.Second), f.source.Retrievals[0].Range.Start)
	assert.Equal(t, now.Add(300*time.Second), f.source.Retrievals[0].Range.Stop)
	assert.Equal(t, []interface{}{"process--1", "process--2"}, column(f.resolve(t, "x"), "id"))
}

func TestGetPrefetch(t *testing.T) {
	t.Run("enabled", func(t *testing.T) {
		f := newFixture(t, nil)
		f.mustRun(t, "x = GET process WHERE [process:name = 'svc.exe']")

		require.Len(t, f.source.Retrievals, 3)
		nameChange, lifespan := f.source.Retrievals[1], f.source.Retrievals[2]
		assert.Equal(t, time.Date(2021, 3, 29, 19, 24, 55, 0, time.UTC), nameChange.Range.Start)
		assert.Equal(t, time.Date(2021, 3, 29, 19, 27, 6, 0, time.UTC), nameChange.Range.Stop)
		assert.Equal(t, time.Date(2021, 3, 29, 16, 25, 0, 0, time.UTC), lifespan.Range.Start)
		assert.Equal(t, time.Date(2021, 3, 29, 22, 27, 1, 0, time.UTC), lifespan.Range.Stop)

		assert.Equal(t, []interface{}{"process--1", "process--2", "process--3"}, column(f.resolve(t, "x"), "id"))
		require.NoError(t, testutil.GatherAndCompare(f.reg, strings.NewReader(`
# HELP kestrel_datasource_queries_total Data source calls by scheme and kind (retrieve, traverse, prefetch).
# TYPE kestrel_datasource_queries_total counter
kestrel_datasource_queries_total{kind="prefetch",scheme="stixshifter"} 2
kestrel_datasource_queries_total{kind="retrieve",scheme="stixshifter"} 1
`), "kestrel_datasource_queries_total"))
	})

	t.Run("disabled", func(t *testing.T) {
		f := newFixture(t, func(c *Config) { c.PrefetchGet = false })
		f.mustRun(t, "x = GET process WHERE [process:name = 'svc.exe']")
		require.Len(t, f.source.Retrievals, 1)
		assert.Equal(t, 2, f.resolve(t, "x").Len())
	})

	t.Run("zero-width lifespan", func(t *testing.T) {
		f := newFixture(t, func(c *Config) { c.Prefetch.Lifespan = prefetch.Offsets{} })
		f.mustRun(t, "x = GET process WHERE [process:name = 'svc.exe']")
		require.Len(t, f.source.Retrievals, 2)
		assert.Equal(t, 2, f.resolve(t, "x").Len())
	})
}

func TestGetDatasourceSelection(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.PrefetchGet = false })
	other := datasource.NewMemory(nil)
	f.in.sources.Register("file", other)

	f.mustRun(t, `
a = GET process FROM file:///tmp/empty.json WHERE [process:pid = 4]
b = GET process WHERE [process:pid = 4]
`)
	assert.Len(t, other.Retrievals, 2, "omitted FROM reuses the last datasource")
	assert.Empty(t, f.source.Retrievals)
	v, ok := f.in.Env().Lookup("b")
	require.True(t, ok)
	assert.Equal(t, "file:///tmp/empty.json", v.DataSource)

	f2 := newFixture(t, nil)
	f2.source.Err = errors.New("connection refused")
	_, err := f2.run(t, "GET process WHERE [process:pid = 4]")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrDataSource))
	assert.Contains(t, err.Error(), "connection refused")
}

func TestGetFromVariable(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.PrefetchGet = false })
	f.mustRun(t, `
procs = GET process WHERE [process:pid > 0]
svc = GET process FROM procs WHERE [process:pid = 4]
`)
	assert.Len(t, f.source.Retrievals, 1, "variable source is filtered locally")
	assert.Equal(t, []interface{}{"process--1"}, column(f.resolve(t, "svc"), "id"))
	assert.Equal(t, []string{"svc"}, f.in.Env().Dependents("procs"))
}

func TestGetReferencesVariable(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.PrefetchGet = false })
	f.mustRun(t, `
a = NEW process [{"pid": 8, "first_observed": "2021-03-29T19:26:00Z"}]
b = GET process WHERE [process:pid = a.pid]
`)
	assert.Equal(t, "[process:pid = 8]", f.source.Retrievals[0].Body)
	assert.Equal(t, []interface{}{"process--4"}, column(f.resolve(t, "b"), "id"))
}

func TestExampleScript(t *testing.T) {
	f := newFixture(t, nil)
	res := f.mustRun(t, `
x = GET process WHERE [process:name = 'svc.exe']
SORT x BY process:pid
DISP x LIMIT 10
`)
	x := f.resolve(t, "x")
	assert.Equal(t, "process", x.EntityType)
	assert.Equal(t, []interface{}{int64(12), int64(4), int64(4)}, column(x, "pid"))

	require.Len(t, res.Displays, 1)
	table := res.Displays[0].(*display.Table)
	assert.LessOrEqual(t, len(table.Rows), 10)
	assert.Equal(t, int64(12), table.Rows[0]["pid"])
	assert.Equal(t, 3, f.resolve(t, "x").Len(), "DISP does not change the variable")

	require.Len(t, res.Steps, 3)
	assert.Equal(t, "SORT", res.Steps[1].Command)
	assert.Equal(t, 3, res.Steps[1].Line)
}

func TestSortOrders(t *testing.T) {
	f := newFixture(t, nil)
	f.mustRun(t, `
v = NEW process [{"pid": 3, "name": "c"}, {"pid": 1, "name": "a"}, {"pid": 2, "name": "b"}]
d = SORT v BY pid
a = SORT v BY pid ASC
z = SORT v BY pid DESC
`)
	asc := column(f.resolve(t, "a"), "pid")
	desc := column(f.resolve(t, "z"), "pid")
	assert.Equal(t, []interface{}{int64(1), int64(2), int64(3)}, asc)
	for i := range asc {
		assert.Equal(t, asc[i], desc[len(desc)-1-i])
	}
	assert.Equal(t, desc, column(f.resolve(t, "d"), "pid"), "default order is descending")
	assert.Equal(t, []interface{}{int64(3), int64(1), int64(2)}, column(f.resolve(t, "v"), "pid"), "explicit target leaves the input alone")

	f.mustRun(t, `
t = NEW process [{"pid": 1, "name": "first"}, {"pid": 2, "name": "x"}, {"pid": 1, "name": "second"}]
s = SORT t BY pid ASC
`)
	assert.Equal(t, []interface{}{"first", "second", "x"}, column(f.resolve(t, "s"), "name"), "ties keep their order")

	f2 := newFixture(t, func(c *Config) { c.DefaultSortOrder = ast.OrderAsc })
	f2.mustRun(t, `
v = NEW process [{"pid": 3}, {"pid": 1}]
SORT v BY pid
`)
	assert.Equal(t, []interface{}{int64(1), int64(3)}, column(f2.resolve(t, "v"), "pid"))
	assert.Equal(t, []interface{}{int64(1), int64(3)}, column(f2.resolve(t, "_"), "pid"))

	_, err := f.run(t, "SORT v BY ppid")
	assert.True(t, errors.Is(err, errors.ErrSortKeyNotFound))
}

func TestMerge(t *testing.T) {
	f := newFixture(t, nil)
	f.mustRun(t, `
a = NEW process [{"pid": 1}, {"pid": 2}]
b = NEW process [{"pid": 3}]
c = a + b
n = NEW network-traffic [{"dst_port": 53}]
`)
	c := f.resolve(t, "c")
	assert.Equal(t, "process", c.EntityType)
	assert.Equal(t, 3, c.Len())

	_, err := f.run(t, "bad = a + n")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrSchemaMismatch))
	var se *StatementError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "SchemaMismatchError", se.Kind())
	assert.False(t, f.in.Env().Has("bad"))

	f.mustRun(t, "copy = a")
	assert.Equal(t, 2, f.resolve(t, "copy").Len())
}

func TestMergeKeepsRecordsSharingIDs(t *testing.T) {
	f := newFixture(t, nil)
	f.mustRun(t, `
x = NEW process [{"id": "process--1", "pid": 1}, {"id": "process--2", "pid": 2}, {"id": "process--3", "pid": 3}]
y = SORT x BY pid ASC
m = x + y
`)
	m := f.resolve(t, "m")
	assert.Equal(t, f.resolve(t, "x").Len()+f.resolve(t, "y").Len(), m.Len())
	assert.Equal(t, []interface{}{int64(1), int64(2), int64(3), int64(1), int64(2), int64(3)}, column(m, "pid"))
}

func TestJoin(t *testing.T) {
	f := newFixture(t, nil)
	f.mustRun(t, `
a = NEW process [{"pid": 1, "name": "a.exe"}, {"pid": 2, "name": "b.exe"}]
b = NEW process [{"pid": 1, "x_parent": 100}, {"pid": 3, "x_parent": 300}]
c = NEW process [{"pid": 2, "ppid": 1}]
j = JOIN a, b
k = JOIN a, c BY pid, ppid
`)
	j := f.resolve(t, "j")
	require.Equal(t, 1, j.Len())
	assert.Equal(t, int64(100), j.Records[0]["x_parent"])

	k := f.resolve(t, "k")
	require.Equal(t, 1, k.Len())
	assert.Equal(t, "a.exe", k.Records[0]["name"], "explicit keys ignore the identity attribute")

	_, err := f.run(t, "JOIN a, c BY pid, nope")
	assert.True(t, errors.Is(err, errors.ErrJoinKeyNotFound))
}

func TestGroup(t *testing.T) {
	f := newFixture(t, nil)
	f.mustRun(t, `
conns = NEW network-traffic [{"src_ref.value": "1.2.3.4", "dst_ref.value": "4.3.2.1", "dst_port": 1},
                             {"src_ref.value": "2.2.3.4", "dst_ref.value": "4.3.2.1", "dst_port": 2},
                             {"src_ref.value": "1.2.3.4", "dst_ref.value": "5.3.2.1", "dst_port": 3}]
g = GROUP conns BY dst_ref.value WITH SUM(dst_port) AS ports
`)
	g := f.resolve(t, "g")
	assert.Equal(t, 2, g.Len())
	assert.True(t, g.HasColumn("ports"))

	_, err := f.run(t, "GROUP conns BY nope")
	assert.True(t, errors.Is(err, errors.ErrAggregateKeyNotFound))
}

func TestFind(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.PrefetchGet = false
		c.PrefetchFind = false
	})
	f.mustRun(t, `
p = GET process WHERE [process:pid = 4]
conns = FIND network-traffic CREATED BY p
`)
	require.Len(t, f.source.Traversals, 1)
	req := f.source.Traversals[0]
	assert.Nil(t, req.Range, "FIND without START/STOP is unbounded")
	assert.True(t, req.Reversed)
	assert.Equal(t, "created", req.Relation)
	assert.Equal(t, []interface{}{"network-traffic--1"}, column(f.resolve(t, "conns"), "id"))

	f.mustRun(t, `
local = NEW process [{"pid": 4}]
none = FIND network-traffic CREATED BY local
`)
	assert.Len(t, f.source.Traversals, 1, "variables without a datasource are not traversed")
	assert.Equal(t, 0, f.resolve(t, "none").Len())

	_, err := f.run(t, "FIND network-traffic CREATED BY none")
	assert.True(t, errors.Is(err, errors.ErrEmptyInput))
}

func TestFindSessionRecords(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.PrefetchGet = false
		c.PrefetchFind = false
	})
	f.mustRun(t, `
procs = NEW process [{"id": "process--9", "pid": 9, "opened_connection_refs": ["network-traffic--9"]}]
conns = NEW network-traffic [{"id": "network-traffic--9", "dst_port": 443}, {"id": "network-traffic--10", "dst_port": 80}]
found = FIND network-traffic CREATED BY procs
`)
	found := f.resolve(t, "found")
	assert.Equal(t, []interface{}{"network-traffic--9"}, column(found, "id"))
	assert.Empty(t, f.source.Traversals, "variables without a datasource only search the session")

	t.Run("merged with the data source", func(t *testing.T) {
		f.mustRun(t, `
p = GET process WHERE [process:pid = 4]
seen = NEW network-traffic [{"id": "network-traffic--1", "dst_port": 53}]
both = FIND network-traffic CREATED BY p
`)
		require.Len(t, f.source.Traversals, 1)
		assert.Equal(t, []interface{}{"network-traffic--1"}, column(f.resolve(t, "both"), "id"))
	})
}

func TestApply(t *testing.T) {
	f := newFixture(t, nil)
	var gotParams ast.Params
	f.in.analytics.Register("python", analytics.Func(func(ctx context.Context, ref string, inputs []*dataset.Dataset, params ast.Params) (*analytics.Result, error) {
		gotParams = params
		enriched := inputs[0].Clone()
		for _, r := range enriched.Records {
			r["x_score"] = int64(7)
		}
		enriched = dataset.New(enriched.EntityType, enriched.Maps())
		return &analytics.Result{Outputs: []*dataset.Dataset{enriched}, Display: "scored"}, nil
	}))

	res := f.mustRun(t, `
procs = NEW process [{"pid": 1}, {"pid": 2}]
APPLY python://score ON procs WITH threshold=5, tags=a,b
`)
	assert.Equal(t, ast.KeywordParams{
		{Key: "threshold", Value: ast.IntValue(5)},
		{Key: "tags", Value: ast.ListValue{"a", "b"}},
	}, gotParams)
	assert.True(t, f.resolve(t, "procs").HasColumn("x_score"), "output replaces the input")
	assert.True(t, f.resolve(t, "_").HasColumn("x_score"))
	require.Len(t, res.Displays, 1)
	assert.Equal(t, "scored", res.Displays[0].(*display.Text).Body)

	f.in.analytics.Register("broken", analytics.Func(func(context.Context, string, []*dataset.Dataset, ast.Params) (*analytics.Result, error) {
		return nil, errors.New("exit status 2")
	}))
	_, err := f.run(t, "x = APPLY broken://x ON procs")
	assert.True(t, errors.Is(err, errors.ErrAnalyticsInvocation))
	assert.False(t, f.in.Env().Has("x"))
}

func TestLoadSave(t *testing.T) {
	f := newFixture(t, nil)
	dir := t.TempDir()
	path := filepath.Join(dir, "procs.csv")

	f.mustRun(t, `
procs = NEW process [{"pid": 1, "name": "a"}, {"pid": 2, "name": "b"}]
SAVE procs TO "`+path+`"
back = LOAD "`+path+`"
ips = LOAD "`+path+`" AS x-other
`)
	back := f.resolve(t, "back")
	assert.Equal(t, "process", back.EntityType)
	assert.Equal(t, 2, back.Len())
	assert.Equal(t, "x-other", f.resolve(t, "ips").EntityType)

	_, err := f.run(t, `LOAD "`+filepath.Join(dir, "missing.json")+`"`)
	assert.True(t, errors.Is(err, errors.ErrDumpFormat))

	_, err = f.run(t, `SAVE procs TO "`+filepath.Join(dir, "no", "such", "x.json")+`"`)
	assert.True(t, errors.Is(err, errors.ErrIOWrite))
}

func TestLoadRemote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"type": "ipv4-addr", "value": "10.0.0.1"}]`))
	}))
	defer srv.Close()

	f := newFixture(t, nil)
	_, err := f.run(t, `ips = LOAD "`+srv.URL+`/dumps/ips.json"`)
	require.Error(t, err, "loopback downloads are refused by default")
	assert.True(t, errors.Is(err, errors.ErrDumpFormat))

	f.in.fetcher = dump.NewFetcher(httpclient.NewSaferClient(time.Minute, httpclient.AllowPrivateNetworks()).Client)
	f.mustRun(t, `ips = LOAD "`+srv.URL+`/dumps/ips.json"`)
	ips := f.resolve(t, "ips")
	assert.Equal(t, "ipv4-addr", ips.EntityType)
	assert.Equal(t, 1, ips.Len())
}

func TestNew(t *testing.T) {
	f := newFixture(t, nil)
	f.mustRun(t, `
ips = NEW ipv4-addr ["1.1.1.1", "8.8.8.8"]
procs = NEW [{"type": "process", "name": "cmd.exe", "pid": 123}, {"type": "process", "name": "explorer.exe", "pid": 99}]
`)
	ips := f.resolve(t, "ips")
	assert.Equal(t, "ipv4-addr", ips.EntityType)
	assert.Equal(t, []interface{}{"1.1.1.1", "8.8.8.8"}, column(ips, "value"))

	procs := f.resolve(t, "procs")
	assert.Equal(t, "process", procs.EntityType)
	assert.False(t, procs.HasColumn("type"))

	for _, script := range []string{
		`NEW ["a", "b"]`,
		`NEW [{"pid": 1}]`,
		`NEW process [{"type": "file", "name": "a"}]`,
	} {
		_, err := f.run(t, script)
		assert.True(t, errors.Is(err, errors.ErrLiteralParse), script)
	}
}

func TestDispAndInfo(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.PrefetchGet = false })
	res := f.mustRun(t, `
procs = GET process WHERE [process:name = 'svc.exe']
conns = FIND network-traffic CREATED BY procs
DISP procs ATTR name LIMIT 5
DISP procs ATTR pid LIMIT 1 OFFSET 1
INFO procs
`)
	require.Len(t, res.Displays, 3)
	names := res.Displays[0].(*display.Table)
	assert.Len(t, names.Rows, 1, "duplicate rows collapse")
	offset := res.Displays[1].(*display.Table)
	assert.Equal(t, int64(12), offset.Rows[0]["pid"])

	info := res.Displays[2].(*display.Dict)
	birth, _ := info.Get("Birth Command")
	assert.Equal(t, "GET", birth)
	ds, _ := info.Get("Associated Datasource")
	assert.Equal(t, "stixshifter://", ds)
	deps, _ := info.Get("Dependent Variables")
	assert.Equal(t, "conns", deps)
}

func TestStopsAtFirstFailure(t *testing.T) {
	f := newFixture(t, nil)
	res, err := f.run(t, `
a = NEW process [{"pid": 1}]
DISP nope
b = NEW process [{"pid": 2}]
`)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrUnboundVariable))

	var se *StatementError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 1, se.Index)
	assert.Equal(t, 3, se.Range.Start.Line)
	assert.Equal(t, "disp", se.Command)
	assert.Contains(t, err.Error(), "UnboundVariableError at line 3")
	assert.Contains(t, err.Error(), `"nope"`)

	assert.True(t, f.in.Env().Has("a"), "earlier bindings stay valid")
	assert.False(t, f.in.Env().Has("b"))
	assert.Len(t, res.Steps, 1)
	assert.Equal(t, []string{"a"}, res.NewVariables)

	f.mustRun(t, "c = a")
	require.NoError(t, testutil.GatherAndCompare(f.reg, strings.NewReader(`
# HELP kestrel_commands_total Executed statements by command and outcome.
# TYPE kestrel_commands_total counter
kestrel_commands_total{command="DISP",outcome="error"} 1
kestrel_commands_total{command="MERGE",outcome="ok"} 1
kestrel_commands_total{command="NEW",outcome="ok"} 1
`), "kestrel_commands_total"))
}

func TestBindingsAreAtomic(t *testing.T) {
	f := newFixture(t, nil)
	f.mustRun(t, `x = NEW process [{"pid": 1}, {"pid": 2}]`)

	f.store.fail["x"] = true
	_, err := f.run(t, "SORT x BY pid")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrIOWrite))

	assert.False(t, f.in.Env().Has("_"), "the default variable binding is rolled back")
	assert.Equal(t, []interface{}{int64(1), int64(2)}, column(f.resolve(t, "x"), "pid"))
}

func TestExecutionLogging(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	f := newFixture(t, nil)
	f.in.logger = zap.New(core).Sugar()

	f.mustRun(t, `x = NEW process [{"pid": 1}]`)
	entries := logs.FilterMessage("executing statement").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "NEW", entries[0].ContextMap()["command"])
	assert.Equal(t, "x", entries[0].ContextMap()["variable"])
}
