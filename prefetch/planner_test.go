package prefetch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/teranos/kestrel/ast"
	"github.com/teranos/kestrel/dataset"
)

func defaultConfig() Config {
	return Config{
		NameChange: Offsets{Start: -5, Stop: 5},
		Lifespan:   Offsets{Start: -10800, Stop: 10800},
		Default:    Offsets{Start: -300, Stop: 300},
	}
}

var window = ast.TimeRange{
	Start: time.Date(2021, 3, 29, 19, 20, 0, 0, time.UTC),
	Stop:  time.Date(2021, 3, 29, 19, 30, 0, 0, time.UTC),
}

func processes() *dataset.Dataset {
	return dataset.New("process", []map[string]interface{}{
		{"pid": 4, "name": "svc.exe", "first_observed": "2021-03-29T19:22:00Z", "last_observed": "2021-03-29T19:23:00Z"},
		{"pid": 8, "name": "cmd.exe", "first_observed": "2021-03-29T19:24:00Z", "last_observed": "2021-03-29T19:25:00Z"},
	})
}

func TestPlanProcess(t *testing.T) {
	p := NewPlanner(defaultConfig(), nil)

	queries := p.Plan(processes(), window)
	require.Len(t, queries, 2)

	nameChange := queries[0]
	assert.Equal(t, PurposeNameChange, nameChange.Purpose)
	assert.Equal(t, "[process:pid IN (4, 8)]", nameChange.Pattern.Body)
	assert.Equal(t, time.Date(2021, 3, 29, 19, 21, 55, 0, time.UTC), nameChange.Pattern.Range.Start)
	assert.Equal(t, time.Date(2021, 3, 29, 19, 25, 5, 0, time.UTC), nameChange.Pattern.Range.Stop)

	lifespan := queries[1]
	assert.Equal(t, PurposeLifespan, lifespan.Purpose)
	assert.Equal(t, "[(process:pid = 4 AND process:name = 'svc.exe') OR (process:pid = 8 AND process:name = 'cmd.exe')]", lifespan.Pattern.Body)
	assert.Equal(t, time.Date(2021, 3, 29, 16, 22, 0, 0, time.UTC), lifespan.Pattern.Range.Start)
	assert.Equal(t, time.Date(2021, 3, 29, 22, 25, 0, 0, time.UTC), lifespan.Pattern.Range.Stop)
	assert.Equal(t, 3*time.Hour, time.Date(2021, 3, 29, 19, 22, 0, 0, time.UTC).Sub(lifespan.Pattern.Range.Start))
}

func TestPlanZeroWidthDisables(t *testing.T) {
	cfg := defaultConfig()
	cfg.NameChange = Offsets{}
	p := NewPlanner(cfg, nil)

	queries := p.Plan(processes(), window)
	require.Len(t, queries, 1)
	assert.Equal(t, PurposeLifespan, queries[0].Purpose)

	cfg.Lifespan = Offsets{}
	assert.Empty(t, NewPlanner(cfg, nil).Plan(processes(), window))
}

func TestPlanOtherTypes(t *testing.T) {
	p := NewPlanner(defaultConfig(), nil)

	t.Run("identity attribute and fallback window", func(t *testing.T) {
		ips := dataset.New("ipv4-addr", []map[string]interface{}{{"value": "1.1.1.1"}, {"value": "1.1.1.1"}})
		queries := p.Plan(ips, window)
		require.Len(t, queries, 1)
		assert.Equal(t, PurposeIdentity, queries[0].Purpose)
		assert.Equal(t, "[ipv4-addr:value = '1.1.1.1']", queries[0].Pattern.Body)
		assert.Equal(t, window.Start.Add(-300*time.Second), queries[0].Pattern.Range.Start)
		assert.Equal(t, window.Stop.Add(300*time.Second), queries[0].Pattern.Range.Stop)
	})

	t.Run("ids when supported", func(t *testing.T) {
		cfg := defaultConfig()
		cfg.SupportID = true
		procs := dataset.New("process", []map[string]interface{}{{"id": "process--1", "pid": 4}})
		queries := NewPlanner(cfg, nil).Plan(procs, window)
		require.Len(t, queries, 1)
		assert.Equal(t, "[process:id = 'process--1']", queries[0].Pattern.Body)
		assert.True(t, queries[0].Pattern.SupportID)
	})

	t.Run("empty", func(t *testing.T) {
		assert.Nil(t, p.Plan(dataset.Empty("process"), window))
	})
}

func TestReconcile(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	p := NewPlanner(defaultConfig(), zap.New(core).Sugar())
	direct := processes()
	queries := p.Plan(direct, window)
	require.Len(t, queries, 2)

	nameChange := dataset.New("process", []map[string]interface{}{
		// renamed pid 4 inside the narrow window
		{"pid": 4, "name": "svchost.exe", "first_observed": "2021-03-29T19:22:30Z"},
		// pid 4 reused an hour later
		{"pid": 4, "name": "other.exe", "first_observed": "2021-03-29T20:30:00Z"},
		// unrelated pid
		{"pid": 99, "name": "x.exe", "first_observed": "2021-03-29T19:22:30Z"},
	})
	lifespan := dataset.New("process", []map[string]interface{}{
		{"pid": 8, "name": "cmd.exe", "first_observed": "2021-03-29T17:00:00Z", "last_observed": "2021-03-29T17:00:01Z"},
		{"pid": 8, "name": "notcmd.exe", "first_observed": "2021-03-29T17:00:00Z"},
		// duplicate of a direct record
		{"pid": 4, "name": "svc.exe", "first_observed": "2021-03-29T19:22:00Z", "last_observed": "2021-03-29T19:23:00Z"},
	})

	merged, err := p.Reconcile(direct, []Result{
		{Query: queries[0], Data: nameChange},
		{Query: queries[1], Data: lifespan},
	})
	require.NoError(t, err)

	var names []interface{}
	for _, r := range merged.Records {
		names = append(names, r["name"])
	}
	assert.Equal(t, []interface{}{"svc.exe", "cmd.exe", "svchost.exe", "cmd.exe"}, names)
	assert.Equal(t, "process", merged.EntityType)
	assert.Equal(t, 2, logs.FilterMessage("prefetch result filtered").Len())
}

func TestReconcileWithoutResults(t *testing.T) {
	p := NewPlanner(defaultConfig(), nil)
	direct := processes()

	merged, err := p.Reconcile(direct, nil)
	require.NoError(t, err)
	assert.Equal(t, direct.Records, merged.Records)
}
