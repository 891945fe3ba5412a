package dump

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/kestrel/dataset"
	"github.com/teranos/kestrel/errors"
	"github.com/teranos/kestrel/internal/httpclient"
)

func sample() *dataset.Dataset {
	return dataset.New("process", []map[string]interface{}{
		{"pid": 4, "name": "svc.exe", "binary_ref": map[string]interface{}{"name": "svc.exe"}},
		{"pid": 8, "name": "cmd.exe", "x_score": 0.5},
	})
}

func TestRoundTrip(t *testing.T) {
	for _, ext := range []string{".json", ".csv", ".yaml", ".yml"} {
		t.Run(ext, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "procs"+ext)
			require.NoError(t, Write(path, sample()))

			raw, err := Read(path)
			require.NoError(t, err)
			assert.Equal(t, "process", raw.EntityType)

			d, err := raw.Dataset("")
			require.NoError(t, err)
			assert.Equal(t, "process", d.EntityType)
			require.Equal(t, 2, d.Len())
			assert.False(t, d.HasColumn("type"))
			assert.Equal(t, int64(4), d.Records[0]["pid"])
			assert.Equal(t, "svc.exe", d.Records[0]["binary_ref.name"])
			assert.Equal(t, 0.5, d.Records[1]["x_score"])
			_, ok := d.Records[1]["binary_ref.name"]
			assert.False(t, ok, "empty cells are dropped")
		})
	}
}

func TestReadExplicitType(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ips.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"value": "1.1.1.1"}, {"value": "8.8.8.8"}]`), 0o644))

	raw, err := Read(path)
	require.NoError(t, err)
	assert.Empty(t, raw.EntityType)

	_, err = raw.Dataset("")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrDumpFormat))

	d, err := raw.Dataset("ipv4-addr")
	require.NoError(t, err)
	assert.Equal(t, "ipv4-addr", d.EntityType)
	assert.Equal(t, 2, d.Len())
}

func TestReadMixedTypesKeepsTypeColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mixed.yaml")
	require.NoError(t, os.WriteFile(path, []byte("- type: process\n  pid: 1\n- type: file\n  name: a\n"), 0o644))

	raw, err := Read(path)
	require.NoError(t, err)
	assert.Empty(t, raw.EntityType)
	assert.Equal(t, "process", raw.Records[0]["type"])
}

func TestReadErrors(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
		return p
	}

	tests := []struct {
		name string
		path string
	}{
		{"missing file", filepath.Join(dir, "nope.json")},
		{"unknown extension", write("data.parquet", "x")},
		{"json object", write("obj.json", `{"pid": 1}`)},
		{"bad yaml", write("bad.yaml", "pid: [1, 2")},
		{"ragged csv", write("bad.csv", "pid,name\n1\n")},
		{"empty csv", write("empty.csv", "")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Read(tt.path)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrDumpFormat), "got %v", err)
			assert.Equal(t, "DumpFormatError", errors.KindOf(err))
		})
	}
}

func TestWriteErrors(t *testing.T) {
	t.Run("unknown extension", func(t *testing.T) {
		err := Write(filepath.Join(t.TempDir(), "x.parquet"), sample())
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrIOWrite))
	})

	t.Run("missing directory", func(t *testing.T) {
		err := Write(filepath.Join(t.TempDir(), "no", "such", "x.json"), sample())
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrIOWrite))
	})
}

func TestWriteReplacesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "procs.json")
	require.NoError(t, Write(path, sample()))
	require.NoError(t, Write(path, sample().Slice(0, 1)))

	raw, err := Read(path)
	require.NoError(t, err)
	assert.Len(t, raw.Records, 1)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary files left behind")
}

func TestIsRemote(t *testing.T) {
	assert.True(t, IsRemote("https://example.com/procs.json"))
	assert.True(t, IsRemote("s3::https://s3.amazonaws.com/bucket/procs.csv"))
	assert.True(t, IsRemote("git::https://example.com/repo.git//procs.json"))
	assert.False(t, IsRemote("/tmp/procs.json"))
	assert.False(t, IsRemote("procs.json"))
}

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/dumps/procs.json" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`[{"type": "process", "pid": 4}]`))
	}))
	defer srv.Close()

	dir := t.TempDir()
	f := NewFetcher(httpclient.NewSaferClient(time.Minute, httpclient.AllowPrivateNetworks()).Client)
	path, err := f.Fetch(context.Background(), srv.URL+"/dumps/procs.json", dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "procs.json"), path)

	raw, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, "process", raw.EntityType)

	_, err = f.Fetch(context.Background(), srv.URL+"/dumps/missing.json", dir)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrDumpFormat))

	_, err = f.Fetch(context.Background(), srv.URL+"/dumps/procs", dir)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrDumpFormat))
}

func TestFetchRefusesLoopbackByDefault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"type": "process", "pid": 4}]`))
	}))
	defer srv.Close()

	dir := t.TempDir()
	_, err := NewFetcher(nil).Fetch(context.Background(), srv.URL+"/procs.json", dir)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrDumpFormat))
	assert.NoFileExists(t, filepath.Join(dir, "procs.json"))
}
