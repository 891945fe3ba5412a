// Package dump reads and writes datasets as JSON, CSV or YAML files and
// fetches remote dumps into the session directory.
package dump

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	getter "github.com/hashicorp/go-getter"
	"gopkg.in/yaml.v3"

	"github.com/teranos/kestrel/dataset"
	"github.com/teranos/kestrel/errors"
	"github.com/teranos/kestrel/internal/httpclient"
)

// Format of a dump file, chosen by extension
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatYAML Format = "yaml"
)

// FormatOf returns the format of path by its extension
func FormatOf(path string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, true
	case ".csv":
		return FormatCSV, true
	case ".yaml", ".yml":
		return FormatYAML, true
	}
	return "", false
}

// Raw is the content of a dump before it is typed
type Raw struct {
	Records []map[string]interface{}
	// EntityType is the single "type" value every record carried, if any
	EntityType string
}

// Read decodes the dump at path. Unreadable files, unknown extensions and
// malformed content fail with errors.ErrDumpFormat.
func Read(path string) (*Raw, error) {
	format, ok := FormatOf(path)
	if !ok {
		return nil, errors.Newk(errors.ErrDumpFormat, "unsupported dump format %q (want .json, .csv, .yaml or .yml)", filepath.Ext(path))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapk(err, errors.ErrDumpFormat, "cannot read dump %s", path)
	}

	var records []map[string]interface{}
	switch format {
	case FormatJSON:
		records, err = decodeJSON(data)
	case FormatCSV:
		records, err = decodeCSV(data)
	case FormatYAML:
		records, err = decodeYAML(data)
	}
	if err != nil {
		return nil, errors.Wrapk(err, errors.ErrDumpFormat, "malformed %s dump %s", format, path)
	}
	return typed(records), nil
}

// typed lifts a shared "type" attribute out of the records
func typed(records []map[string]interface{}) *Raw {
	raw := &Raw{Records: records}
	var typ string
	for i, r := range records {
		t, _ := r["type"].(string)
		if t == "" || (i > 0 && t != typ) {
			return raw
		}
		typ = t
	}
	raw.EntityType = typ
	for _, r := range records {
		delete(r, "type")
	}
	return raw
}

// Dataset types raw as entityType, or as the type the records carried
// when entityType is empty.
func (raw *Raw) Dataset(entityType string) (*dataset.Dataset, error) {
	if entityType == "" {
		entityType = raw.EntityType
	}
	if entityType == "" {
		return nil, errors.Newk(errors.ErrDumpFormat, "cannot infer the entity type of the dump; add AS <entity-type>")
	}
	return dataset.New(entityType, raw.Records), nil
}

func decodeJSON(data []byte) ([]map[string]interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var records []map[string]interface{}
	if err := dec.Decode(&records); err != nil {
		return nil, errors.Wrap(err, "expected a JSON list of objects")
	}
	return records, nil
}

func decodeYAML(data []byte) ([]map[string]interface{}, error) {
	var records []map[string]interface{}
	if err := yaml.Unmarshal(data, &records); err != nil {
		return nil, errors.Wrap(err, "expected a YAML list of mappings")
	}
	return records, nil
}

func decodeCSV(data []byte) ([]map[string]interface{}, error) {
	rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errors.New("missing header row")
	}
	header := rows[0]
	records := make([]map[string]interface{}, 0, len(rows)-1)
	for _, row := range rows[1:] {
		rec := make(map[string]interface{}, len(header))
		for i, cell := range row {
			if cell != "" {
				rec[header[i]] = parseCell(cell)
			}
		}
		records = append(records, rec)
	}
	return records, nil
}

func parseCell(cell string) interface{} {
	if i, err := strconv.ParseInt(cell, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(cell, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(cell); err == nil && (cell == "true" || cell == "false") {
		return b
	}
	return cell
}

// Write encodes d to path, replacing the file atomically. Failures are
// marked errors.ErrIOWrite.
func Write(path string, d *dataset.Dataset) error {
	format, ok := FormatOf(path)
	if !ok {
		return errors.Newk(errors.ErrIOWrite, "unsupported dump format %q (want .json, .csv, .yaml or .yml)", filepath.Ext(path))
	}

	var (
		data []byte
		err  error
	)
	switch format {
	case FormatJSON:
		data, err = json.MarshalIndent(withType(d), "", "  ")
	case FormatCSV:
		data, err = encodeCSV(d)
	case FormatYAML:
		data, err = yaml.Marshal(withType(d))
	}
	if err != nil {
		return errors.Wrapk(err, errors.ErrIOWrite, "cannot encode %s as %s", d.EntityType, format)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return errors.Wrapk(err, errors.ErrIOWrite, "cannot write dump %s", path)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrapk(err, errors.ErrIOWrite, "cannot write dump %s", path)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapk(err, errors.ErrIOWrite, "cannot write dump %s", path)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrapk(err, errors.ErrIOWrite, "cannot write dump %s", path)
	}
	return nil
}

// withType adds the entity type to every record so a later LOAD can infer it
func withType(d *dataset.Dataset) []map[string]interface{} {
	out := make([]map[string]interface{}, len(d.Records))
	for i, r := range d.Records {
		m := make(map[string]interface{}, len(r)+1)
		for k, v := range r {
			m[k] = v
		}
		m["type"] = d.EntityType
		out[i] = m
	}
	return out
}

func encodeCSV(d *dataset.Dataset) ([]byte, error) {
	columns := append([]string{"type"}, d.Columns...)
	sort.Strings(columns[1:])

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(columns); err != nil {
		return nil, err
	}
	for _, r := range d.Records {
		row := make([]string, len(columns))
		row[0] = d.EntityType
		for i, c := range columns[1:] {
			cell, err := formatCell(r[c])
			if err != nil {
				return nil, err
			}
			row[i+1] = cell
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

func formatCell(v interface{}) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case bool:
		return strconv.FormatBool(t), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	}
	b, err := json.Marshal(v)
	return string(b), err
}

// IsRemote reports whether src must be fetched before it can be read
func IsRemote(src string) bool {
	if strings.Contains(src, "::") {
		return true
	}
	lower := strings.ToLower(src)
	for _, prefix := range []string{"http://", "https://", "s3://", "gcs://", "git::"} {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

// DefaultFetchTimeout bounds one remote dump download
const DefaultFetchTimeout = 5 * time.Minute

// Fetcher downloads remote dumps with go-getter. HTTP(S) downloads go
// through HTTP.
type Fetcher struct {
	HTTP *http.Client
}

// NewFetcher creates a fetcher whose HTTP(S) downloads use client; a nil
// client refuses private and loopback hosts.
func NewFetcher(client *http.Client) *Fetcher {
	if client == nil {
		client = httpclient.NewSaferClient(DefaultFetchTimeout).Client
	}
	return &Fetcher{HTTP: client}
}

// Fetch downloads src into dstDir and returns the local path. The local
// file keeps the remote file name so its format is known.
func (f *Fetcher) Fetch(ctx context.Context, src, dstDir string) (string, error) {
	name := filepath.Base(strings.SplitN(src[strings.LastIndex(src, "/")+1:], "?", 2)[0])
	if _, ok := FormatOf(name); !ok {
		return "", errors.Newk(errors.ErrDumpFormat, "cannot tell the format of remote dump %s", src)
	}
	dst := filepath.Join(dstDir, name)

	getters := make(map[string]getter.Getter, len(getter.Getters))
	for scheme, g := range getter.Getters {
		getters[scheme] = g
	}
	httpGetter := &getter.HttpGetter{Client: f.HTTP, Netrc: true}
	getters["http"] = httpGetter
	getters["https"] = httpGetter

	client := &getter.Client{
		Ctx:     ctx,
		Src:     src,
		Dst:     dst,
		Mode:    getter.ClientModeFile,
		Getters: getters,
	}
	if err := client.Get(); err != nil {
		return "", errors.Wrapk(err, errors.ErrDumpFormat, "cannot fetch dump %s", src)
	}
	return dst, nil
}
