// Package store persists bound variables into the session's embedded
// SQLite database, with an in-memory LRU memo in front of it so a variable
// referenced again within a session is decoded once.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/teranos/kestrel/dataset"
	"github.com/teranos/kestrel/db"
	"github.com/teranos/kestrel/errors"
	"github.com/teranos/kestrel/logger"
)

// ErrNotFound marks a Get for a name that was never stored (or was deleted).
// Such errors are also marked errors.ErrUnboundVariable.
var ErrNotFound = errors.New("variable not found in store")

// Entry is a variable as persisted. Data must not be mutated once stored.
type Entry struct {
	Name         string
	Data         *dataset.Dataset
	BirthCommand string
	DataSource   string
	Inputs       []string
	BoundAt      time.Time
}

// Store is the write-through dataset store behind the variable environment.
type Store interface {
	Put(ctx context.Context, e *Entry) error
	Get(ctx context.Context, name string) (*Entry, error)
	Delete(ctx context.Context, name string) error
	Names(ctx context.Context) ([]string, error)
}

// CacheObserver is told about every memo lookup
type CacheObserver interface {
	ObserveCacheLookup(hit bool)
}

// Query constants
const (
	VariableUpsertQuery = `
		INSERT INTO variables (name, entity_type, columns, records, record_count, birth_command, datasource, inputs, bound_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			entity_type = excluded.entity_type,
			columns = excluded.columns,
			records = excluded.records,
			record_count = excluded.record_count,
			birth_command = excluded.birth_command,
			datasource = excluded.datasource,
			inputs = excluded.inputs,
			bound_at = excluded.bound_at`

	VariableSelectQuery = `
		SELECT entity_type, columns, records, birth_command, datasource, inputs, bound_at
		FROM variables WHERE name = ?`

	VariableDeleteQuery = `DELETE FROM variables WHERE name = ?`

	VariableNamesQuery = `SELECT name FROM variables ORDER BY bound_at, name`
)

// SQLStore implements Store on a migrated SQLite database
type SQLStore struct {
	db       *sql.DB
	memo     *lru.Cache[string, *Entry]
	observer CacheObserver
	logger   *zap.SugaredLogger
}

// Option configures a SQLStore
type Option func(*SQLStore)

// WithCacheObserver reports memo hits and misses
func WithCacheObserver(o CacheObserver) Option {
	return func(s *SQLStore) { s.observer = o }
}

// NewSQLStore creates a store over conn with a memo of cacheSize entries.
// The caller owns conn.
func NewSQLStore(conn *sql.DB, cacheSize int, log *zap.SugaredLogger, opts ...Option) (*SQLStore, error) {
	memo, err := lru.New[string, *Entry](cacheSize)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create variable memo of size %d", cacheSize)
	}
	s := &SQLStore{db: conn, memo: memo, logger: logger.OrNop(log).Named("store")}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// EntryFields holds marshaled JSON fields for database operations
type EntryFields struct {
	ColumnsJSON string
	RecordsJSON string
	InputsJSON  string
}

// MarshalEntryFields marshals the dataset and inputs of e to JSON
func MarshalEntryFields(e *Entry) (*EntryFields, error) {
	if e == nil || e.Data == nil {
		return nil, errors.New("entry has no dataset")
	}
	columns, err := json.Marshal(nonNil(e.Data.Columns))
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal columns")
	}
	records, err := json.Marshal(e.Data.Maps())
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal records")
	}
	inputs, err := json.Marshal(nonNil(e.Inputs))
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal inputs")
	}
	return &EntryFields{
		ColumnsJSON: string(columns),
		RecordsJSON: string(records),
		InputsJSON:  string(inputs),
	}, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// Put writes e through to the database and then to the memo. A failed
// write leaves both untouched.
func (s *SQLStore) Put(ctx context.Context, e *Entry) error {
	fields, err := MarshalEntryFields(e)
	if err != nil {
		return errors.Wrapk(err, errors.ErrIOWrite, "failed to encode variable %s", e.Name)
	}
	if e.BoundAt.IsZero() {
		e.BoundAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx, VariableUpsertQuery,
		e.Name,
		e.Data.EntityType,
		fields.ColumnsJSON,
		fields.RecordsJSON,
		e.Data.Len(),
		e.BirthCommand,
		e.DataSource,
		fields.InputsJSON,
		e.BoundAt,
	)
	if err != nil {
		return errors.Wrapk(db.Classify(err), errors.ErrIOWrite, "failed to store variable %s", e.Name)
	}

	s.memo.Add(e.Name, e)
	s.logger.Debugw("variable stored",
		logger.FieldVariable, e.Name,
		logger.FieldEntityType, e.Data.EntityType,
		logger.FieldCount, e.Data.Len(),
		logger.FieldCacheSize, s.memo.Len())
	return nil
}

// Get returns the stored variable, from the memo when possible
func (s *SQLStore) Get(ctx context.Context, name string) (*Entry, error) {
	if e, ok := s.memo.Get(name); ok {
		s.observe(true)
		return e, nil
	}
	s.observe(false)

	var (
		entityType, birth, source    string
		columnsJSON, recordsJSON, in string
		boundAt                      time.Time
	)
	err := s.db.QueryRowContext(ctx, VariableSelectQuery, name).
		Scan(&entityType, &columnsJSON, &recordsJSON, &birth, &source, &in, &boundAt)
	if err == sql.ErrNoRows {
		return nil, errors.Mark(errors.Newk(errors.ErrUnboundVariable, "variable %q is not bound", name), ErrNotFound)
	}
	if err != nil {
		return nil, errors.Wrapf(db.Classify(err), "failed to read variable %s", name)
	}

	e, err := decodeEntry(name, entityType, columnsJSON, recordsJSON, in)
	if err != nil {
		return nil, err
	}
	e.BirthCommand, e.DataSource, e.BoundAt = birth, source, boundAt

	s.memo.Add(name, e)
	s.logger.Debugw("variable loaded from store",
		logger.FieldVariable, name,
		logger.FieldCount, e.Data.Len())
	return e, nil
}

func decodeEntry(name, entityType, columnsJSON, recordsJSON, inputsJSON string) (*Entry, error) {
	var columns, inputs []string
	if err := json.Unmarshal([]byte(columnsJSON), &columns); err != nil {
		return nil, errors.Wrapf(err, "corrupt columns for variable %s", name)
	}
	if err := json.Unmarshal([]byte(inputsJSON), &inputs); err != nil {
		return nil, errors.Wrapf(err, "corrupt inputs for variable %s", name)
	}

	var records []map[string]interface{}
	dec := json.NewDecoder(strings.NewReader(recordsJSON))
	dec.UseNumber()
	if err := dec.Decode(&records); err != nil {
		return nil, errors.Wrapf(err, "corrupt records for variable %s", name)
	}

	data := dataset.New(entityType, records)
	data.Columns = columns
	return &Entry{Name: name, Data: data, Inputs: inputs}, nil
}

// Delete removes name from the database and the memo
func (s *SQLStore) Delete(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, VariableDeleteQuery, name); err != nil {
		return errors.Wrapk(db.Classify(err), errors.ErrIOWrite, "failed to delete variable %s", name)
	}
	s.memo.Remove(name)
	return nil
}

// Names lists stored variables in binding order
func (s *SQLStore) Names(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, VariableNamesQuery)
	if err != nil {
		return nil, errors.Wrap(db.Classify(err), "failed to list variables")
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, errors.Wrap(err, "failed to scan variable name")
		}
		names = append(names, n)
	}
	return names, errors.Wrap(rows.Err(), "failed to list variables")
}

// CacheLen is the number of memoized variables
func (s *SQLStore) CacheLen() int {
	return s.memo.Len()
}

func (s *SQLStore) observe(hit bool) {
	if s.observer != nil {
		s.observer.ObserveCacheLookup(hit)
	}
}
