package db

import (
	"database/sql"
	"embed"
	"path"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/teranos/kestrel/errors"
	"github.com/teranos/kestrel/logger"
)

//go:embed sqlite/migrations/*.sql
var migrationFS embed.FS

const migrationDir = "sqlite/migrations"

// Migration is one embedded schema step, named NNN_description.sql
type Migration struct {
	Version string
	File    string
	SQL     string
}

// Migrations returns the embedded migrations in version order
func Migrations() ([]Migration, error) {
	entries, err := migrationFS.ReadDir(migrationDir)
	if err != nil {
		return nil, errors.Wrap(err, "read migrations")
	}
	var out []Migration
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		body, err := migrationFS.ReadFile(path.Join(migrationDir, e.Name()))
		if err != nil {
			return nil, errors.Wrapf(err, "read %s", e.Name())
		}
		version, _, _ := strings.Cut(e.Name(), "_")
		out = append(out, Migration{Version: version, File: e.Name(), SQL: string(body)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// AppliedVersions returns the versions recorded in schema_migrations; an
// empty set when the table does not exist yet.
func AppliedVersions(conn *sql.DB) (map[string]bool, error) {
	var n int
	if err := conn.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'schema_migrations'",
	).Scan(&n); err != nil {
		return nil, errors.Wrap(Classify(err), "inspect schema")
	}
	applied := map[string]bool{}
	if n == 0 {
		return applied, nil
	}

	rows, err := conn.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return nil, errors.Wrap(Classify(err), "list applied migrations")
	}
	defer rows.Close()
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, errors.Wrap(err, "scan migration version")
		}
		applied[v] = true
	}
	return applied, errors.Wrap(rows.Err(), "list applied migrations")
}

// Migrate applies pending migrations, each in its own transaction
// together with its schema_migrations row. A nil logger is silent.
func Migrate(conn *sql.DB, log *zap.SugaredLogger) error {
	log = logger.OrNop(log)
	all, err := Migrations()
	if err != nil {
		return err
	}
	applied, err := AppliedVersions(conn)
	if err != nil {
		return err
	}

	pending := 0
	for _, m := range all {
		if applied[m.Version] {
			continue
		}
		if err := apply(conn, m); err != nil {
			return err
		}
		pending++
		log.Debugw("migration applied", logger.FieldPath, m.File)
	}

	log.Debugw("migrations complete",
		logger.FieldCount, len(all),
		"applied", pending)
	return nil
}

func apply(conn *sql.DB, m Migration) error {
	tx, err := conn.Begin()
	if err != nil {
		return errors.Wrapf(Classify(err), "begin %s", m.File)
	}
	if _, err := tx.Exec(m.SQL); err != nil {
		tx.Rollback()
		return errors.Wrapf(err, "execute %s", m.File)
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.Version); err != nil {
		tx.Rollback()
		return errors.Wrapf(err, "record %s", m.File)
	}
	return errors.Wrapf(tx.Commit(), "commit %s", m.File)
}
