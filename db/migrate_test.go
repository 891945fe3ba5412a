package db

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/teranos/kestrel/errors"
)

func TestMigrations(t *testing.T) {
	all, err := Migrations()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "000", all[0].Version)
	assert.Equal(t, "001_variables.sql", all[1].File)
	assert.Contains(t, all[1].SQL, "CREATE TABLE variables")
}

func TestMigrate(t *testing.T) {
	conn, err := Open(filepath.Join(t.TempDir(), "local.db"), nil)
	require.NoError(t, err)
	defer conn.Close()

	applied, err := AppliedVersions(conn)
	require.NoError(t, err)
	assert.Empty(t, applied, "fresh database")

	core, logs := observer.New(zapcore.DebugLevel)
	require.NoError(t, Migrate(conn, zap.New(core).Sugar()))
	assert.Equal(t, 2, logs.FilterMessage("migration applied").Len())

	applied, err = AppliedVersions(conn)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"000": true, "001": true}, applied)

	logs.TakeAll()
	require.NoError(t, Migrate(conn, zap.New(core).Sugar()), "idempotent")
	assert.Zero(t, logs.FilterMessage("migration applied").Len())
}

func TestMigrateClosed(t *testing.T) {
	conn, err := Open(filepath.Join(t.TempDir(), "local.db"), nil)
	require.NoError(t, err)
	conn.Close()

	err = Migrate(conn, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrClosed))
}

func TestOpenWithMigrations(t *testing.T) {
	conn, err := OpenWithMigrations(filepath.Join(t.TempDir(), "local.db"), nil)
	require.NoError(t, err)
	defer conn.Close()

	rows, err := conn.Query("PRAGMA table_info(variables)")
	require.NoError(t, err)
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var (
			cid       int
			name, typ string
			notNull   int
			dflt      interface{}
			pk        int
		)
		require.NoError(t, rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk))
		columns = append(columns, name)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []string{
		"name", "entity_type", "columns", "records", "record_count",
		"birth_command", "datasource", "inputs", "bound_at",
	}, columns)
}

func TestOpenWithMigrationsReadOnlyDir(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("root ignores directory permissions")
	}
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "local.db")
	first, err := Open(dbPath, nil)
	require.NoError(t, err)
	first.Close()

	require.NoError(t, os.Chmod(dir, 0o555))
	defer os.Chmod(dir, 0o755)

	conn, err := OpenWithMigrations(dbPath, nil)
	require.Error(t, err)
	assert.Nil(t, conn)
	assert.Contains(t, fmt.Sprintf("%+v", err), "stack trace:")
}
