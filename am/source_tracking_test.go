package am

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func settingsByKey(t *testing.T) map[string]SettingInfo {
	t.Helper()
	settings, err := GetConfigIntrospection()
	require.NoError(t, err)
	out := map[string]SettingInfo{}
	for _, s := range settings {
		out[s.Key] = s
	}
	return out
}

// Load -> introspection through the real file cascade
func TestSourceTrackingIntegration(t *testing.T) {
	t.Run("project config overrides user config", func(t *testing.T) {
		t.Cleanup(Reset)
		Reset()

		home := t.TempDir()
		require.NoError(t, os.MkdirAll(filepath.Join(home, ".kestrel"), DefaultDirPermissions))
		userPath := filepath.Join(home, ".kestrel", "am.toml")
		require.NoError(t, os.WriteFile(userPath, []byte(`
[language]
default_sort_order = "asc"

[session]
debug_sessions_retained = 5
`), DefaultFilePermissions))

		project := t.TempDir()
		projectPath := filepath.Join(project, "am.toml")
		require.NoError(t, os.WriteFile(projectPath, []byte(`
[session]
debug_sessions_retained = 9
`), DefaultFilePermissions))

		nested := filepath.Join(project, "hunts", "q1")
		require.NoError(t, os.MkdirAll(nested, DefaultDirPermissions))
		t.Chdir(nested)
		t.Setenv("HOME", home)

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, 9, cfg.Session.DebugSessionsRetained, "project config wins")
		assert.Equal(t, "asc", cfg.Language.DefaultSortOrder)

		settings := settingsByKey(t)
		retained := settings["session.debug_sessions_retained"]
		assert.Equal(t, SourceProject, retained.Source)
		assert.Equal(t, projectPath, retained.SourcePath)

		order := settings["language.default_sort_order"]
		assert.Equal(t, SourceUser, order.Source)
		assert.Equal(t, userPath, order.SourcePath)
		assert.Equal(t, "asc", order.Value)
	})

	t.Run("environment overrides project config", func(t *testing.T) {
		t.Cleanup(Reset)
		Reset()

		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "am.toml"), []byte(`
[session]
exit_marker = "file.exited"
`), DefaultFilePermissions))
		t.Chdir(dir)
		t.Setenv("HOME", dir)
		t.Setenv("KESTREL_SESSION_EXIT_MARKER", "env.exited")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, "env.exited", cfg.Session.ExitMarker)

		marker := settingsByKey(t)["session.exit_marker"]
		assert.Equal(t, SourceEnvironment, marker.Source)
		assert.Equal(t, "KESTREL_SESSION_EXIT_MARKER", marker.SourcePath)
		assert.Equal(t, "env.exited", marker.Value)
	})

	t.Run("invalid project config fails the load", func(t *testing.T) {
		t.Cleanup(Reset)
		Reset()

		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "am.toml"), []byte(`
[language]
default_sort_order = "sideways"
`), DefaultFilePermissions))
		t.Chdir(dir)
		t.Setenv("HOME", dir)

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "default_sort_order")
	})
}

func TestSourceTrackingDefaults(t *testing.T) {
	t.Cleanup(Reset)
	Reset()

	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)

	_, err := Load()
	require.NoError(t, err)

	prefix := settingsByKey(t)["session.cache_directory_prefix"]
	assert.Equal(t, SourceDefault, prefix.Source)
	assert.Equal(t, "built-in default", prefix.SourcePath)
	assert.Equal(t, DefaultCachePrefix, prefix.Value)
}
