package am

import (
	"fmt"

	"github.com/spf13/viper"
)

// Default values shared by SetDefaults and the zero-value fallbacks below
const (
	DefaultVariable      = "_"
	DefaultSortOrder     = "desc"
	DefaultCachePrefix   = "kestrel-session-"
	DefaultLocalDatabase = "local.db"
	DefaultDebugEnvVar   = "KESTREL_DEBUG"
	DefaultDebugCacheDir = "kestrel"
	DefaultExitMarker    = "session.exited"
	DefaultRetained      = 3
	DefaultVariableCache = 128
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	v.SetDefault("language.default_variable", DefaultVariable)
	v.SetDefault("language.default_sort_order", DefaultSortOrder)
	v.SetDefault("language.default_datasource_schema", "stixshifter")
	v.SetDefault("language.default_analytics_schema", "docker")

	v.SetDefault("session.cache_directory_prefix", DefaultCachePrefix)
	v.SetDefault("session.local_database_path", DefaultLocalDatabase)
	v.SetDefault("session.show_execution_summary", true)
	v.SetDefault("session.debug_env_var", DefaultDebugEnvVar)
	v.SetDefault("session.debug_cache_directory", DefaultDebugCacheDir)
	v.SetDefault("session.exit_marker", DefaultExitMarker)
	v.SetDefault("session.debug_sessions_retained", DefaultRetained)
	v.SetDefault("session.variable_cache_size", DefaultVariableCache)

	v.SetDefault("prefetch.get", true)
	v.SetDefault("prefetch.find", true)
	v.SetDefault("prefetch.process_name_change_timerange_start_offset", -5)
	v.SetDefault("prefetch.process_name_change_timerange_stop_offset", 5)
	v.SetDefault("prefetch.process_lifespan_timerange_start_offset", -10800) // 3 hours
	v.SetDefault("prefetch.process_lifespan_timerange_stop_offset", 10800)

	v.SetDefault("stixquery.timerange_start_offset", -300)
	v.SetDefault("stixquery.timerange_stop_offset", 300)
	v.SetDefault("stixquery.support_id", false)
}

// Default returns the built-in configuration without reading any file or
// environment variable.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg, err := LoadWithViper(v)
	if err != nil {
		// defaults always unmarshal
		panic(err)
	}
	return cfg
}

// GetDefaultVariable returns the default variable name
func (c *Config) GetDefaultVariable() string {
	if c.Language.DefaultVariable == "" {
		return DefaultVariable
	}
	return c.Language.DefaultVariable
}

// GetLocalDatabasePath returns the local store path relative to the session directory
func (c *Config) GetLocalDatabasePath() string {
	if c.Session.LocalDatabasePath == "" {
		return DefaultLocalDatabase
	}
	return c.Session.LocalDatabasePath
}

// GetVariableCacheSize returns the memo size, never less than 1
func (c *Config) GetVariableCacheSize() int {
	if c.Session.VariableCacheSize <= 0 {
		return DefaultVariableCache
	}
	return c.Session.VariableCacheSize
}

// String returns a string representation of the config
func (c *Config) String() string {
	return fmt.Sprintf("Config{Language: {DefaultVariable: %s, DefaultSortOrder: %s}, Prefetch: {Get: %t, Find: %t}, StixQuery: {%d, %d}}",
		c.Language.DefaultVariable, c.Language.DefaultSortOrder,
		c.Prefetch.Get, c.Prefetch.Find,
		c.StixQuery.TimerangeStartOffset, c.StixQuery.TimerangeStopOffset)
}
