// Package am holds Kestrel's configuration: the values the interpreter,
// the query translator, the prefetch planner and the session manager read.
//
// Configuration is layered with viper; see Load for the precedence.
package am

// Config represents the core Kestrel configuration
type Config struct {
	Language  LanguageConfig  `mapstructure:"language" toml:"language"`
	Session   SessionConfig   `mapstructure:"session" toml:"session"`
	Prefetch  PrefetchConfig  `mapstructure:"prefetch" toml:"prefetch"`
	StixQuery StixQueryConfig `mapstructure:"stixquery" toml:"stixquery"`
}

// LanguageConfig configures defaults of the hunt-flow language
type LanguageConfig struct {
	DefaultVariable         string `mapstructure:"default_variable" toml:"default_variable"`
	DefaultSortOrder        string `mapstructure:"default_sort_order" toml:"default_sort_order"` // asc | desc
	DefaultDatasourceSchema string `mapstructure:"default_datasource_schema" toml:"default_datasource_schema"`
	DefaultAnalyticsSchema  string `mapstructure:"default_analytics_schema" toml:"default_analytics_schema"`
}

// SessionConfig configures the session working directory and local store
type SessionConfig struct {
	CacheDirectoryPrefix string `mapstructure:"cache_directory_prefix" toml:"cache_directory_prefix"`
	LocalDatabasePath    string `mapstructure:"local_database_path" toml:"local_database_path"` // relative to the session directory
	ShowExecutionSummary bool   `mapstructure:"show_execution_summary" toml:"show_execution_summary"`

	// Debug mode is on when the environment variable named DebugEnvVar is set
	DebugEnvVar           string `mapstructure:"debug_env_var" toml:"debug_env_var"`
	DebugCacheDirectory   string `mapstructure:"debug_cache_directory" toml:"debug_cache_directory"` // under the system temp root
	ExitMarker            string `mapstructure:"exit_marker" toml:"exit_marker"`
	DebugSessionsRetained int    `mapstructure:"debug_sessions_retained" toml:"debug_sessions_retained"`

	// VariableCacheSize bounds the in-memory memo in front of the local store
	VariableCacheSize int `mapstructure:"variable_cache_size" toml:"variable_cache_size"`
}

// PrefetchConfig toggles prefetch per command kind and sets its windows.
// A zero-width offset pair disables the expansion it governs.
type PrefetchConfig struct {
	Get  bool `mapstructure:"get" toml:"get"`
	Find bool `mapstructure:"find" toml:"find"`

	ProcessNameChangeStartOffset int `mapstructure:"process_name_change_timerange_start_offset" toml:"process_name_change_timerange_start_offset"`
	ProcessNameChangeStopOffset  int `mapstructure:"process_name_change_timerange_stop_offset" toml:"process_name_change_timerange_stop_offset"`
	ProcessLifespanStartOffset   int `mapstructure:"process_lifespan_timerange_start_offset" toml:"process_lifespan_timerange_start_offset"`
	ProcessLifespanStopOffset    int `mapstructure:"process_lifespan_timerange_stop_offset" toml:"process_lifespan_timerange_stop_offset"`
}

// StixQueryConfig configures pattern translation; offsets are in seconds
type StixQueryConfig struct {
	TimerangeStartOffset int  `mapstructure:"timerange_start_offset" toml:"timerange_start_offset"`
	TimerangeStopOffset  int  `mapstructure:"timerange_stop_offset" toml:"timerange_stop_offset"`
	SupportID            bool `mapstructure:"support_id" toml:"support_id"`
}

// File permission constants
const (
	DefaultDirPermissions  = 0755
	DefaultFilePermissions = 0644
)
