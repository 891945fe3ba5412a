package am

import (
	"strings"

	"github.com/teranos/kestrel/errors"
)

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Language.DefaultVariable == "" {
		return errors.New("language.default_variable cannot be empty")
	}
	switch strings.ToLower(c.Language.DefaultSortOrder) {
	case "asc", "desc":
	default:
		return errors.Newf("language.default_sort_order must be asc or desc, got %q", c.Language.DefaultSortOrder)
	}

	// Offsets are signed; only the ordering of each pair matters.
	// Equal values form a zero-width pair, which disables a prefetch query.
	pairs := []struct {
		name        string
		start, stop int
	}{
		{"prefetch.process_name_change_timerange", c.Prefetch.ProcessNameChangeStartOffset, c.Prefetch.ProcessNameChangeStopOffset},
		{"prefetch.process_lifespan_timerange", c.Prefetch.ProcessLifespanStartOffset, c.Prefetch.ProcessLifespanStopOffset},
		{"stixquery.timerange", c.StixQuery.TimerangeStartOffset, c.StixQuery.TimerangeStopOffset},
	}
	for _, p := range pairs {
		if p.start > p.stop {
			return errors.Newf("%s_start_offset (%d) must not exceed %s_stop_offset (%d)", p.name, p.start, p.name, p.stop)
		}
	}

	if c.StixQuery.TimerangeStartOffset == c.StixQuery.TimerangeStopOffset {
		return errors.New("stixquery.timerange offsets must differ: a GET window cannot be empty")
	}

	// Retention: 0 = keep no exited debug session, negative = invalid
	if c.Session.DebugSessionsRetained < 0 {
		return errors.Newf("session.debug_sessions_retained must be >= 0, got %d", c.Session.DebugSessionsRetained)
	}
	// 0 selects the built-in memo size
	if c.Session.VariableCacheSize < 0 {
		return errors.Newf("session.variable_cache_size must be >= 0, got %d", c.Session.VariableCacheSize)
	}
	if c.Session.ExitMarker == "" {
		return errors.New("session.exit_marker cannot be empty")
	}
	return nil
}
