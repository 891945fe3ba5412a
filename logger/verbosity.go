package logger

import "go.uber.org/zap/zapcore"

// Verbosity level constants for CLI flag counts.
const (
	VerbosityUser  = 0 // No flags: results and errors only
	VerbosityInfo  = 1 // -v: + session lifecycle, execution summary
	VerbosityDebug = 2 // -vv: + per-command dispatch, patterns, prefetch plans
	VerbosityTrace = 3 // -vvv: + store reads/writes, collaborator requests
)

// VerbosityToLevel maps verbosity flags (-v, -vv, etc.) to zap log levels
//
//	0 (none)  -> WarnLevel
//	1 (-v)    -> InfoLevel
//	2+ (-vv)  -> DebugLevel
func VerbosityToLevel(verbosity int) zapcore.Level {
	switch {
	case verbosity <= VerbosityUser:
		return zapcore.WarnLevel
	case verbosity == VerbosityInfo:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}

// OutputCategory is a kind of user-facing output gated by verbosity,
// independent of log severity.
type OutputCategory int

const (
	OutputResults   OutputCategory = iota // DISP / INFO / analytics displays
	OutputErrors                          // statement errors with hints
	OutputSummary                         // execution summary table
	OutputPatterns                        // translated patterns and time windows
	OutputStoreIO                         // local store traffic
)

var categoryLevels = map[OutputCategory]int{
	OutputResults:  VerbosityUser,
	OutputErrors:   VerbosityUser,
	OutputSummary:  VerbosityInfo,
	OutputPatterns: VerbosityDebug,
	OutputStoreIO:  VerbosityTrace,
}

// ShouldOutput returns true if the given category should be shown at the given verbosity
func ShouldOutput(verbosity int, category OutputCategory) bool {
	minLevel, ok := categoryLevels[category]
	if !ok {
		return verbosity >= VerbosityTrace
	}
	return verbosity >= minLevel
}
