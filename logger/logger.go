// Package logger holds the process-wide zap logger used by the kestrel CLI.
// Library packages take a *zap.SugaredLogger in their constructors and
// fall back to a no-op logger via OrNop; only cmd/kestrel touches Logger.
package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Logger is a no-op until Initialize runs.
	Logger = zap.NewNop().Sugar()
	// JSONOutput records the mode chosen by Initialize.
	JSONOutput bool
)

// Initialize replaces Logger. jsonOutput selects JSON lines; verbosity is
// the CLI -v count. Both modes write to stderr so DISP output on stdout
// stays clean.
func Initialize(jsonOutput bool, verbosity int) error {
	l, err := build(jsonOutput, zap.NewAtomicLevelAt(VerbosityToLevel(verbosity)))
	if err != nil {
		return err
	}
	JSONOutput = jsonOutput
	Logger = l.Sugar()
	return nil
}

func build(jsonOutput bool, level zap.AtomicLevel) (*zap.Logger, error) {
	if jsonOutput {
		cfg := zap.NewProductionConfig()
		cfg.Level = level
		cfg.OutputPaths = []string{"stderr"}
		cfg.ErrorOutputPaths = []string{"stderr"}
		return cfg.Build()
	}

	enc := zap.NewDevelopmentEncoderConfig()
	enc.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
	enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.Lock(os.Stderr), level)
	return zap.New(core, zap.ErrorOutput(zapcore.Lock(os.Stderr))), nil
}

// Cleanup flushes buffered entries. Sync errors on a terminal stderr are
// expected and ignored.
func Cleanup() {
	if Logger != nil {
		_ = Logger.Sync()
	}
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.SugaredLogger) *zap.SugaredLogger {
	if l == nil {
		return zap.NewNop().Sugar()
	}
	return l
}
