// Package logging wraps go.uber.org/zap the way steemit-hivemind's
// pkg/logging wraps it: a package-level Logger, an Init that builds it
// from config, and With* helpers for tagging a sub-logger with a
// component name. Repository-layer code keeps using log/slog directly,
// matching the teacher's existing slog.Info(err.Error()) call sites;
// this package is for the service/scheduler/FSM layers that need
// structured fields (account id, post id, container id) attached.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var base *zap.Logger

// Init builds the package-level logger. level is one of zap's level
// strings ("debug", "info", "warn", "error"); json selects production
// JSON encoding over human-readable development encoding.
func Init(level string, json bool) error {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zapcore.InfoLevel
	}

	var cfg zap.Config
	if json {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	logger, err := cfg.Build(zap.AddCaller())
	if err != nil {
		return err
	}
	base = logger
	return nil
}

// L returns the package-level logger, falling back to a bare production
// logger if Init was never called (tests, ad hoc tools).
func L() *zap.Logger {
	if base == nil {
		fallback, _ := zap.NewProduction(zap.ErrorOutput(zapcore.AddSync(os.Stderr)))
		base = fallback
	}
	return base
}

// With returns a child logger tagged with the given component name —
// e.g. logging.With("scheduler"), logging.With("fsm").
func With(component string) *zap.Logger {
	return L().With(zap.String("component", component))
}

// Sync flushes buffered log entries; call on shutdown.
func Sync() {
	if base != nil {
		_ = base.Sync()
	}
}
