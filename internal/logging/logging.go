// Package logging provides the package-level zap logger used throughout
// eventd, mirroring systemli-userli-postfix-adapter's package-global
// logger variable wired through zap.New at startup.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	logger = zap.NewNop()
	level  = zap.NewAtomicLevel()
)

// Init builds the process-wide logger. debug selects a human-readable
// development encoder; otherwise a JSON production encoder is used. The level is held
// in an AtomicLevel so SetLevel can adjust verbosity without rebuilding
// the logger.
func Init(debug bool) (*zap.Logger, error) {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = level
	l, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	logger = l
	return l, nil
}

// L returns the current process-wide logger.
func L() *zap.Logger { return logger }

// SetLevel adjusts the live logging verbosity, the safe knob config.Watcher
// reloads on a file change without requiring a restart.
func SetLevel(name string) error {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(name)); err != nil {
		return fmt.Errorf("logging: unknown level %q: %w", name, err)
	}
	level.SetLevel(lvl)
	return nil
}
