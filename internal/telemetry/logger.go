// Package telemetry is the ambient observability stack (SPEC_FULL.md
// "AMBIENT STACK"): structured logging via go.uber.org/zap, a Prometheus
// metrics registry, and an OpenTelemetry tracer provider. The teacher logs
// with the standard library's log package; this generalizes that concern to
// the corpus's structured-logging idiom (jordigilh-kubernaut,
// kadirpekel-hector both construct a single zap.Logger at startup and pass
// it explicitly rather than reaching for package-level globals).
package telemetry

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LoggerConfig controls the constructed zap.Logger.
type LoggerConfig struct {
	// Level is one of debug|info|warn|error. Empty defaults to info.
	Level string
	// Development enables human-readable console output instead of JSON,
	// mirroring zap's own dev/prod split.
	Development bool
}

// NewLogger builds a zap.Logger from cfg. Errors constructing the level are
// treated as a request for info, not a fatal condition.
func NewLogger(cfg LoggerConfig) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}

	level, err := parseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	return zcfg.Build()
}

func parseLevel(s string) (zapcore.Level, error) {
	if s == "" {
		return zapcore.InfoLevel, nil
	}
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return zapcore.InfoLevel, err
	}
	return level, nil
}
