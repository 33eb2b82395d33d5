// Package commons holds the small set of cross-cutting helpers shared by
// every engine component: the structured logger. The typed error kinds
// live in internal/errors.
package commons

import (
	"os"

	"go.uber.org/zap"
)

// Logger is the structured logging contract used throughout the engine.
// Components never log against a global; a Logger is constructed once in
// main and threaded down through constructors.
type Logger interface {
	Debug(args ...interface{})
	Debugf(format string, args ...interface{})
	Debugw(msg string, keysAndValues ...interface{})

	Info(args ...interface{})
	Infof(format string, args ...interface{})
	Infow(msg string, keysAndValues ...interface{})

	Warn(args ...interface{})
	Warnf(format string, args ...interface{})
	Warnw(msg string, keysAndValues ...interface{})

	Error(args ...interface{})
	Errorf(format string, args ...interface{})
	Errorw(msg string, keysAndValues ...interface{})

	// With returns a child logger carrying the given key/value pairs on
	// every subsequent entry. Used to attach call-scoped fields such as
	// channel_id without threading them through every call site.
	With(keysAndValues ...interface{}) Logger

	// Sync flushes any buffered log entries. Safe to call on shutdown.
	Sync() error
}

type zapLogger struct {
	sugar *zap.SugaredLogger
}

// NewApplicationLogger builds the process-wide logger. Production builds use
// JSON output to stderr at info level; set LOG_LEVEL=debug to raise
// verbosity and LOG_FORMAT=console for human-readable local development.
func NewApplicationLogger() (Logger, error) {
	var cfg zap.Config
	if os.Getenv("LOG_FORMAT") == "console" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		var zlvl zap.AtomicLevel
		if err := zlvl.UnmarshalText([]byte(lvl)); err == nil {
			cfg.Level = zlvl
		}
	}
	z, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &zapLogger{sugar: z.Sugar()}, nil
}

func (l *zapLogger) Debug(args ...interface{})                    { l.sugar.Debug(args...) }
func (l *zapLogger) Debugf(format string, args ...interface{})    { l.sugar.Debugf(format, args...) }
func (l *zapLogger) Debugw(msg string, kv ...interface{})         { l.sugar.Debugw(msg, kv...) }
func (l *zapLogger) Info(args ...interface{})                     { l.sugar.Info(args...) }
func (l *zapLogger) Infof(format string, args ...interface{})     { l.sugar.Infof(format, args...) }
func (l *zapLogger) Infow(msg string, kv ...interface{})          { l.sugar.Infow(msg, kv...) }
func (l *zapLogger) Warn(args ...interface{})                     { l.sugar.Warn(args...) }
func (l *zapLogger) Warnf(format string, args ...interface{})     { l.sugar.Warnf(format, args...) }
func (l *zapLogger) Warnw(msg string, kv ...interface{})          { l.sugar.Warnw(msg, kv...) }
func (l *zapLogger) Error(args ...interface{})                    { l.sugar.Error(args...) }
func (l *zapLogger) Errorf(format string, args ...interface{})    { l.sugar.Errorf(format, args...) }
func (l *zapLogger) Errorw(msg string, kv ...interface{})         { l.sugar.Errorw(msg, kv...) }

func (l *zapLogger) With(kv ...interface{}) Logger {
	return &zapLogger{sugar: l.sugar.With(kv...)}
}

func (l *zapLogger) Sync() error { return l.sugar.Sync() }
