package logger

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	globalLogger *zap.Logger
	once         sync.Once
)

// Options configures the global logger
type Options struct {
	Level       string
	Development bool
	Service     string
	Version     string
}

// Init initializes the global logger. Subsequent calls are no-ops.
func Init(opts Options) error {
	var err error
	once.Do(func() {
		var zapLevel zapcore.Level
		if opts.Level == "" {
			opts.Level = "info"
		}
		if err = zapLevel.UnmarshalText([]byte(opts.Level)); err != nil {
			return
		}

		var config zap.Config
		if opts.Development {
			config = zap.NewDevelopmentConfig()
			config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		} else {
			config = zap.NewProductionConfig()
		}
		config.Level = zap.NewAtomicLevelAt(zapLevel)
		config.EncoderConfig.TimeKey = "timestamp"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

		var fields []zap.Field
		if opts.Service != "" {
			fields = append(fields, zap.String("service", opts.Service))
		}
		if opts.Version != "" {
			fields = append(fields, zap.String("version", opts.Version))
		}

		var built *zap.Logger
		built, err = config.Build(zap.Fields(fields...))
		if err != nil {
			return
		}
		globalLogger = built
	})
	return err
}

// Get returns the global logger instance
func Get() *zap.Logger {
	if globalLogger == nil {
		return zap.NewNop()
	}
	return globalLogger
}

// Named returns a child of the global logger for a component
func Named(component string) *zap.Logger {
	return Get().Named(component)
}

// Sync flushes any buffered log entries
func Sync() error {
	if globalLogger != nil {
		return globalLogger.Sync()
	}
	return nil
}
