package logger

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps a zap SugaredLogger. Engines obtain named children via
// GetLogger so log lines carry their component (e.g. "risk.var").
type Logger struct {
	*zap.SugaredLogger
}

var (
	globalLogger *Logger
	once         sync.Once
)

// Init configures the process-wide logger. Console encoding in
// development, JSON in production. Safe to call more than once; only
// the first call takes effect.
func Init(level string, env string) {
	once.Do(func() {
		encoderConfig := zapcore.EncoderConfig{
			TimeKey:        "ts",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		}

		var encoder zapcore.Encoder
		if env == "production" {
			encoder = zapcore.NewJSONEncoder(encoderConfig)
		} else {
			encoder = zapcore.NewConsoleEncoder(encoderConfig)
		}

		logLevel := zapcore.InfoLevel
		switch level {
		case "debug":
			logLevel = zapcore.DebugLevel
		case "warn":
			logLevel = zapcore.WarnLevel
		case "error":
			logLevel = zapcore.ErrorLevel
		}

		core := zapcore.NewCore(
			encoder,
			zapcore.AddSync(os.Stdout),
			zap.NewAtomicLevelAt(logLevel),
		)

		globalLogger = &Logger{zap.New(core, zap.AddCaller()).Sugar()}
	})
}

// GetLogger returns a named logger, initializing defaults if Init has
// not run yet.
func GetLogger(name string) *Logger {
	if globalLogger == nil {
		Init("info", "development")
	}
	return &Logger{globalLogger.Named(name)}
}

// With returns a logger with additional structured context.
func (l *Logger) With(args ...interface{}) *Logger {
	return &Logger{l.SugaredLogger.With(args...)}
}

// Sync flushes any buffered log entries.
func (l *Logger) Sync() error {
	return l.SugaredLogger.Sync()
}
