package logger

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu           sync.RWMutex
	debugEnabled = false
	base         = zap.NewNop()
	sugar        = base.Sugar()
)

// Init initializes the process-wide logger. format is "console" or "json".
// Output goes to stderr so stdio transports keep stdout to themselves.
func Init(debug bool, format string) {
	level := zapcore.InfoLevel
	if debug {
		level = zapcore.DebugLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if format == "json" {
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), zap.NewAtomicLevelAt(level))
	l := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(2))

	mu.Lock()
	debugEnabled = debug
	base = l
	sugar = l.Sugar()
	mu.Unlock()

	if debug {
		Debug("Debug logging enabled")
	}
}

// Zap returns the structured logger for components that log with fields.
func Zap() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base.WithOptions(zap.AddCallerSkip(-2))
}

// Sync flushes buffered entries.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = base.Sync()
}

// IsDebugEnabled returns whether debug logging is enabled
func IsDebugEnabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return debugEnabled
}

func logf(level zapcore.Level, component, format string, v ...interface{}) {
	mu.RLock()
	s := sugar
	mu.RUnlock()

	if component != "" {
		s = s.With("component", component)
	}
	switch level {
	case zapcore.DebugLevel:
		s.Debugf(format, v...)
	case zapcore.WarnLevel:
		s.Warnf(format, v...)
	case zapcore.ErrorLevel:
		s.Errorf(format, v...)
	default:
		s.Infof(format, v...)
	}
}

// Debug logs a debug message if debug mode is enabled
func Debug(format string, v ...interface{}) { logf(zapcore.DebugLevel, "", format, v...) }

// Info logs an info message
func Info(format string, v ...interface{}) { logf(zapcore.InfoLevel, "", format, v...) }

// Warn logs a warning message
func Warn(format string, v ...interface{}) { logf(zapcore.WarnLevel, "", format, v...) }

// Error logs an error message
func Error(format string, v ...interface{}) { logf(zapcore.ErrorLevel, "", format, v...) }
