package logger

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	globalLogger *Logger
	globalMu     sync.RWMutex
	once         sync.Once
)

// Logger provides leveled, printf-style logging on top of zap
type Logger struct {
	verbose bool
	logFile *os.File
	base    *zap.Logger
	sugar   *zap.SugaredLogger
}

// NewLogger creates a new logger instance.
// With a log file and verbose=false, output goes to the file only; with verbose=true
// it goes to both stderr and the file.
func NewLogger(verbose bool, logFilePath string) (*Logger, error) {
	l := &Logger{
		verbose: verbose,
	}

	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}

	stderr := zapcore.Lock(os.Stderr)
	var sink zapcore.WriteSyncer = stderr

	if logFilePath != "" {
		f, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		l.logFile = f

		if verbose {
			sink = zapcore.NewMultiWriteSyncer(stderr, zapcore.AddSync(f))
		} else {
			sink = zapcore.AddSync(f)
		}
	}

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig()), sink, level)
	l.base = zap.New(core)
	l.sugar = l.base.Sugar()

	return l, nil
}

// NewNop returns a logger that discards everything
func NewNop() *Logger {
	base := zap.NewNop()
	return &Logger{base: base, sugar: base.Sugar()}
}

func encoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006/01/02 15:04:05")
	cfg.EncodeLevel = func(lvl zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString("[" + lvl.CapitalString() + "]")
	}
	cfg.CallerKey = ""
	cfg.ConsoleSeparator = " "
	return cfg
}

// Close flushes buffered entries and closes the log file if open
func (l *Logger) Close() error {
	_ = l.base.Sync()
	if l.logFile != nil {
		err := l.logFile.Close()
		l.logFile = nil
		return err
	}
	return nil
}

// With returns a child logger that attaches the given key/value pairs to every entry
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	child := l.sugar.With(keysAndValues...)
	return &Logger{
		verbose: l.verbose,
		base:    child.Desugar(),
		sugar:   child,
	}
}

// Info logs an informational message
func (l *Logger) Info(format string, args ...interface{}) {
	l.sugar.Infof(format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.sugar.Errorf(format, args...)
}

// Debug logs a debug message (only if verbose)
func (l *Logger) Debug(format string, args ...interface{}) {
	l.sugar.Debugf(format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	l.sugar.Warnf(format, args...)
}

// Infof is an alias for Info
func (l *Logger) Infof(format string, args ...interface{}) {
	l.Info(format, args...)
}

// Errorf is an alias for Error
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.Error(format, args...)
}

// Debugf is an alias for Debug
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.Debug(format, args...)
}

// Warnf is an alias for Warn
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.Warn(format, args...)
}

// Step logs a step in the process with timing
func (l *Logger) Step(name string) *Step {
	return &Step{
		logger:    l,
		name:      name,
		startTime: time.Now(),
	}
}

// Get returns the global logger instance, creating it if necessary
func Get() *Logger {
	once.Do(func() {
		l, err := NewLogger(defaultVerboseFromEnv(), "")
		if err != nil {
			l = NewNop()
		}
		globalMu.Lock()
		if globalLogger == nil {
			globalLogger = l
		}
		globalMu.Unlock()
	})

	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

// SetGlobal sets the global logger instance
func SetGlobal(l *Logger) {
	globalMu.Lock()
	globalLogger = l
	globalMu.Unlock()
}

// Step represents a timed step in the process
type Step struct {
	logger    *Logger
	name      string
	startTime time.Time
}

// Complete marks the step as complete and logs the duration
func (s *Step) Complete() {
	duration := time.Since(s.startTime)
	s.logger.Info("%s completed in %.2fs", s.name, duration.Seconds())
}

// Fail marks the step as failed and logs the error
func (s *Step) Fail(err error) {
	duration := time.Since(s.startTime)
	s.logger.Error("%s failed after %.2fs: %v", s.name, duration.Seconds(), err)
}

func defaultVerboseFromEnv() bool {
	if parseBoolEnv(os.Getenv("GERRIT_TRIGGER_DEBUG")) {
		return true
	}
	if parseBoolEnv(os.Getenv("LOG_VERBOSE")) {
		return true
	}

	level := strings.ToLower(strings.TrimSpace(os.Getenv("LOG_LEVEL")))
	return level == "debug" || level == "trace"
}

func parseBoolEnv(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
