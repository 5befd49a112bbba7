// Package logging provides the provider's structured logger.
//
// A zap core does the encoding; callers see it through logr so that the
// same logger can be handed to libovsdb and installed as the klog sink.
// Request handlers store a request scoped logger in the context, and the
// OVN and auth layers derive their loggers from it.
//
//	logger, err := logging.NewLogger(logging.OptionsFromConfig(cfg.Logging))
//	logger.Info("Serving networking API", "address", ":9696")
package logging

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"k8s.io/klog/v2"

	"github.com/jiayi-1994/ovn-provider/pkg/config"
)

// Log levels accepted in [LOGGING] level.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Log formats accepted in [LOGGING] format.
const (
	FormatJSON = "json"
	FormatText = "text"
)

// Options configures NewLogger.
type Options struct {
	// Level is one of the Level constants. Empty means info.
	Level string

	// Format is FormatJSON or FormatText. Empty means json.
	Format string

	// OutputPath is appended to; empty logs to stderr.
	OutputPath string
}

// DefaultOptions logs JSON at info level to stderr.
func DefaultOptions() Options {
	return Options{Level: LevelInfo, Format: FormatJSON}
}

// OptionsFromConfig maps the [LOGGING] section to Options.
func OptionsFromConfig(cfg config.LoggingConfig) Options {
	return Options{Level: cfg.Level, Format: cfg.Format, OutputPath: cfg.File}
}

// Logger is a named logr.Logger with a handle on the zap level.
type Logger struct {
	level zap.AtomicLevel
	logr  logr.Logger
	sync  func() error
}

var (
	globalLogger atomic.Value
	initOnce     sync.Once
)

// NewLogger builds a Logger writing to opts.OutputPath.
func NewLogger(opts Options) (*Logger, error) {
	level, err := parseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	atomicLevel := zap.NewAtomicLevelAt(level)

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "ts"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	var encoder zapcore.Encoder
	switch opts.Format {
	case FormatText:
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	case FormatJSON, "":
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	default:
		return nil, fmt.Errorf("unknown log format %q", opts.Format)
	}

	output := zapcore.Lock(os.Stderr)
	if opts.OutputPath != "" {
		file, err := os.OpenFile(opts.OutputPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		output = zapcore.AddSync(file)
	}

	zapLogger := zap.New(zapcore.NewCore(encoder, output, atomicLevel), zap.AddCaller())
	return &Logger{
		level: atomicLevel,
		logr:  zapr.NewLogger(zapLogger),
		sync:  zapLogger.Sync,
	}, nil
}

// parseLevel maps a level name to zap. An empty level means info.
func parseLevel(level string) (zapcore.Level, error) {
	switch level {
	case LevelDebug:
		return zapcore.DebugLevel, nil
	case LevelInfo, "":
		return zapcore.InfoLevel, nil
	case LevelWarn, "warning":
		return zapcore.WarnLevel, nil
	case LevelError:
		return zapcore.ErrorLevel, nil
	}
	return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", level)
}

// Enabled reports whether messages at level are written.
func (l *Logger) Enabled(level string) bool {
	lvl, err := parseLevel(level)
	return err == nil && l.level.Enabled(lvl)
}

// Logger returns the logr view of l.
func (l *Logger) Logger() logr.Logger {
	return l.logr
}

// WithName appends name to the logger name.
func (l *Logger) WithName(name string) *Logger {
	return &Logger{level: l.level, logr: l.logr.WithName(name), sync: l.sync}
}

// WithValues adds key-value pairs to every entry.
func (l *Logger) WithValues(keysAndValues ...interface{}) *Logger {
	return &Logger{level: l.level, logr: l.logr.WithValues(keysAndValues...), sync: l.sync}
}

// Debug logs at V(1).
func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.logr.V(1).Info(msg, keysAndValues...)
}

func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.logr.Info(msg, keysAndValues...)
}

func (l *Logger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logr.Error(err, msg, keysAndValues...)
}

// V returns the logr logger at verbosity level.
func (l *Logger) V(level int) logr.Logger {
	return l.logr.V(level)
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	return l.sync()
}

// InitGlobalLogger installs the process logger and routes klog through
// it. Only the first call has an effect.
func InitGlobalLogger(opts Options) error {
	var initErr error
	initOnce.Do(func() {
		logger, err := NewLogger(opts)
		if err != nil {
			initErr = err
			return
		}
		globalLogger.Store(logger)
		klog.SetLogger(logger.Logger().WithName("klog"))
	})
	return initErr
}

// GetGlobalLogger returns the process logger, or a default one before
// InitGlobalLogger ran.
func GetGlobalLogger() *Logger {
	if l := globalLogger.Load(); l != nil {
		return l.(*Logger)
	}
	logger, _ := NewLogger(DefaultOptions())
	return logger
}
