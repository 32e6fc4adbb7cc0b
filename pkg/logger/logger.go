package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Logger is the structured logging surface used across the service.
// Derived loggers returned by the With* methods carry their fields into
// every entry they write.
type Logger interface {
	Debug(args ...interface{})
	Debugf(format string, args ...interface{})
	Info(args ...interface{})
	Infof(format string, args ...interface{})
	Warn(args ...interface{})
	Warnf(format string, args ...interface{})
	Error(args ...interface{})
	Errorf(format string, args ...interface{})
	WithField(key string, value interface{}) Logger
	WithFields(fields Fields) Logger
	WithError(err error) Logger
	WithComponent(component string) Logger
}

// Fields are structured key/value pairs attached to log entries
type Fields map[string]interface{}

// Config selects level, encoding and destination of log output
type Config struct {
	Level            Level  `json:"level" mapstructure:"level"`
	Format           Format `json:"format" mapstructure:"format"`
	Output           Output `json:"output" mapstructure:"output"`
	File             string `json:"file,omitempty" mapstructure:"file"`
	DisableTimestamp bool   `json:"disable_timestamp,omitempty" mapstructure:"disable_timestamp"`
	CallerInfo       bool   `json:"caller_info,omitempty" mapstructure:"caller_info"`

	// Writer overrides Output when set; used by tests.
	Writer io.Writer `json:"-" mapstructure:"-"`
}

type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
	FatalLevel Level = "fatal"
)

var logrusLevels = map[Level]logrus.Level{
	DebugLevel: logrus.DebugLevel,
	InfoLevel:  logrus.InfoLevel,
	WarnLevel:  logrus.WarnLevel,
	ErrorLevel: logrus.ErrorLevel,
	FatalLevel: logrus.FatalLevel,
}

type Format string

const (
	JSONFormat Format = "json"
	TextFormat Format = "text"
)

type Output string

const (
	StdoutOutput Output = "stdout"
	StderrOutput Output = "stderr"
	FileOutput   Output = "file"
)

// DefaultConfig logs info and above as text on stderr, leaving stdout to
// reports.
func DefaultConfig() *Config {
	return &Config{
		Level:  InfoLevel,
		Format: TextFormat,
		Output: StderrOutput,
	}
}

func (c *Config) Validate() error {
	if _, ok := logrusLevels[c.Level]; !ok {
		return fmt.Errorf("invalid log level: %s", c.Level)
	}
	switch c.Format {
	case JSONFormat, TextFormat:
	default:
		return fmt.Errorf("invalid log format: %s", c.Format)
	}
	if c.Writer != nil {
		return nil
	}

	switch c.Output {
	case StdoutOutput, StderrOutput:
		return nil
	case FileOutput:
		if strings.TrimSpace(c.File) == "" {
			return fmt.Errorf("log file path is required for file output")
		}
		return nil
	default:
		return fmt.Errorf("invalid log output: %s", c.Output)
	}
}

// NewLogger builds a logrus-backed Logger. A nil config means DefaultConfig.
func NewLogger(config *Config) (Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid logger configuration: %w", err)
	}

	out, err := config.writer()
	if err != nil {
		return nil, fmt.Errorf("failed to set log output: %w", err)
	}

	base := logrus.New()
	base.SetLevel(logrusLevels[config.Level])
	base.SetOutput(out)
	base.SetFormatter(config.formatter())
	base.SetReportCaller(config.CallerInfo)

	return &entryLogger{entry: logrus.NewEntry(base)}, nil
}

func (c *Config) writer() (io.Writer, error) {
	if c.Writer != nil {
		return c.Writer, nil
	}
	switch c.Output {
	case StdoutOutput:
		return os.Stdout, nil
	case StderrOutput:
		return os.Stderr, nil
	}

	if err := os.MkdirAll(filepath.Dir(c.File), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(c.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, nil
}

// callerLocation renders the reporting frame as file:line.
func callerLocation(f *runtime.Frame) string {
	return fmt.Sprintf("%s:%d", filepath.Base(f.File), f.Line)
}

func (c *Config) formatter() logrus.Formatter {
	if c.Format == JSONFormat {
		return &logrus.JSONFormatter{
			DisableTimestamp: c.DisableTimestamp,
			TimestampFormat:  time.RFC3339,
			CallerPrettyfier: func(f *runtime.Frame) (string, string) {
				return f.Function, callerLocation(f)
			},
		}
	}
	return &logrus.TextFormatter{
		DisableTimestamp: c.DisableTimestamp,
		FullTimestamp:    !c.DisableTimestamp,
		TimestampFormat:  time.DateTime,
		CallerPrettyfier: func(f *runtime.Frame) (string, string) {
			return "", callerLocation(f)
		},
	}
}

type entryLogger struct {
	entry *logrus.Entry
}

func (l *entryLogger) derive(e *logrus.Entry) Logger { return &entryLogger{entry: e} }

func (l *entryLogger) Debug(args ...interface{})                 { l.entry.Debug(args...) }
func (l *entryLogger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *entryLogger) Info(args ...interface{})                  { l.entry.Info(args...) }
func (l *entryLogger) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *entryLogger) Warn(args ...interface{})                  { l.entry.Warn(args...) }
func (l *entryLogger) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *entryLogger) Error(args ...interface{})                 { l.entry.Error(args...) }
func (l *entryLogger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }

func (l *entryLogger) WithField(key string, value interface{}) Logger {
	return l.derive(l.entry.WithField(key, value))
}

func (l *entryLogger) WithFields(fields Fields) Logger {
	return l.derive(l.entry.WithFields(logrus.Fields(fields)))
}

func (l *entryLogger) WithError(err error) Logger {
	return l.derive(l.entry.WithError(err))
}

func (l *entryLogger) WithComponent(component string) Logger {
	return l.derive(l.entry.WithField("component", component))
}

var globalLogger Logger = mustDefault()

func mustDefault() Logger {
	l, err := NewLogger(DefaultConfig())
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize logger")
	}
	return l
}

// SetGlobalLogger replaces the process-wide logger; the CLI calls it once
// configuration is loaded.
func SetGlobalLogger(l Logger) {
	globalLogger = l
}

func GetGlobalLogger() Logger {
	return globalLogger
}

// WithComponent derives a component logger from the global logger
func WithComponent(component string) Logger {
	return globalLogger.WithComponent(component)
}

// Discard returns a logger that drops everything.
func Discard() Logger {
	l, _ := NewLogger(&Config{Level: ErrorLevel, Format: TextFormat, Writer: io.Discard})
	return l
}
