// Package logging contains the zap backed loggers used by pcdepth.
package logging

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// GlobalLogLevel flips every logger into debug mode, e.g. from a `--debug` flag.
var GlobalLogLevel = zap.NewAtomicLevelAt(zap.InfoLevel)

// DefaultLogPath is used when file logging is requested without a path.
const DefaultLogPath = "./logs/log.log"

// Config is the `logger` section of a pcdepth config. Both outputs may be enabled at once; with
// both disabled the logger discards everything.
type Config struct {
	Path     string `yaml:"path" json:"path"`
	SaveLog  bool   `yaml:"save_log" json:"save_log"`
	PrintLog bool   `yaml:"print_log" json:"print_log"`
	Level    string `yaml:"level,omitempty" json:"level,omitempty"`
}

// DefaultConfig logs debug output to both stdout and DefaultLogPath.
func DefaultConfig() Config {
	return Config{
		Path:     DefaultLogPath,
		SaveLog:  true,
		PrintLog: true,
		Level:    "debug",
	}
}

// NewLoggerFromConfig builds the run logger. The returned close function releases the log file,
// if any, and is always safe to call. An unparsable level falls back to debug with a warning.
func NewLoggerFromConfig(name string, cfg Config) (Logger, func() error, error) {
	noop := func() error { return nil }

	level, levelErr := DEBUG, error(nil)
	if cfg.Level != "" {
		if level, levelErr = LevelFromString(cfg.Level); levelErr != nil {
			level = DEBUG
		}
	}

	var appenders []Appender
	if cfg.PrintLog {
		appenders = append(appenders, NewStdoutAppender())
	}
	closeFn := noop
	path := cfg.Path
	if path == "" {
		path = DefaultLogPath
	}
	if cfg.SaveLog {
		file, err := NewFileAppender(path)
		if err != nil {
			return nil, noop, err
		}
		appenders = append(appenders, file)
		closeFn = file.Close
	}
	logger := newLogger(name, level, true, appenders...)

	if cfg.SaveLog && cfg.Path == "" {
		logger.Warnw("no log path configured, using default", "path", DefaultLogPath)
	}
	if levelErr != nil {
		logger.Warnw("invalid log level, using debug", "error", levelErr)
	}
	if cfg.SaveLog || cfg.PrintLog {
		logger.Info(onOff(cfg.SaveLog) + " save log")
		logger.Info(onOff(cfg.PrintLog) + " print log")
	}
	return logger, closeFn, nil
}

func onOff(on bool) string {
	if on {
		return "enable"
	}
	return "disable"
}

// NewLogger returns a logger that outputs Info+ logs to stdout in UTC. It is used until the
// config has been read.
func NewLogger(name string) Logger {
	return newLogger(name, INFO, true, NewStdoutAppender())
}

// NewTestLogger returns a logger that outputs Debug+ logs to the test object in local time.
func NewTestLogger(tb testing.TB) Logger {
	logger, _ := NewObservedTestLogger(tb)
	return logger
}

// NewObservedTestLogger is like NewTestLogger but also saves logs to an in memory observer.
func NewObservedTestLogger(tb testing.TB) (Logger, *observer.ObservedLogs) {
	observerCore, observedLogs := observer.New(zap.LevelEnablerFunc(zapcore.DebugLevel.Enabled))
	return newLogger("", DEBUG, false, NewTestAppender(tb), observerCore), observedLogs
}

// zapConfig is the console config behind the zap loggers a Logger hands out.
func zapConfig() zap.Config {
	return zap.Config{
		Level:    zap.NewAtomicLevelAt(zap.InfoLevel),
		Encoding: "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "ts",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			FunctionKey:    zapcore.OmitKey,
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		DisableStacktrace: true,
		OutputPaths:       []string{"stdout"},
		ErrorOutputPaths:  []string{"stderr"},
	}
}
