package logging

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapCompatibleLogger is the method set of `*zap.SugaredLogger` that
// `go.viam.com/utils.ContextualMain` requires of the logger it is given. cmd/pcdepth hands its
// Logger to ContextualMain, which is the only reason the zap surfaces below exist.
type ZapCompatibleLogger interface {
	Desugar() *zap.Logger
	Level() zapcore.Level
	Named(name string) *zap.SugaredLogger
	Sync() error
	With(args ...interface{}) *zap.SugaredLogger
	WithOptions(opts ...zap.Option) *zap.SugaredLogger

	Debug(args ...interface{})
	Debugf(template string, args ...interface{})
	Debugw(msg string, keysAndValues ...interface{})

	Info(args ...interface{})
	Infof(template string, args ...interface{})
	Infow(msg string, keysAndValues ...interface{})

	Warn(args ...interface{})
	Warnf(template string, args ...interface{})
	Warnw(msg string, keysAndValues ...interface{})

	Error(args ...interface{})
	Errorf(template string, args ...interface{})
	Errorw(msg string, keysAndValues ...interface{})

	Fatal(args ...interface{})
	Fatalf(template string, args ...interface{})
	Fatalw(msg string, keysAndValues ...interface{})
}

// Logger is the logger handed to every pcdepth component.
type Logger interface {
	ZapCompatibleLogger

	SetLevel(level Level)
	GetLevel() Level
	// Sublogger returns a logger named "<name>.<subname>" writing to the same outputs. Its level
	// starts at the parent's and is changed independently.
	Sublogger(subname string) Logger
}

var errUnpairedKey = errors.New("unpaired log key")

// logger writes each entry to all of its appenders.
type logger struct {
	name      string
	level     AtomicLevel
	inUTC     bool
	appenders []Appender
}

func newLogger(name string, level Level, inUTC bool, appenders ...Appender) *logger {
	return &logger{
		name:      name,
		level:     NewAtomicLevelAt(level),
		inUTC:     inUTC,
		appenders: append([]Appender(nil), appenders...),
	}
}

func (l *logger) SetLevel(level Level) {
	l.level.Set(level)
}

func (l *logger) GetLevel() Level {
	return l.level.Get()
}

func (l *logger) Level() zapcore.Level {
	return l.level.Get().AsZap()
}

func (l *logger) Sublogger(subname string) Logger {
	name := subname
	if l.name != "" {
		name = l.name + "." + subname
	}
	return newLogger(name, l.level.Get(), l.inUTC, l.appenders...)
}

func (l *logger) Sync() error {
	var err error
	for _, appender := range l.appenders {
		err = multierr.Append(err, appender.Sync())
	}
	return err
}

// sugar builds a zap logger gated by GlobalLogLevel. Appenders that are also zapcore.Cores, such
// as the observer behind NewObservedTestLogger, receive its output too.
func (l *logger) sugar() *zap.SugaredLogger {
	cfg := zapConfig()
	cfg.Level = GlobalLogLevel
	sugared := zap.Must(cfg.Build()).Sugar().Named(l.name)
	for _, appender := range l.appenders {
		core, ok := appender.(zapcore.Core)
		if !ok {
			continue
		}
		sugared = sugared.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
			return zapcore.NewTee(c, core)
		}))
	}
	return sugared
}

func (l *logger) Desugar() *zap.Logger {
	return l.sugar().Desugar()
}

func (l *logger) Named(name string) *zap.SugaredLogger {
	return l.sugar().Named(name)
}

func (l *logger) With(args ...interface{}) *zap.SugaredLogger {
	return l.sugar().With(args...)
}

func (l *logger) WithOptions(opts ...zap.Option) *zap.SugaredLogger {
	return l.sugar().WithOptions(opts...)
}

// enabled reports whether level passes the logger level. A debug GlobalLogLevel lets
// everything through.
func (l *logger) enabled(level Level) bool {
	return GlobalLogLevel.Enabled(zapcore.DebugLevel) || level >= l.level.Get()
}

// callerSkip is the number of frames between emit and the code that called a log method:
// emit, print/printf/printw, then the public method.
const callerSkip = 3

func (l *logger) emit(level Level, msg string, fields []zapcore.Field) {
	entry := zapcore.Entry{
		Level:      level.AsZap(),
		Time:       time.Now(),
		LoggerName: l.name,
		Message:    msg,
		Caller:     callerAt(callerSkip),
	}
	if l.inUTC {
		entry.Time = entry.Time.UTC()
	}
	for _, appender := range l.appenders {
		if err := appender.Write(entry, fields); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	}
}

func (l *logger) print(level Level, args []interface{}) {
	if l.enabled(level) {
		l.emit(level, fmt.Sprint(args...), nil)
	}
}

func (l *logger) printf(level Level, template string, args []interface{}) {
	if l.enabled(level) {
		l.emit(level, fmt.Sprintf(template, args...), nil)
	}
}

func (l *logger) printw(level Level, msg string, keysAndValues []interface{}) {
	if l.enabled(level) {
		l.emit(level, msg, fieldsFrom(keysAndValues))
	}
}

// fieldsFrom pairs keys with the value that follows them. Values are json encoded by the
// appenders, so only exported struct fields show up. A trailing key gets errUnpairedKey.
func fieldsFrom(keysAndValues []interface{}) []zapcore.Field {
	fields := make([]zapcore.Field, 0, (len(keysAndValues)+1)/2)
	for i := 0; i < len(keysAndValues); i += 2 {
		key := fmt.Sprint(keysAndValues[i])
		if i+1 == len(keysAndValues) {
			fields = append(fields, zap.Any(key, errUnpairedKey))
			break
		}
		fields = append(fields, zap.Any(key, keysAndValues[i+1]))
	}
	return fields
}

func (l *logger) Debug(args ...interface{}) { l.print(DEBUG, args) }

func (l *logger) Debugf(template string, args ...interface{}) { l.printf(DEBUG, template, args) }

func (l *logger) Debugw(msg string, keysAndValues ...interface{}) {
	l.printw(DEBUG, msg, keysAndValues)
}

func (l *logger) Info(args ...interface{}) { l.print(INFO, args) }

func (l *logger) Infof(template string, args ...interface{}) { l.printf(INFO, template, args) }

func (l *logger) Infow(msg string, keysAndValues ...interface{}) {
	l.printw(INFO, msg, keysAndValues)
}

func (l *logger) Warn(args ...interface{}) { l.print(WARN, args) }

func (l *logger) Warnf(template string, args ...interface{}) { l.printf(WARN, template, args) }

func (l *logger) Warnw(msg string, keysAndValues ...interface{}) {
	l.printw(WARN, msg, keysAndValues)
}

func (l *logger) Error(args ...interface{}) { l.print(ERROR, args) }

func (l *logger) Errorf(template string, args ...interface{}) { l.printf(ERROR, template, args) }

func (l *logger) Errorw(msg string, keysAndValues ...interface{}) {
	l.printw(ERROR, msg, keysAndValues)
}

// Fatal logs at error level and exits the process.
func (l *logger) Fatal(args ...interface{}) {
	l.print(ERROR, args)
	os.Exit(1)
}

// Fatalf logs at error level and exits the process.
func (l *logger) Fatalf(template string, args ...interface{}) {
	l.printf(ERROR, template, args)
	os.Exit(1)
}

// Fatalw logs at error level and exits the process.
func (l *logger) Fatalw(msg string, keysAndValues ...interface{}) {
	l.printw(ERROR, msg, keysAndValues)
	os.Exit(1)
}

// callerAt returns the caller skip frames above callerAt's own caller.
func callerAt(skip int) zapcore.EntryCaller {
	pc, file, line, ok := runtime.Caller(skip + 1)
	if !ok {
		return zapcore.EntryCaller{}
	}
	caller := zapcore.EntryCaller{Defined: true, PC: pc, File: file, Line: line}
	if fn := runtime.FuncForPC(pc); fn != nil {
		caller.Function = fn.Name()
	}
	return caller
}
