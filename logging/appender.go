package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// DefaultTimeFormatStr is the default time format string for log appenders.
const DefaultTimeFormatStr = "2006-01-02T15:04:05.000Z0700"

// Appender is an output for log entries. This is a subset of the `zapcore.Core` interface.
type Appender interface {
	// Write submits a structured log entry to the appender for logging.
	Write(zapcore.Entry, []zapcore.Field) error
	// Sync is for signaling that any buffered logs to `Write` should be flushed. E.g: at shutdown.
	Sync() error
}

// ConsoleAppender will create human readable logs, tab separated, to the wrapped writer.
type ConsoleAppender struct {
	io.Writer
}

// NewStdoutAppender creates a new appender that outputs to stdout.
func NewStdoutAppender() ConsoleAppender {
	return ConsoleAppender{os.Stdout}
}

// NewWriterAppender creates a new appender that outputs to the input writer.
func NewWriterAppender(writer io.Writer) ConsoleAppender {
	return ConsoleAppender{writer}
}

// Write outputs the log entry to the underlying stream.
func (appender ConsoleAppender) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	line, err := formatEntry(entry, fields)
	if _, writeErr := fmt.Fprintln(appender.Writer, line); writeErr != nil {
		return writeErr
	}
	return err
}

// Sync is a no-op.
func (appender ConsoleAppender) Sync() error {
	return nil
}

// FileAppender writes console formatted lines to a size rotated log file.
type FileAppender struct {
	mu  sync.Mutex
	out *lumberjack.Logger
}

// NewFileAppender creates the parent directory of `path` if needed and returns an appender that
// writes to it. Rotated files are kept next to the active log.
func NewFileAppender(path string) (*FileAppender, error) {
	if path == "" {
		return nil, errors.New("log file path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, errors.Wrapf(err, "cannot create log directory for %q", path)
	}
	return &FileAppender{
		out: &lumberjack.Logger{
			Filename:   path,
			MaxSize:    100,
			MaxBackups: 3,
		},
	}, nil
}

// Write appends the formatted entry to the log file.
func (appender *FileAppender) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	line, err := formatEntry(entry, fields)
	appender.mu.Lock()
	defer appender.mu.Unlock()
	if _, writeErr := fmt.Fprintln(appender.out, line); writeErr != nil {
		return writeErr
	}
	return err
}

// Sync is a no-op; lumberjack does not buffer.
func (appender *FileAppender) Sync() error {
	return nil
}

// Close closes the active log file.
func (appender *FileAppender) Close() error {
	appender.mu.Lock()
	defer appender.mu.Unlock()
	return appender.out.Close()
}

// formatEntry renders `<time>\t<LEVEL>\t<name>\t<file:line>\t<msg>[\t<json fields>]`. When the
// fields cannot be encoded the line without fields is returned along with the error.
func formatEntry(entry zapcore.Entry, fields []zapcore.Field) (string, error) {
	const maxLength = 10
	toPrint := make([]string, 0, maxLength)
	toPrint = append(toPrint, entry.Time.Format(DefaultTimeFormatStr))

	toPrint = append(toPrint, strings.ToUpper(entry.Level.String()))
	toPrint = append(toPrint, entry.LoggerName)
	if entry.Caller.Defined {
		toPrint = append(toPrint, callerToString(&entry.Caller))
	}
	toPrint = append(toPrint, entry.Message)
	if len(fields) == 0 {
		return strings.Join(toPrint, "\t"), nil
	}

	// Use zap's json encoder which will encode our slice of fields in-order. As opposed to the
	// random iteration order of a map. Call it with an empty Entry object such that only the fields
	// become "map-ified".
	jsonEncoder := zapcore.NewJSONEncoder(zapcore.EncoderConfig{SkipLineEnding: true})
	buf, err := jsonEncoder.EncodeEntry(zapcore.Entry{}, fields)
	if err != nil {
		return strings.Join(toPrint, "\t"), err
	}
	toPrint = append(toPrint, string(buf.Bytes()))
	return strings.Join(toPrint, "\t"), nil
}

// callerToString keeps the last directory and the filename, e.g. "logging/impl_test.go:36".
func callerToString(caller *zapcore.EntryCaller) string {
	lastSlashIdx := strings.LastIndexByte(caller.File, '/')
	if lastSlashIdx == -1 {
		return fmt.Sprintf("%s:%d", caller.File, caller.Line)
	}

	secondLastSlashIdx := strings.LastIndexByte(caller.File[:lastSlashIdx], '/')
	if secondLastSlashIdx == -1 {
		return fmt.Sprintf("%s:%d", caller.File, caller.Line)
	}
	return fmt.Sprintf("%s:%d", caller.File[secondLastSlashIdx+1:], caller.Line)
}
