// Package logger provides pnafs's structured logger: a thin slog wrapper
// with a text/json format switch and optional file rotation, matching the
// severities used throughout the rest of the mount path.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/go-pna/pnafs/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	LevelTrace slog.Level = -8
	LevelDebug            = slog.LevelDebug
	LevelInfo             = slog.LevelInfo
	LevelWarn             = slog.LevelWarn
	LevelError            = slog.LevelError
	LevelOff   slog.Level = 12
)

type loggerFactory struct {
	file            *os.File
	sysWriter       io.Writer
	format          config.LogFormat
	level           config.Severity
	logRotateConfig config.LogRotateConfig
	prefix          string
}

var defaultLoggerFactory = &loggerFactory{
	level:           config.INFO,
	format:          config.FormatText,
	logRotateConfig: config.DefaultLogRotateConfig(),
}

var defaultLogger = slog.New(defaultLoggerFactory.createJsonOrTextHandler(os.Stderr, programLevelFor(config.INFO), ""))

func programLevelFor(s config.Severity) *slog.LevelVar {
	v := new(slog.LevelVar)
	setLoggingLevel(s, v)
	return v
}

func setLoggingLevel(level config.Severity, programLevel *slog.LevelVar) {
	switch level {
	case config.TRACE:
		programLevel.Set(LevelTrace)
	case config.DEBUG:
		programLevel.Set(LevelDebug)
	case config.INFO:
		programLevel.Set(LevelInfo)
	case config.WARNING:
		programLevel.Set(LevelWarn)
	case config.ERROR:
		programLevel.Set(LevelError)
	case config.OFF:
		programLevel.Set(LevelOff)
	default:
		programLevel.Set(LevelInfo)
	}
}

// textHandler and jsonHandler render the two on-disk/stderr formats the
// mount command supports. Both prepend prefix (used by tests to stamp
// "TestLogs: " ahead of the message).
type textHandler struct {
	w      io.Writer
	level  *slog.LevelVar
	prefix string
}

func (h *textHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *textHandler) Handle(_ context.Context, r slog.Record) error {
	sev := severityName(r.Level)
	_, err := fmt.Fprintf(h.w, "time=%q severity=%s message=%q\n", r.Time.Format("2006/01/02 15:04:05.000000"), sev, h.prefix+r.Message)
	return err
}

func (h *textHandler) WithAttrs(_ []slog.Attr) slog.Handler { return h }
func (h *textHandler) WithGroup(_ string) slog.Handler      { return h }

type jsonHandler struct {
	w      io.Writer
	level  *slog.LevelVar
	prefix string
}

func (h *jsonHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *jsonHandler) Handle(_ context.Context, r slog.Record) error {
	sev := severityName(r.Level)
	_, err := fmt.Fprintf(h.w, "{\"timestamp\":{\"seconds\":%d,\"nanos\":%d},\"severity\":%q,\"message\":%q}\n",
		r.Time.Unix(), r.Time.Nanosecond(), sev, h.prefix+r.Message)
	return err
}

func (h *jsonHandler) WithAttrs(_ []slog.Attr) slog.Handler { return h }
func (h *jsonHandler) WithGroup(_ string) slog.Handler      { return h }

func severityName(l slog.Level) string {
	switch {
	case l < LevelDebug:
		return "TRACE"
	case l < LevelInfo:
		return "DEBUG"
	case l < LevelWarn:
		return "INFO"
	case l < LevelError:
		return "WARNING"
	default:
		return "ERROR"
	}
}

func (f *loggerFactory) createJsonOrTextHandler(w io.Writer, level *slog.LevelVar, prefix string) slog.Handler {
	if f.format == config.FormatJSON {
		return &jsonHandler{w: w, level: level, prefix: prefix}
	}
	return &textHandler{w: w, level: level, prefix: prefix}
}

// InitLogFile points the default logger at a rotating file at cfg.File, or
// at stderr when cfg.File is empty. Invoked once from cmd/mount.go before
// any other logging call.
func InitLogFile(cfg config.LogConfig) error {
	defaultLoggerFactory.format = cfg.Format
	defaultLoggerFactory.level = cfg.Severity
	defaultLoggerFactory.logRotateConfig = cfg.Rotate

	if cfg.File == "" {
		defaultLoggerFactory.sysWriter = os.Stderr
		rebuild()
		return nil
	}

	f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("logger: open log file: %w", err)
	}
	f.Close()
	defaultLoggerFactory.file = f

	lj := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.Rotate.MaxFileSizeMB,
		MaxBackups: cfg.Rotate.BackupFileCount,
		Compress:   cfg.Rotate.Compress,
	}
	rebuildWith(lj)
	return nil
}

// SetLogFormat switches the default logger's rendering without touching
// severity; an empty format selects JSON. The rebuilt logger writes to
// stderr: a rotating log file set up by InitLogFile is not kept.
func SetLogFormat(format config.LogFormat) {
	if format == "" {
		format = config.FormatJSON
	}
	defaultLoggerFactory.format = format
	rebuild()
}

func rebuild() {
	w := defaultLoggerFactory.sysWriter
	if w == nil {
		w = os.Stderr
	}
	rebuildWith(w)
}

func rebuildWith(w io.Writer) {
	programLevel := new(slog.LevelVar)
	setLoggingLevel(defaultLoggerFactory.level, programLevel)
	defaultLogger = slog.New(defaultLoggerFactory.createJsonOrTextHandler(w, programLevel, defaultLoggerFactory.prefix))
}

func Tracef(format string, args ...any) { logAt(LevelTrace, format, args...) }
func Debugf(format string, args ...any) { logAt(LevelDebug, format, args...) }
func Infof(format string, args ...any)  { logAt(LevelInfo, format, args...) }
func Warnf(format string, args ...any)  { logAt(LevelWarn, format, args...) }
func Errorf(format string, args ...any) { logAt(LevelError, format, args...) }

func logAt(level slog.Level, format string, args ...any) {
	if !defaultLogger.Enabled(context.Background(), level) {
		return
	}
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	r := slog.NewRecord(time.Now(), level, msg, 0)
	_ = defaultLogger.Handler().Handle(context.Background(), r)
}
