package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Log is the process-wide logger used by the export pipeline and the CLI.
var Log *Logger

type Logger struct {
	z zerolog.Logger
}

func init() {
	Log = New(os.Stderr, "console")
}

// New builds a logger writing to w. format is "json" or anything else for console output.
func New(w io.Writer, format string) *Logger {
	if strings.ToLower(format) == "json" {
		return &Logger{z: zerolog.New(w).With().Timestamp().Logger()}
	}
	out := zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	return &Logger{z: zerolog.New(out).With().Timestamp().Logger()}
}

// Setup configures the global level and replaces Log.
func Setup(level string, format string) {
	zerolog.SetGlobalLevel(ParseLevel(level))
	Log = New(os.Stderr, format)
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return zerolog.DebugLevel
	case "WARN":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func (l *Logger) Info(msg string, args ...interface{}) {
	e := l.z.Info()
	addFields(e, args...)
	e.Msg(msg)
}

func (l *Logger) Debug(msg string, args ...interface{}) {
	e := l.z.Debug()
	addFields(e, args...)
	e.Msg(msg)
}

func (l *Logger) Warn(msg string, args ...interface{}) {
	e := l.z.Warn()
	addFields(e, args...)
	e.Msg(msg)
}

func (l *Logger) Error(msg string, args ...interface{}) {
	e := l.z.Error()
	addFields(e, args...)
	e.Msg(msg)
}

// addFields attaches key/value pairs; a trailing key without a value is dropped.
func addFields(e *zerolog.Event, args ...interface{}) {
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", args[i])
		}
		if err, ok := args[i+1].(error); ok {
			e.AnErr(key, err)
			continue
		}
		e.Interface(key, args[i+1])
	}
}
