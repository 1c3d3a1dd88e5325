package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Logger struct {
	zlog zerolog.Logger
}

func NewLogger(level string) *Logger {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	return NewWithWriter(output, level)
}

// NewWithWriter builds a Logger writing to w at the given level.
func NewWithWriter(w io.Writer, level string) *Logger {
	logLevel, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		if level != "" {
			fmt.Printf("Invalid log level '%s', defaulting to 'info'\n", level)
		}
		logLevel = zerolog.InfoLevel
	}

	zlog := zerolog.New(w).
		Level(logLevel).
		With().
		Timestamp().
		Logger()

	return &Logger{zlog: zlog}
}

// Nop returns a Logger that discards everything.
func Nop() *Logger {
	return &Logger{zlog: zerolog.Nop()}
}

// With returns a child logger tagged with the given component name.
func (l *Logger) With(component string) *Logger {
	return &Logger{zlog: l.zlog.With().Str("component", component).Logger()}
}

func (l *Logger) Trace(msg string, args ...interface{}) {
	l.zlog.Trace().Msgf(msg, args...)
}

func (l *Logger) Debug(msg string, args ...interface{}) {
	l.zlog.Debug().Msgf(msg, args...)
}

func (l *Logger) Info(msg string, args ...interface{}) {
	l.zlog.Info().Msgf(msg, args...)
}

func (l *Logger) Warn(msg string, args ...interface{}) {
	l.zlog.Warn().Msgf(msg, args...)
}

func (l *Logger) Error(msg string, args ...interface{}) {
	l.zlog.Error().Msgf(msg, args...)
}

func (l *Logger) Fatal(msg string, args ...interface{}) {
	l.zlog.Fatal().Msgf(msg, args...)
}

// Wire logs a raw frame at trace level.
func (l *Logger) Wire(direction string, frame []byte) {
	l.zlog.Trace().Str("dir", direction).Hex("frame", frame).Msg("wire")
}

// Event logs a panel-originated event.
func (l *Logger) Event(class string, id int, name string) {
	l.zlog.Info().Str("source", "panel").Str("class", class).Int("id", id).Msg(name)
}
