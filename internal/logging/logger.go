// Package logging provides structured logging for the CLI and embedded controller.
package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/rescale/rescale-gallery/internal/events"
)

// Logger wraps zerolog with a component name and optional event bus mirror.
type Logger struct {
	zlog      zerolog.Logger
	component string
	eventBus  *events.EventBus
	output    io.Writer
}

// NewLogger creates a logger for the named component. Warnings and errors
// are mirrored to eventBus as LogEvents when it is non-nil.
func NewLogger(component string, eventBus *events.EventBus) *Logger {
	output := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: "15:04:05",
	}

	return &Logger{
		zlog:      newZerolog(output, component),
		component: component,
		eventBus:  eventBus,
		output:    output,
	}
}

// NewNopLogger returns a logger that discards everything. Used by tests.
func NewNopLogger() *Logger {
	return &Logger{
		zlog:   zerolog.Nop(),
		output: io.Discard,
	}
}

func newZerolog(w io.Writer, component string) zerolog.Logger {
	ctx := zerolog.New(w).With().Timestamp()
	if component != "" {
		ctx = ctx.Str("component", component)
	}
	return ctx.Logger()
}

// Info returns an info level event.
func (l *Logger) Info() *zerolog.Event {
	return l.zlog.Info()
}

// Error returns an error level event.
func (l *Logger) Error() *zerolog.Event {
	return l.zlog.Error()
}

// Debug returns a debug level event.
func (l *Logger) Debug() *zerolog.Event {
	return l.zlog.Debug()
}

// Warn returns a warn level event.
func (l *Logger) Warn() *zerolog.Event {
	return l.zlog.Warn()
}

// With creates a child logger context.
func (l *Logger) With() zerolog.Context {
	return l.zlog.With()
}

// Named returns a logger for a sub-component sharing the output and bus.
func (l *Logger) Named(component string) *Logger {
	return &Logger{
		zlog:      l.zlog.With().Str("sub", component).Logger(),
		component: component,
		eventBus:  l.eventBus,
		output:    l.output,
	}
}

// SetOutput changes the output writer for the logger.
// The CLI uses this to route logs around progress bars.
func (l *Logger) SetOutput(w io.Writer) {
	l.output = w
	l.zlog = newZerolog(zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: "15:04:05",
	}, l.component)
}

// Output returns the current output writer.
func (l *Logger) Output() io.Writer {
	return l.output
}

// Debugf logs a debug message with printf-style formatting.
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.zlog.Debug().Msgf(format, args...)
}

// Infof logs an info message with printf-style formatting.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.zlog.Info().Msgf(format, args...)
}

// Warnf logs a warning and mirrors it to the event bus.
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.zlog.Warn().Msgf(format, args...)
	if l.eventBus != nil {
		l.eventBus.PublishLog(events.WarnLevel, fmt.Sprintf(format, args...), l.component, nil)
	}
}

// Errorf logs an error and mirrors it to the event bus.
func (l *Logger) Errorf(err error, format string, args ...interface{}) {
	l.zlog.Error().Err(err).Msgf(format, args...)
	if l.eventBus != nil {
		l.eventBus.PublishLog(events.ErrorLevel, fmt.Sprintf(format, args...), l.component, err)
	}
}

// SetGlobalLevel sets the global log level.
func SetGlobalLevel(level zerolog.Level) {
	zerolog.SetGlobalLevel(level)
}

// ParseLevel maps a config/flag value to a zerolog level, defaulting to info.
func ParseLevel(s string) zerolog.Level {
	level, err := zerolog.ParseLevel(s)
	if err != nil || s == "" {
		return zerolog.InfoLevel
	}
	return level
}

func init() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: "15:04:05",
	})
}
