package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ZerologLogger adapts rs/zerolog to the core logger interface.
type ZerologLogger struct {
	z zerolog.Logger
}

// NewZerologLogger builds the logger for one component of the service.
// Every line carries a component field so the dispatch, tracking and sync
// streams can be told apart downstream. APP_ENV=dev switches the JSON
// output to the human-readable console writer.
func NewZerologLogger(component string) Logger {
	var out io.Writer = os.Stdout
	if strings.EqualFold(os.Getenv("APP_ENV"), "dev") {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	z := zerolog.New(out).With().
		Timestamp().
		Str("component", component).
		Logger()
	return &ZerologLogger{z: z}
}

func (l *ZerologLogger) Debugf(format string, args ...any) {
	l.z.Debug().Msgf(format, args...)
}

// Debugw attaches structured fields; the tracker uses it for per-fix detail
// that would be noise at info level.
func (l *ZerologLogger) Debugw(msg string, fields map[string]any) {
	l.z.Debug().Fields(fields).Msg(msg)
}

func (l *ZerologLogger) Infof(format string, args ...any) {
	l.z.Info().Msgf(format, args...)
}

func (l *ZerologLogger) Warnf(format string, args ...any) {
	l.z.Warn().Msgf(format, args...)
}

func (l *ZerologLogger) Errorf(format string, args ...any) {
	l.z.Error().Msgf(format, args...)
}
