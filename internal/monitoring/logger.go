package monitoring

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var logger = newConsoleLogger(os.Stderr, "capture")

// Logf is the package-level diagnostic logger. It defaults to an info-level
// zerolog console logger but may be replaced by SetLogger. Tests or production
// code can redirect or mute it.
var Logf func(format string, v ...interface{}) = defaultLogf

func defaultLogf(format string, v ...interface{}) {
	logger.Info().Msgf(format, v...)
}

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Logger returns the structured logger for callers that attach fields.
func Logger() *zerolog.Logger {
	return &logger
}

// InitLogger replaces the structured logger with a console logger writing to
// w, tagged with app, at the named level ("debug", "info", "warn", ...).
// Logf is reset to route through the new logger.
func InitLogger(app string, w io.Writer, level string) (zerolog.Logger, error) {
	lvl := zerolog.InfoLevel
	if level != "" {
		var err error
		lvl, err = zerolog.ParseLevel(level)
		if err != nil {
			return logger, fmt.Errorf("invalid log level %q: %w", level, err)
		}
	}
	logger = newConsoleLogger(w, app).Level(lvl)
	Logf = defaultLogf
	return logger, nil
}

func newConsoleLogger(w io.Writer, app string) zerolog.Logger {
	_, isFile := w.(*os.File)
	output := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.RFC3339,
		NoColor:    !isFile,
	}
	return zerolog.New(output).With().Timestamp().Str("app", app).Logger()
}
