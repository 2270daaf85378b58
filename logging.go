package shepherd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger builds the process logger from the logging configuration,
// optionally teeing into a rotated log file.
func NewLogger(configuration LoggingConfiguration) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(replaceIfEmpty(configuration.Level, "info"))
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("failed to parse log level: %w", err)
	}

	var writer io.Writer = zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.Stamp,
	}

	if configuration.EncodeAsJSON {
		writer = os.Stdout
	}

	if configuration.FileLoggingEnabled {
		if err := os.MkdirAll(configuration.Directory, 0o744); err != nil {
			return zerolog.Logger{}, fmt.Errorf("failed to create log directory: %w", err)
		}

		writer = io.MultiWriter(writer, &lumberjack.Logger{
			Filename:   filepath.Join(configuration.Directory, configuration.Filename),
			MaxSize:    configuration.MaxSize,
			MaxBackups: configuration.MaxBackups,
			MaxAge:     configuration.MaxAge,
			Compress:   configuration.Compress,
		})
	}

	return zerolog.New(writer).With().Timestamp().Logger().Level(level), nil
}
