package logging

import (
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/Graylog2/go-gelf/gelf"
	"github.com/rs/zerolog"
)

// LogFilePath builds a log file path using OS-appropriate path separators.
func LogFilePath(logsDir, appName string, runStart time.Time) string {
	return filepath.Join(
		logsDir,
		fmt.Sprintf("%s.%s.log", appName, runStart.Format("20060102_150405")),
	)
}

// GELFWriter opens a UDP GELF writer to a Graylog input.
func GELFWriter(address string) (io.Writer, error) {
	w, err := gelf.NewWriter(address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to graylog at %s: %w", address, err)
	}
	return w, nil
}

// NewZerolog builds the structured logger used by the database and influx
// managers.
func NewZerolog(w io.Writer, level, component string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Str("component", component).Logger()
}
