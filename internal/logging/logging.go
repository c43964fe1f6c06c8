// Package logging builds the service-wide zerolog logger.
package logging

import (
	"os"

	"github.com/rs/zerolog"
)

// Setup returns a JSON logger on stderr at the requested level. Unknown
// levels fall back to info.
func Setup(level string) zerolog.Logger {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil || parsed == zerolog.NoLevel {
		parsed = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).Level(parsed).With().Timestamp().Logger()
}
