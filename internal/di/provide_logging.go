package di

import (
	"os"

	"github.com/rs/zerolog"
)

// ProvideLogger creates a new zerolog.Logger configured for the runtime environment.
// In CI (GITHUB_ACTIONS or CI set) or Lambda it uses JSON format.
// In a terminal it uses console format with pretty printing.
// Logs go to stderr so synthesized templates on stdout can be piped.
func ProvideLogger(verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}

	if isAutomated() {
		return zerolog.New(os.Stderr).
			Level(level).
			With().
			Timestamp().
			Logger()
	}

	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().
		Timestamp().
		Logger()
}

func isAutomated() bool {
	for _, key := range []string{"AWS_LAMBDA_RUNTIME_API", "GITHUB_ACTIONS", "CI"} {
		if os.Getenv(key) != "" {
			return true
		}
	}
	return false
}
