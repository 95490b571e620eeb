// Package logging provides the engine's ambient structured logging. It is
// deliberately kept off the get/put/delete hot path (timing there goes
// through internal/observe instead); it logs construction, snapshot, and
// deadlock-victim events the way an embedding application would want to see
// them in its own log stream.
package logging

import (
	"os"
	"sync"

	"github.com/rs/zerolog"
)

var (
	once   sync.Once
	logger zerolog.Logger
)

// Log returns the package-wide logger, initializing it lazily with a
// console writer on first use.
func Log() zerolog.Logger {
	once.Do(func() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
			With().
			Timestamp().
			Str("component", "shimmer").
			Logger()
	})
	return logger
}

// SetOutput replaces the underlying logger, e.g. to redirect to a file or to
// silence it entirely in tests (zerolog.Nop()).
func SetOutput(l zerolog.Logger) {
	once.Do(func() {})
	logger = l
}
