package logger

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var base = logrus.New()

func init() {
	base.SetOutput(os.Stderr)
	base.SetLevel(logrus.InfoLevel)
}

// Configure sets the level and output format for every scoped logger.
// Production environments get JSON lines, everything else gets human-readable text.
func Configure(level, environment string) {
	parsed, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		parsed = logrus.InfoLevel
	}
	base.SetLevel(parsed)

	if environment == "production" {
		base.SetFormatter(&logrus.JSONFormatter{})
		return
	}
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}

// New returns a logger tagged with the given scope, e.g. "ratelimit" or "circuit-breaker".
func New(scope string) *logrus.Entry {
	return base.WithField("scope", scope)
}

// Base exposes the root logger, mainly so tests can swap its output.
func Base() *logrus.Logger {
	return base
}
