// Package logging configures the harness's shared logrus logger, following
// the teacher's examples/client/internal/logging pattern.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Options configures logger initialization.
type Options struct {
	Level  string
	Format string
	Output io.Writer
}

// Initialize builds a logrus.Logger from opts, defaulting to info-level
// colored text on stderr.
func Initialize(opts Options) *logrus.Logger {
	logger := logrus.New()
	apply(logger, opts)
	return logger
}

// Apply configures logrus's package-level standard logger, the one
// pkg/shim and pkg/controller reach via logrus.WithField. cmd/dstestctl
// calls this once at startup so -log-level/-log-format take effect
// everywhere without threading a *Logger through every constructor.
func Apply(opts Options) {
	apply(logrus.StandardLogger(), opts)
}

func apply(logger *logrus.Logger, opts Options) {
	if opts.Output == nil {
		opts.Output = os.Stderr
	}
	logger.SetOutput(opts.Output)

	level := opts.Level
	if level == "" {
		level = "info"
	}
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
		logger.WithError(err).Warn("invalid log level, defaulting to info")
	}
	logger.SetLevel(parsed)

	switch strings.ToLower(opts.Format) {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
	default:
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}
}
