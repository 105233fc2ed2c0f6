// Package config loads the controller's startup configuration from flags
// with DSTEST_*-prefixed environment variable fallback. See SPEC_FULL.md
// §7.4: six scalar fields don't warrant a config library (DESIGN.md).
package config

import (
	"flag"
	"os"
	"time"
)

// Controller holds every knob cmd/dstestctl's serve subcommand needs at
// startup.
type Controller struct {
	Addr            string
	MetricsAddr     string
	LogLevel        string
	LogFormat       string
	RealTimeDefault bool
	AckTimeout      time.Duration
}

// Parse builds a Controller from the given flag set (so callers can use
// flag.CommandLine or a fresh set in tests), falling back to DSTEST_*
// environment variables for anything not passed on the command line.
func Parse(fs *flag.FlagSet, args []string) (Controller, error) {
	var c Controller
	fs.StringVar(&c.Addr, "addr", envOr("DSTEST_ADDR", "localhost:9000"), "control-plane listen address")
	fs.StringVar(&c.MetricsAddr, "metrics-addr", envOr("DSTEST_METRICS_ADDR", ""), "Prometheus exporter address (empty disables metrics)")
	fs.StringVar(&c.LogLevel, "log-level", envOr("DSTEST_LOG_LEVEL", "info"), "logrus level: debug, info, warn, error")
	fs.StringVar(&c.LogFormat, "log-format", envOr("DSTEST_LOG_FORMAT", "text"), "log output format: text or json")
	fs.BoolVar(&c.RealTimeDefault, "real-time", envBoolOr("DSTEST_REAL_TIME", true), "default real_time_mode fault knob")
	fs.DurationVar(&c.AckTimeout, "ack-timeout", envDurationOr("DSTEST_ACK_TIMEOUT", 5*time.Second), "default ack-wait timeout for driver calls")

	if err := fs.Parse(args); err != nil {
		return Controller{}, err
	}
	return c, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBoolOr(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v == "1" || v == "true" || v == "TRUE"
}

func envDurationOr(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
