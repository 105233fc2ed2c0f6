package config

import (
	"flag"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c, err := Parse(fs, nil)
	require.NoError(t, err)

	assert.Equal(t, "localhost:9000", c.Addr)
	assert.Equal(t, "", c.MetricsAddr)
	assert.Equal(t, "info", c.LogLevel)
	assert.Equal(t, "text", c.LogFormat)
	assert.True(t, c.RealTimeDefault)
	assert.Equal(t, 5*time.Second, c.AckTimeout)
}

func TestParseFlagsOverrideDefaults(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c, err := Parse(fs, []string{
		"-addr", "0.0.0.0:7000",
		"-log-level", "debug",
		"-real-time=false",
		"-ack-timeout", "2s",
	})
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:7000", c.Addr)
	assert.Equal(t, "debug", c.LogLevel)
	assert.False(t, c.RealTimeDefault)
	assert.Equal(t, 2*time.Second, c.AckTimeout)
}

func TestParseEnvFallback(t *testing.T) {
	t.Setenv("DSTEST_ADDR", "10.0.0.1:1234")
	t.Setenv("DSTEST_LOG_FORMAT", "json")
	t.Setenv("DSTEST_REAL_TIME", "0")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c, err := Parse(fs, nil)
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.1:1234", c.Addr)
	assert.Equal(t, "json", c.LogFormat)
	assert.False(t, c.RealTimeDefault)
}

func TestParseFlagsTakePrecedenceOverEnv(t *testing.T) {
	t.Setenv("DSTEST_ADDR", "10.0.0.1:1234")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c, err := Parse(fs, []string{"-addr", "override:9999"})
	require.NoError(t, err)

	assert.Equal(t, "override:9999", c.Addr)
}

func TestParseInvalidDurationEnvFallsBackToDefault(t *testing.T) {
	t.Setenv("DSTEST_ACK_TIMEOUT", "not-a-duration")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c, err := Parse(fs, nil)
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, c.AckTimeout)
}

func TestParseRejectsUnknownFlag(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	_, err := Parse(fs, []string{"-nonexistent"})
	assert.Error(t, err)
}
