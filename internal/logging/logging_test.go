package logging

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestInitializeAppliesLevelAndFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := Initialize(Options{Level: "debug", Format: "json", Output: &buf})

	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	_, isJSON := logger.Formatter.(*logrus.JSONFormatter)
	assert.True(t, isJSON)

	logger.Info("hello")
	assert.Contains(t, buf.String(), `"msg":"hello"`)
}

func TestInitializeDefaultsToInfoText(t *testing.T) {
	var buf bytes.Buffer
	logger := Initialize(Options{Output: &buf})

	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
	_, isText := logger.Formatter.(*logrus.TextFormatter)
	assert.True(t, isText)
}

func TestInitializeInvalidLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := Initialize(Options{Level: "not-a-level", Output: &buf})
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
}

func TestApplyConfiguresStandardLogger(t *testing.T) {
	var buf bytes.Buffer
	Apply(Options{Level: "warn", Output: &buf})
	t.Cleanup(func() { Apply(Options{Level: "info"}) })

	assert.Equal(t, logrus.WarnLevel, logrus.StandardLogger().GetLevel())
}
