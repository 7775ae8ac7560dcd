package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/sonoff-relay/internal/config"
)

func TestLevelParsing(t *testing.T) {
	tests := map[string]logrus.Level{
		"debug":  logrus.DebugLevel,
		"warn":   logrus.WarnLevel,
		"error":  logrus.ErrorLevel,
		"INFO":   logrus.InfoLevel,
		"chatty": logrus.InfoLevel,
		"":       logrus.InfoLevel,
	}
	for in, want := range tests {
		log := NewWithOutput(config.LoggingConfig{Level: in}, &bytes.Buffer{})
		assert.Equal(t, want, log.GetLevel(), "level %q", in)
	}
}

func TestJSONFormatWithComponent(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithOutput(config.LoggingConfig{Level: "info", Format: "json"}, &buf)

	Component(log, "mqtt").Info("connected")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "mqtt", entry["comp"])
	assert.Equal(t, "connected", entry["msg"])
	assert.Equal(t, "info", entry["level"])
}

func TestLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithOutput(config.LoggingConfig{Level: "warn"}, &buf)

	log.Info("hidden")
	assert.Zero(t, buf.Len())

	log.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}
