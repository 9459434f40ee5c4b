package shared

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
}

func TestJSONLoggerTagsService(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "edge-server", "warn", "json")

	logger.Info("hidden")
	logger.Warn("shown", slog.String("room", "101"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "shown", line["msg"])
	assert.Equal(t, "edge-server", line["service"])
	assert.Equal(t, "101", line["room"])
}

func TestTextLoggerIsDefault(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, "seat-client", "", "").Info("hello")
	assert.Contains(t, buf.String(), "msg=hello")
	assert.Contains(t, buf.String(), "service=seat-client")
}
