package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJSONRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(&buf, "warn", "json")
	require.NoError(t, err)
	log.Info("hidden")
	log.Warn("candidate failed", "candidate", "ridge")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "candidate failed", rec["msg"])
	assert.Equal(t, "ridge", rec["candidate"])
}

func TestNewText(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(&buf, "debug", "")
	require.NoError(t, err)
	log.Debug("resampled", "points", 12)
	assert.Contains(t, buf.String(), "points=12")
}

func TestRejectsUnknownSettings(t *testing.T) {
	_, err := New(nil, "trace", "text")
	assert.Error(t, err)
	_, err = New(nil, "info", "xml")
	assert.Error(t, err)

	lvl, err := ParseLevel("WARNING")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, lvl)
}
