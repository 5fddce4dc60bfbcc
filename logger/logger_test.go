package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wfunc/tetbridge/config"
)

func TestNew_RejectsBadLevel(t *testing.T) {
	_, err := New(config.LoggingConfig{Level: "loud", Format: "json"})
	assert.Error(t, err)
}

func TestNew_RejectsBadFormat(t *testing.T) {
	_, err := New(config.LoggingConfig{Level: "info", Format: "xml"})
	assert.Error(t, err)
}

func TestNew_WritesRollingFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "bridge.log")
	log, err := New(config.LoggingConfig{Level: "info", Format: "json", File: file, MaxSizeMB: 1})
	require.NoError(t, err)

	log.Sugar().Infow("round started", "round", "abc")
	log.Debug("hidden")
	_ = log.Sync()

	data, err := os.ReadFile(file)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(data, &entry))
	assert.Equal(t, "round started", entry["msg"])
	assert.Equal(t, "abc", entry["round"])
	assert.NotContains(t, string(data), "hidden")
}

func TestConfigure_ReplacesGlobal(t *testing.T) {
	Init()
	before := Log

	require.NoError(t, Configure(config.LoggingConfig{Level: "warn", Format: "console"}))
	assert.NotSame(t, before, Log)
	Sync()

	assert.Error(t, Configure(config.LoggingConfig{Level: "warn", Format: "yaml"}))
}
