package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		level  string
		expect zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"INFO", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"Error", zerolog.ErrorLevel},
		{"unknown", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			assert.Equal(t, tt.expect, ParseLevel(tt.level))
		})
	}
}

func TestSetupReplacesLogger(t *testing.T) {
	prev := zerolog.GlobalLevel()
	defer zerolog.SetGlobalLevel(prev)

	Setup("debug", "json")
	require.NotNil(t, Log)
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())
}

func TestJSONFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "json")
	l.Info("saved", "path", "model.nmn", "bytes", 128, "err", errors.New("boom"), "dangling")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "saved", rec["message"])
	assert.Equal(t, "model.nmn", rec["path"])
	assert.EqualValues(t, 128, rec["bytes"])
	assert.Equal(t, "boom", rec["err"])
	assert.NotContains(t, rec, "dangling")
}

func TestConsoleOutput(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "console")
	l.Warn("odd args", 42, "value")
	assert.Contains(t, buf.String(), "odd args")
	assert.Contains(t, buf.String(), "42=")
}
