package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.Equal(t, "info", config.Level)
	assert.Equal(t, "console", config.Format)
	assert.Equal(t, "stdout", config.Output)
	assert.Equal(t, time.RFC3339, config.TimeFormat)
	assert.True(t, config.Caller)
	assert.False(t, config.Async)
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{name: "nil config uses default"},
		{
			name: "json with station id",
			config: &Config{
				Level: "debug", Format: "json", Output: "stdout",
				TimeFormat: time.RFC3339, StationID: "CS-001",
			},
		},
		{
			name:    "invalid log level",
			config:  &Config{Level: "invalid", Format: "console", Output: "stdout"},
			wantErr: true,
		},
		{
			name:    "invalid format",
			config:  &Config{Level: "info", Format: "xml", Output: "stdout"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, logger)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, logger)
			if tt.config == nil {
				assert.Equal(t, "info", logger.GetLevel())
			} else {
				assert.Equal(t, tt.config.Level, logger.GetLevel())
			}
			assert.Same(t, logger, Global())
		})
	}
}

func newBufferLogger(buf *bytes.Buffer) *Logger {
	return &Logger{
		logger: zerolog.New(buf).Level(zerolog.DebugLevel),
		config: &Config{Level: "debug"},
	}
}

func TestLogger_WithComponent(t *testing.T) {
	originalLevel := zerolog.GlobalLevel()
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	defer zerolog.SetGlobalLevel(originalLevel)

	var buf bytes.Buffer
	base := newBufferLogger(&buf)

	base.WithComponent("queue").Infof("queued %d messages", 3)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "queue", entry["component"])
	assert.Equal(t, "queued 3 messages", entry["message"])
	assert.Equal(t, "info", entry["level"])
}

func TestLogger_Frame(t *testing.T) {
	originalLevel := zerolog.GlobalLevel()
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	defer zerolog.SetGlobalLevel(originalLevel)

	var buf bytes.Buffer
	newBufferLogger(&buf).Frame("out", "m-1", "Heartbeat", 24)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "out", entry["direction"])
	assert.Equal(t, "m-1", entry["message_id"])
	assert.Equal(t, "Heartbeat", entry["action"])
	assert.Equal(t, float64(24), entry["bytes"])
}

func TestLogger_SetLevel(t *testing.T) {
	var buf bytes.Buffer
	l := newBufferLogger(&buf)

	require.NoError(t, l.SetLevel("warn"))
	assert.Equal(t, "warn", l.GetLevel())

	l.Infof("hidden")
	assert.Empty(t, buf.String())

	l.Warn("shown")
	assert.True(t, strings.Contains(buf.String(), "shown"))

	assert.Error(t, l.SetLevel("loud"))
}

func TestNew_FileOutput(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "logs", "station.log")

	l, err := New(&Config{Level: "info", Format: "json", Output: path, TimeFormat: time.RFC3339})
	require.NoError(t, err)
	l.Info("written to file")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to file")
}

func TestNop(t *testing.T) {
	l := Nop()
	assert.NotPanics(t, func() {
		l.Infof("nothing %d", 1)
		l.WithComponent("x").Errorf("still nothing")
	})
}
