package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmd-jude/db-chat/internal/config"
)

func newBufferLogger(level LogLevel, format string, buf *bytes.Buffer) *Logger {
	return &Logger{
		level:  level,
		format: format,
		output: buf,
		fields: make(map[string]interface{}),
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected LogLevel
	}{
		{"debug", DebugLevel},
		{"DEBUG", DebugLevel},
		{"info", InfoLevel},
		{"warn", WarnLevel},
		{"warning", WarnLevel},
		{"error", ErrorLevel},
		{"invalid", InfoLevel},
		{"", InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLogLevel(tt.input))
		})
	}
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.LoggingConfig
		wantErr string
	}{
		{
			name: "stdout",
			cfg:  config.LoggingConfig{Level: "info", Format: "text", Output: "stdout"},
		},
		{
			name: "stderr with caller in debug",
			cfg:  config.LoggingConfig{Level: "debug", Format: "json", Output: "stderr"},
		},
		{
			name:    "file output without path",
			cfg:     config.LoggingConfig{Level: "info", Format: "text", Output: "file"},
			wantErr: "log file path is required",
		},
		{
			name:    "invalid output",
			cfg:     config.LoggingConfig{Level: "info", Format: "text", Output: "syslog"},
			wantErr: "invalid log output",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.cfg)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, parseLogLevel(tt.cfg.Level), logger.level)
			assert.Equal(t, tt.cfg.Level == "debug", logger.showCaller)
		})
	}
}

func TestLoggerFieldsAndError(t *testing.T) {
	var buf bytes.Buffer
	logger := newBufferLogger(InfoLevel, "json", &buf)

	logger.WithField("session", "abc").WithError(assert.AnError).Info("asked a question")

	var entry LogEntry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))

	assert.Equal(t, "asked a question", entry.Message)
	assert.Equal(t, "abc", entry.Fields["session"])
	assert.Equal(t, assert.AnError.Error(), entry.Fields["error"])
}

func TestLoggerWithErrorNil(t *testing.T) {
	logger := newBufferLogger(InfoLevel, "json", &bytes.Buffer{})

	assert.Equal(t, logger, logger.WithError(nil))
}

func TestLoggerLevelThreshold(t *testing.T) {
	var buf bytes.Buffer
	logger := newBufferLogger(WarnLevel, "json", &buf)

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var warnEntry LogEntry
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &warnEntry))
	assert.Equal(t, "WARN", warnEntry.Level)
}

func TestLoggerFormattedMessages(t *testing.T) {
	var buf bytes.Buffer
	logger := newBufferLogger(InfoLevel, "json", &buf)

	logger.Infof("validated %d statements in %s", 3, "12ms")

	var entry LogEntry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "validated 3 statements in 12ms", entry.Message)
}

func TestLoggerTextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := &Logger{
		level:  InfoLevel,
		format: "text",
		output: &buf,
		fields: map[string]interface{}{"attempt": 2},
	}

	logger.Info("retrying generation")

	output := buf.String()
	assert.Contains(t, output, "INFO")
	assert.Contains(t, output, "retrying generation")
	assert.Contains(t, output, "attempt=2")
}

func TestLoggerFileOutput(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "test.log")

	logger, err := NewLogger(config.LoggingConfig{
		Level:  "info",
		Format: "text",
		Output: "file",
		File:   logFile,
	})
	require.NoError(t, err)

	logger.Info("written to file")
	require.NoError(t, logger.Close())

	content, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(content), "written to file")
}

func TestGlobalLoggingFunctions(t *testing.T) {
	var buf bytes.Buffer
	globalLogger = newBufferLogger(InfoLevel, "json", &buf)

	Info("info message")
	Warn("warn message")
	Error("error message")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)

	for i, expectedLevel := range []string{"INFO", "WARN", "ERROR"} {
		var entry LogEntry
		require.NoError(t, json.Unmarshal([]byte(lines[i]), &entry))
		assert.Equal(t, expectedLevel, entry.Level)
	}
}

func TestLoggerMiddleware(t *testing.T) {
	var buf bytes.Buffer
	globalLogger = newBufferLogger(DebugLevel, "json", &buf)

	err := LoggerMiddleware("generate", func() error {
		return nil
	})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var endEntry LogEntry
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &endEntry))
	assert.Contains(t, endEntry.Message, "completed")
	assert.Equal(t, "generate", endEntry.Fields["operation"])
}

func TestLoggerMiddlewareError(t *testing.T) {
	var buf bytes.Buffer
	globalLogger = newBufferLogger(DebugLevel, "json", &buf)

	err := LoggerMiddleware("generate", func() error {
		return assert.AnError
	})
	assert.Equal(t, assert.AnError, err)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var errorEntry LogEntry
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &errorEntry))
	assert.Equal(t, "ERROR", errorEntry.Level)
	assert.Equal(t, assert.AnError.Error(), errorEntry.Error)
}
