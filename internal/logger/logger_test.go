package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStructuredLoggerWritesJSONLine(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, InfoLevel)
	l.Info("replay detected", String("session_id", "s1"), Uint64("seq", 7))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "replay detected", entry["message"])
	require.Equal(t, "s1", entry["session_id"])
}

func TestStructuredLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, WarnLevel)
	l.Info("should be dropped")
	require.Empty(t, buf.String())

	l.Warn("should appear")
	require.NotEmpty(t, buf.String())
}

func TestWithFieldsMerges(t *testing.T) {
	var buf bytes.Buffer
	base := NewLogger(&buf, InfoLevel)
	scoped := base.WithFields(String("component", "handshake"))
	scoped.Info("established")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "handshake", entry["component"])
}

func TestCoreErrorUnwrap(t *testing.T) {
	cause := errors.New("tag mismatch")
	err := NewCoreError(CodeAeadTagFailure, "decrypt failed", cause)
	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), CodeAeadTagFailure)
}
