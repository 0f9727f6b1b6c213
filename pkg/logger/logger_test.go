package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerWritesJSONWithContext(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "debug", JSON: true, Output: &buf})

	log.WithUserID(5).WithConversation("request:42").Info("hello")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "hello", rec["msg"])
	assert.Equal(t, "5", rec["user_id"])
	assert.Equal(t, "request:42", rec["conversation"])
}

func TestLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "warn", Output: &buf})

	log.Info("dropped")
	assert.Zero(t, buf.Len())

	log.LogError(errors.New("boom"), "failed", "op", "fetch")
	assert.Contains(t, buf.String(), "boom")
	assert.Contains(t, buf.String(), "op=fetch")
}

func TestEmptyContextValuesAreSkipped(t *testing.T) {
	log := Nop()
	assert.Same(t, log, log.WithUserID(0))
	assert.Same(t, log, log.WithConversation(""))
	assert.Same(t, log, log.WithRequestID(""))
}
