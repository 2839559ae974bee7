package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "text", false)
	defer InitWithWriter(&buf, "INFO", "text", false)

	Info("room joined", "room", "test01", "users", 2)

	out := buf.String()
	assert.Contains(t, out, "[INFO]")
	assert.Contains(t, out, "room joined")
	assert.Contains(t, out, "room=test01")
	assert.Contains(t, out, "users=2")
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "json", false)

	Info("upload complete", "file_id", "abc", "bytes", 1024)

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "upload complete", record["msg"])
	assert.Equal(t, "abc", record["file_id"])
	assert.Equal(t, float64(1024), record["bytes"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "WARN", "text", false)

	Debug("dropped")
	Info("dropped too")
	Warn("kept")
	Error("also kept")

	out := buf.String()
	assert.NotContains(t, out, "dropped")
	assert.Contains(t, out, "kept")
	assert.Contains(t, out, "also kept")
}

func TestSetLevelIgnoresInvalid(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "text", false)

	SetLevel("bogus")
	Info("still info")

	assert.Contains(t, buf.String(), "still info")
}

func TestColorOutput(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "text", true)

	Info("colored")

	out := buf.String()
	assert.Contains(t, out, colorGreen)
	require.True(t, strings.Contains(out, colorReset))
}
