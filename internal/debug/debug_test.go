package debug

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// saveAndRestoreState saves the debug package state and returns a cleanup function
func saveAndRestoreState() func() {
	originalDebug := EnableDebug
	originalMode := MCPMode
	originalOutput := debugOutput
	originalFile := debugFile
	return func() {
		EnableDebug = originalDebug
		MCPMode = originalMode
		debugOutput = originalOutput
		debugFile = originalFile
	}
}

func TestSetMCPMode(t *testing.T) {
	defer saveAndRestoreState()()

	SetMCPMode(true)
	assert.True(t, MCPMode)

	SetMCPMode(false)
	assert.False(t, MCPMode)
}

func TestIsDebugEnabled(t *testing.T) {
	defer saveAndRestoreState()()
	t.Setenv("DEBUG", "")

	EnableDebug = "false"
	MCPMode = false
	assert.False(t, IsDebugEnabled())

	EnableDebug = "true"
	assert.True(t, IsDebugEnabled())

	// MCP mode always wins
	MCPMode = true
	assert.False(t, IsDebugEnabled())

	EnableDebug = "invalid"
	MCPMode = false
	assert.False(t, IsDebugEnabled())

	t.Setenv("DEBUG", "1")
	assert.True(t, IsDebugEnabled())
}

func TestLog(t *testing.T) {
	defer saveAndRestoreState()()

	var buf bytes.Buffer
	SetDebugOutput(&buf)
	EnableDebug = "true"
	MCPMode = false
	Log("TEST", "Hello %s", "World")

	output := buf.String()
	assert.Contains(t, output, "[DEBUG:TEST]")
	assert.Contains(t, output, "Hello World")
}

func TestLog_MCPMode(t *testing.T) {
	defer saveAndRestoreState()()

	var buf bytes.Buffer
	SetDebugOutput(&buf)
	EnableDebug = "true"
	MCPMode = true
	Log("TEST", "should not appear")
	Warn("TEST", "should not appear either")

	assert.Empty(t, buf.String())
}

func TestWarnWithoutDebug(t *testing.T) {
	defer saveAndRestoreState()()
	t.Setenv("DEBUG", "")

	var buf bytes.Buffer
	SetDebugOutput(&buf)
	EnableDebug = "false"
	MCPMode = false

	Log("STORE", "hidden")
	Warn("STORE", "snapshot save failed: %s", "disk full")

	output := buf.String()
	assert.NotContains(t, output, "hidden")
	assert.Contains(t, output, "[WARN:STORE] snapshot save failed: disk full")
}

func TestComponentLogger(t *testing.T) {
	defer saveAndRestoreState()()

	var buf bytes.Buffer
	SetDebugOutput(&buf)
	EnableDebug = "true"
	MCPMode = false

	var l Logger = For("RESOLVE")
	l.Printf("tier %s", "wildcard")
	l.Warnf("ambiguous %d", 3)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "[DEBUG:RESOLVE] tier wildcard", lines[0])
	assert.Equal(t, "[WARN:RESOLVE] ambiguous 3", lines[1])

	// Nop must be safe to call
	Nop.Printf("x")
	Nop.Warnf("y")
}

func TestFatal(t *testing.T) {
	defer saveAndRestoreState()()

	var buf bytes.Buffer
	SetDebugOutput(&buf)
	MCPMode = false

	err := Fatal("boom %d", 1)
	require.Error(t, err)
	assert.Equal(t, "fatal error: boom 1", err.Error())
	assert.Contains(t, buf.String(), "[FATAL] boom 1")
}

func TestInitDebugLogFile(t *testing.T) {
	defer saveAndRestoreState()()

	path, err := InitDebugLogFile()
	require.NoError(t, err)
	defer os.Remove(path)

	EnableDebug = "true"
	MCPMode = false
	LogStore("hello from %s\n", "store")
	require.NoError(t, CloseDebugLog())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "[DEBUG:STORE] hello from store")
}
