package pty

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFallbackWinsizeUsesEnvironmentHints(t *testing.T) {
	env := map[string]string{"LINES": "50", "COLUMNS": "120"}
	rows, cols := FallbackWinsize(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	assert.Equal(t, uint16(50), rows)
	assert.Equal(t, uint16(120), cols)
}

func TestFallbackWinsizeDefaultsWithoutHints(t *testing.T) {
	rows, cols := FallbackWinsize(func(string) (string, bool) { return "", false })
	assert.Equal(t, uint16(24), rows)
	assert.Equal(t, uint16(80), cols)
}

func TestFallbackWinsizeIgnoresGarbageHints(t *testing.T) {
	env := map[string]string{"LINES": "not-a-number"}
	rows, cols := FallbackWinsize(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	assert.Equal(t, uint16(24), rows)
	assert.Equal(t, uint16(80), cols)
}

func TestNonTerminalHostStreamReportsZeroWinsize(t *testing.T) {
	h := &HostStream{IsTerminal: false}
	rows, cols := h.Winsize()
	assert.Equal(t, uint16(0), rows)
	assert.Equal(t, uint16(0), cols)

	restore, err := h.SetRaw()
	assert.NoError(t, err)
	assert.NoError(t, restore())
}
