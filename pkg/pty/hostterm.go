package pty

import (
	"os"
	"strconv"
	"sync"

	"github.com/moby/term"
)

// HostStream wraps a host stdio stream (real stdin/stdout/stderr) with the
// raw-mode and winsize queries the virtual TTY fallback needs: when stdio
// is backed by a pipe, termios queries/sets still have to land on the real
// fd recorded here rather than on the vproc's virtual one.
// Adapted from the host-side terminal streaming helper the project's
// container-attach path used for the identical moby/term plumbing.
type HostStream struct {
	Fd         uintptr
	IsTerminal bool
	state      *term.State
	mu         sync.Mutex
}

// NewHostStream inspects f (an *os.File or any term.GetFdInfo-compatible
// stream) and records its fd and terminal-ness.
func NewHostStream(f interface{}) *HostStream {
	fd, isTerminal := term.GetFdInfo(f)
	return &HostStream{Fd: fd, IsTerminal: isTerminal}
}

// SetRaw puts the host terminal into raw mode, returning a restore func.
// A no-op restore is returned when the stream is not a terminal.
func (h *HostStream) SetRaw() (func() error, error) {
	if !h.IsTerminal {
		return func() error { return nil }, nil
	}
	state, err := term.SetRawTerminal(h.Fd)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	h.state = state
	h.mu.Unlock()

	var once sync.Once
	restore := func() error {
		var restoreErr error
		once.Do(func() {
			h.mu.Lock()
			st := h.state
			h.mu.Unlock()
			if st == nil {
				return
			}
			restoreErr = term.RestoreTerminal(h.Fd, st)
		})
		return restoreErr
	}
	return restore, nil
}

// Winsize returns the host terminal's current size, or (0,0) when the
// stream is not a terminal or the query fails — callers fall back to the
// LINES/COLUMNS environment hints or a fixed default.
func (h *HostStream) Winsize() (rows, cols uint16) {
	if !h.IsTerminal {
		return 0, 0
	}
	ws, err := term.GetWinsize(h.Fd)
	if err != nil {
		return 0, 0
	}
	return ws.Height, ws.Width
}

// StdioHostStreams bundles the three host-backed streams recorded for the
// virtual TTY fallback.
type StdioHostStreams struct {
	Stdin  *HostStream
	Stdout *HostStream
	Stderr *HostStream
}

// NewStdioHostStreams records fd/terminal info for the process's real
// stdin/stdout/stderr, independent of whatever a vproc's fd table maps 0/1/2
// to.
func NewStdioHostStreams() *StdioHostStreams {
	return &StdioHostStreams{
		Stdin:  NewHostStream(os.Stdin),
		Stdout: NewHostStream(os.Stdout),
		Stderr: NewHostStream(os.Stderr),
	}
}

// FallbackWinsize resolves a window size for a non-terminal stdio backing:
// LINES/COLUMNS environment hints first, then a fixed 80x24 default.
func FallbackWinsize(lookupEnv func(string) (string, bool)) (rows, cols uint16) {
	rows, cols = 24, 80
	if lookupEnv == nil {
		return rows, cols
	}
	if v, ok := lookupEnv("LINES"); ok {
		if n, err := parseUint16(v); err == nil && n > 0 {
			rows = n
		}
	}
	if v, ok := lookupEnv("COLUMNS"); ok {
		if n, err := parseUint16(v); err == nil && n > 0 {
			cols = n
		}
	}
	return rows, cols
}

func parseUint16(s string) (uint16, error) {
	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, err
	}
	return uint16(n), nil
}
