// Package sessioninput implements the cooperative input reader that
// serializes reads from one interactive source (keyboard, pty slave) across
// every thread of a session
package sessioninput

import (
	"io"
	"sync"

	"github.com/sasha-s/go-deadlock"
	"github.com/sirupsen/logrus"
)

// Source is the interactive byte source a VProcSessionInput drains. A read
// returning (0, nil) is a spurious empty read, not EOF, and must not stop
// the reader — a password prompt over a slow link depends on exactly this.
type Source interface {
	Read(p []byte) (int, error)
}

// VProcSessionInput is the shared cooperative input queue: at most one
// reader goroutine drains Source into buf at a time; every consumer waits
// on cv and pops bytes in FIFO order.
type VProcSessionInput struct {
	mu  deadlock.Mutex
	cv  *sync.Cond
	log *logrus.Entry

	source Source
	buf    []byte

	readerActive     bool
	stopRequested    bool
	interruptPending bool
	eof              bool
}

// New builds a session input over source. The reader goroutine is not
// started until the first consumer Read call, matching the "first consumer
// after activation becomes the reader" protocol.
func New(source Source, log *logrus.Entry) *VProcSessionInput {
	in := &VProcSessionInput{source: source, log: log}
	in.cv = sync.NewCond(&in.mu)
	return in
}

// Read pops up to len(p) queued bytes, blocking until bytes are available or
// the source reaches EOF. If no reader is active yet, the call starts the
// reader goroutine.
func (in *VProcSessionInput) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	in.mu.Lock()
	defer in.mu.Unlock()

	in.ensureReaderLocked()

	for len(in.buf) == 0 && !in.eof {
		in.cv.Wait()
	}
	if len(in.buf) == 0 && in.eof {
		return 0, io.EOF
	}

	n := copy(p, in.buf)
	in.buf = in.buf[n:]
	return n, nil
}

func (in *VProcSessionInput) ensureReaderLocked() {
	if in.readerActive || in.stopRequested || in.eof {
		return
	}
	in.readerActive = true
	go in.runReader()
}

func (in *VProcSessionInput) runReader() {
	tmp := make([]byte, 4096)
	for {
		in.mu.Lock()
		if in.stopRequested {
			in.readerActive = false
			in.cv.Broadcast()
			in.mu.Unlock()
			return
		}
		in.mu.Unlock()

		n, err := in.source.Read(tmp)

		in.mu.Lock()
		if n > 0 {
			in.buf = append(in.buf, tmp[:n]...)
		}
		if err != nil {
			in.eof = true
			in.readerActive = false
			if in.log != nil {
				in.log.WithError(err).Debug("session input reader stopped")
			}
			in.cv.Broadcast()
			in.mu.Unlock()
			return
		}
		in.cv.Broadcast()
		in.mu.Unlock()
	}
}

// StopReader requests the reader goroutine stop and waits for it to exit,
//. If the source supports Close, it is closed
// to unblock a reader parked in a blocking Read.
func (in *VProcSessionInput) StopReader() {
	in.mu.Lock()
	in.stopRequested = true
	in.cv.Broadcast()
	active := in.readerActive
	in.mu.Unlock()

	if !active {
		return
	}
	if closer, ok := in.source.(io.Closer); ok {
		_ = closer.Close()
	}

	in.mu.Lock()
	for in.readerActive {
		in.cv.Wait()
	}
	in.mu.Unlock()
}

// RequestInterrupt records a pending interrupt (e.g. Ctrl-C) for the next
// consumer to observe via ConsumeInterrupt.
func (in *VProcSessionInput) RequestInterrupt() {
	in.mu.Lock()
	in.interruptPending = true
	in.cv.Broadcast()
	in.mu.Unlock()
}

// ConsumeInterrupt reports and clears any pending interrupt.
func (in *VProcSessionInput) ConsumeInterrupt() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	pending := in.interruptPending
	in.interruptPending = false
	return pending
}

// EOF reports whether the underlying source has reached end of input.
func (in *VProcSessionInput) EOF() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.eof
}
