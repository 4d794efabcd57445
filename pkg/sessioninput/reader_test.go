package sessioninput

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pushSource is a Source fed by explicit Push calls, used to reproduce the
// exact byte-push timing scenario 4 without a real terminal.
type pushSource struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending [][]byte
	closed  bool
}

func newPushSource() *pushSource {
	s := &pushSource{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *pushSource) Push(b []byte) {
	s.mu.Lock()
	s.pending = append(s.pending, b)
	s.cond.Broadcast()
	s.mu.Unlock()
}

func (s *pushSource) Close() error {
	s.mu.Lock()
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()
	return nil
}

func (s *pushSource) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.pending) == 0 && !s.closed {
		s.cond.Wait()
	}
	if s.closed && len(s.pending) == 0 {
		return 0, io.EOF
	}
	next := s.pending[0]
	s.pending = s.pending[1:]
	n := copy(p, next)
	return n, nil
}

func TestZeroReadDoesNotTerminateReader(t *testing.T) {
	src := newPushSource()
	in := New(src, nil)

	// A zero-length push simulates the spurious empty read
	// scenario 4 calls out explicitly.
	src.Push(nil)

	var wg sync.WaitGroup
	wg.Add(1)
	var got []byte
	var readErr error
	go func() {
		defer wg.Done()
		buf := make([]byte, 1)
		for len(got) < 1 {
			n, err := in.Read(buf)
			if err != nil {
				readErr = err
				return
			}
			got = append(got, buf[:n]...)
		}
	}()

	time.Sleep(10 * time.Millisecond)
	src.Push([]byte("s"))
	wg.Wait()

	require.NoError(t, readErr)
	assert.Equal(t, "s", string(got))
}

func TestScpPromptRegressionReadsAcrossTwoPushes(t *testing.T) {
	src := newPushSource()
	in := New(src, nil)

	src.Push(nil) // spurious zero read before any real data arrives

	passwordDone := make(chan string, 1)
	go func() {
		var out []byte
		buf := make([]byte, 1)
		for {
			n, err := in.Read(buf)
			if err != nil {
				close(passwordDone)
				return
			}
			if n == 0 {
				continue
			}
			out = append(out, buf[:n]...)
			if buf[0] == '\n' {
				passwordDone <- string(out)
				return
			}
			if len(out) == 1 && out[0] == 's' {
				// give the single 's' push time to be (wrongly) treated as
				// complete, proving the reader does not bail out early.
				time.Sleep(15 * time.Millisecond)
			}
		}
	}()

	src.Push([]byte("s"))
	time.Sleep(10 * time.Millisecond)
	src.Push([]byte("ecret\n"))

	select {
	case got := <-passwordDone:
		assert.Equal(t, "secret\n", got)
	case <-time.After(2 * time.Second):
		t.Fatal("password read never completed")
	}

	// The reader must still be alive and able to deliver a subsequent line
	// to a different consumer on the same queue.
	src.Push([]byte("ping\n"))
	buf := make([]byte, 16)
	total := 0
	deadline := time.After(2 * time.Second)
	var line []byte
	for {
		select {
		case <-deadline:
			t.Fatal("ping line never arrived")
		default:
		}
		n, err := in.Read(buf[total:])
		require.NoError(t, err)
		line = append(line, buf[total:total+n]...)
		if n > 0 && buf[total+n-1] == '\n' {
			break
		}
		total = 0
	}
	assert.Equal(t, "ping\n", string(line))
}

func TestStopReaderUnblocksAndJoins(t *testing.T) {
	src := newPushSource()
	in := New(src, nil)

	buf := make([]byte, 1)
	done := make(chan struct{})
	go func() {
		_, _ = in.Read(buf)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	in.StopReader()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer never unblocked after StopReader")
	}
	assert.True(t, in.EOF())
}

func TestInterruptIsRecordedAndConsumedOnce(t *testing.T) {
	src := newPushSource()
	in := New(src, nil)

	assert.False(t, in.ConsumeInterrupt())
	in.RequestInterrupt()
	assert.True(t, in.ConsumeInterrupt())
	assert.False(t, in.ConsumeInterrupt())
}
