package vproc

import (
	"sync/atomic"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockedSignalStaysPendingUntilUnblocked(t *testing.T) {
	tbl := newTestTable()
	entry := tbl.Create(CreateOptions{Label: "a"})

	var calls int32
	_, _, err := entry.Sigaction(syscall.SIGUSR1, DispositionHandler, func(syscall.Signal) {
		atomic.AddInt32(&calls, 1)
	})
	require.NoError(t, err)

	_, err = entry.Sigprocmask(SigBlock, SignalSet(0).Add(syscall.SIGUSR1))
	require.NoError(t, err)

	require.NoError(t, entry.Raise(syscall.SIGUSR1))
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
	assert.True(t, entry.Sigpending().Has(syscall.SIGUSR1))

	_, err = entry.Sigprocmask(SigUnblock, SignalSet(0).Add(syscall.SIGUSR1))
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.False(t, entry.Sigpending().Has(syscall.SIGUSR1))
}

func TestSetsetmaskRestoresAndDeliversExactlyOnce(t *testing.T) {
	tbl := newTestTable()
	entry := tbl.Create(CreateOptions{Label: "a"})

	var calls int32
	_, _, err := entry.Sigaction(syscall.SIGUSR2, DispositionHandler, func(syscall.Signal) {
		atomic.AddInt32(&calls, 1)
	})
	require.NoError(t, err)

	blocked := SignalSet(0).Add(syscall.SIGUSR2)
	_, err = entry.Sigprocmask(SigSetmask, blocked)
	require.NoError(t, err)

	require.NoError(t, entry.Raise(syscall.SIGUSR2))
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))

	_, err = entry.Sigprocmask(SigSetmask, SignalSet(0))
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	// raising again after the mask is restored to empty delivers again —
	// exactly once per raise, no double-delivery of the first one.
	require.NoError(t, entry.Raise(syscall.SIGUSR2))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestDefaultDispositionTerminatesTask(t *testing.T) {
	tbl := newTestTable()
	entry := tbl.Create(CreateOptions{Label: "a"})
	pid := entry.Pid

	require.NoError(t, entry.Raise(syscall.SIGUSR1))

	_, status, err := tbl.WaitPid(pid, 0)
	require.NoError(t, err)
	assert.True(t, WIFSIGNALED(status))
	assert.Equal(t, int(syscall.SIGUSR1), WTERMSIG(status))
}

func TestIgnoreDispositionDropsSignal(t *testing.T) {
	tbl := newTestTable()
	entry := tbl.Create(CreateOptions{Label: "a"})

	_, _, err := entry.Sigaction(syscall.SIGUSR1, DispositionIgnore, nil)
	require.NoError(t, err)

	require.NoError(t, entry.Raise(syscall.SIGUSR1))
	assert.False(t, entry.Sigpending().Has(syscall.SIGUSR1))

	// task must still be alive: WNOHANG wait sees nothing.
	gotPid, _, err := tbl.WaitPid(entry.Pid, WNOHANG)
	require.NoError(t, err)
	assert.Equal(t, int32(0), gotPid)
}

func TestSigactionRejectsNilHandlerForHandlerDisposition(t *testing.T) {
	tbl := newTestTable()
	entry := tbl.Create(CreateOptions{Label: "a"})
	_, _, err := entry.Sigaction(syscall.SIGUSR1, DispositionHandler, nil)
	require.Error(t, err)
}
