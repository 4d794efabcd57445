package vproc

import (
	"syscall"

	"github.com/emkey1/pscal-vproc/pkg/vprocerr"
	"github.com/samber/lo"
)

func errNoSuchTask(pid int32) error {
	return vprocerr.Errorf(vprocerr.ESRCH, "pid %d not tracked", pid)
}

// wait option bits, matching the WNOHANG/WUNTRACED names waitpid(2) uses.
const (
	WNOHANG   = 1
	WUNTRACED = 2
)

// W_EXITCODE/W_STOPCODE encode a wait status the way <sys/wait.h> does.
func W_EXITCODE(exitCode, sig int) int { return (exitCode&0xff)<<8 | (sig & 0x7f) }
func W_STOPCODE(sig int) int           { return (sig&0xff)<<8 | 0x7f }

func WIFEXITED(status int) bool  { return status&0x7f == 0 }
func WEXITSTATUS(status int) int { return (status >> 8) & 0xff }
func WIFSIGNALED(status int) bool {
	sig := status & 0x7f
	return sig != 0 && sig != 0x7f
}
func WTERMSIG(status int) int { return status & 0x7f }
func WIFSTOPPED(status int) bool {
	return status&0xff == 0x7f
}
func WSTOPSIG(status int) int { return (status >> 8) & 0xff }

// Kill implements kill(pid, sig): pid > 0 targets one task, pid < -1
// targets every task in process group -pid. It never blocks.
func (t *VProcTaskTable) Kill(pid int32, sig syscall.Signal) error {
	if pid > 0 {
		e, err := t.lookup(pid)
		if err != nil {
			return err
		}
		t.killEntry(e, sig)
		return nil
	}

	if pid == 0 || pid == -1 {
		return vprocerr.New(vprocerr.EINVAL, "kill(0) and kill(-1) are not tracked by this runtime")
	}

	group := -pid
	t.mu.Lock()
	targets := lo.Filter(lo.Values(t.entries), func(e *VProcTaskEntry, _ int) bool {
		e.mu.Lock()
		match := e.Pgid == group
		e.mu.Unlock()
		return match
	})
	t.mu.Unlock()

	if len(targets) == 0 {
		return errNoSuchTask(pid)
	}
	for _, e := range targets {
		t.killEntry(e, sig)
	}
	return nil
}

func (t *VProcTaskTable) killEntry(e *VProcTaskEntry, sig syscall.Signal) {
	switch {
	case isStopSignal(sig):
		e.mu.Lock()
		e.Stopped = true
		e.StopSigno = int32(sig)
		e.Exited = false
		e.mu.Unlock()
	case sig == syscall.SIGCONT:
		e.mu.Lock()
		e.Stopped = false
		e.StopSigno = 0
		e.mu.Unlock()
	default:
		e.mu.Lock()
		e.Status = int32(128 + int(sig))
		e.Exited = true
		e.Stopped = false
		e.ExitSignal = int32(sig)
		tid := e.ThreadID
		e.mu.Unlock()

		if tid != 0 {
			deliverThreadDirected(tid, sig)
		}
	}
	t.mu.Lock()
	t.cv.Broadcast()
	t.mu.Unlock()
}

// MarkExit records a normal (non-signal) exit with the given status code,
// per vprocRegisterThread/MarkExit's public entry points.
func (t *VProcTaskTable) MarkExit(pid int32, exitCode int) error {
	return t.markExit(pid, exitCode, false)
}

// markExit records an exit. When viaSignal is true, statusOrCode is
// 128+termsig (as markExitForSignalLocked passes) and the termsig is
// recorded on ExitSignal so WaitPid can report WIFSIGNALED/WTERMSIG
// instead of treating the exit as a plain exit code.
func (t *VProcTaskTable) markExit(pid int32, statusOrCode int, viaSignal bool) error {
	e, err := t.lookup(pid)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.Status = int32(statusOrCode)
	e.Exited = true
	e.Stopped = false
	if viaSignal {
		e.ExitSignal = int32(statusOrCode - 128)
	} else {
		e.ExitSignal = 0
	}
	e.mu.Unlock()

	t.mu.Lock()
	t.cv.Broadcast()
	t.mu.Unlock()
	return nil
}

// WaitPid implements waitpid(pid, &status, options)
// pid<=0 paired with an untracked pid is the caller's cue to fall back to
// the host waitpid; this method only ever returns an ESRCH error for that
// case so callers downstream (the interposition shim) know to fall
// through.
func (t *VProcTaskTable) WaitPid(pid int32, options int) (gotPid int32, status int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for {
		e, ok := t.entries[pid]
		if !ok {
			return 0, 0, errNoSuchTask(pid)
		}

		e.mu.Lock()
		exited := e.Exited
		stopped := e.Stopped
		stopSigno := e.StopSigno
		exitStatus := e.Status
		exitSignal := e.ExitSignal
		e.mu.Unlock()

		if exited {
			if exitSignal != 0 {
				status = int(exitSignal) & 0x7f
			} else {
				status = W_EXITCODE(int(exitStatus)&0xff, 0)
			}
			delete(t.entries, pid)
			t.removeChildLocked(e.ParentPid, pid)
			return pid, status, nil
		}
		if options&WUNTRACED != 0 && stopped {
			status = W_STOPCODE(int(stopSigno) & 0xff)
			return pid, status, nil
		}
		if options&WNOHANG != 0 {
			return 0, 0, nil
		}
		t.cv.Wait()
	}
}

func (t *VProcTaskTable) removeChildLocked(parent, child int32) {
	if set, ok := t.children[parent]; ok {
		delete(set, child)
		if len(set) == 0 {
			delete(t.children, parent)
		}
	}
	delete(t.children, child)
}
