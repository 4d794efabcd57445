package sessioninput

import "sync"

// VProcSessionStdio is the per-window bundle of stdio host fds plus the
// shared cooperative input reader. Input is shared across every thread of
// the session; StdinHostFd/StdoutHostFd/StderrHostFd are the host
// descriptors the session's vproc fd table entries were duped from.
type VProcSessionStdio struct {
	StdinHostFd  int
	StdoutHostFd int
	StderrHostFd int
	KernelPid    int32
	Input        *VProcSessionInput
}

// NewStdio builds a session stdio bundle.
func NewStdio(stdinHostFd, stdoutHostFd, stderrHostFd int, kernelPid int32, input *VProcSessionInput) *VProcSessionStdio {
	return &VProcSessionStdio{
		StdinHostFd:  stdinHostFd,
		StdoutHostFd: stdoutHostFd,
		StderrHostFd: stderrHostFd,
		KernelPid:    kernelPid,
		Input:        input,
	}
}

// Destroy stops the cooperative reader, if one is installed, releasing it
// for teardown alongside the owning session's vproc.
func (s *VProcSessionStdio) Destroy() {
	if s.Input != nil {
		s.Input.StopReader()
	}
}

// RoutesThroughInput reports whether hostFd is this session's stdin and a
// cooperative input queue is installed — the readShim integration point:
// reads on the session's stdin must go through the queue rather than
// racing directly against the host fd.
func (s *VProcSessionStdio) RoutesThroughInput(hostFd int) bool {
	return s.Input != nil && hostFd == s.StdinHostFd
}

// ThreadHandle identifies the calling OS thread for activation purposes.
// pkg/vproc.ThreadHandle satisfies this; kept as an interface here so
// sessioninput does not import vproc.
type ThreadHandle interface {
	ID() int64
}

// activation mirrors pkg/vproc's ThreadHandle-keyed activation table: an
// explicit object obtained once per OS thread stands in for the C runtime's
// thread-local "active session" pointer.
var (
	activeMu sync.Mutex
	active   = map[ThreadHandle]*VProcSessionStdio{}
)

// Activate associates stdio with th, the calling goroutine's thread handle.
func Activate(th ThreadHandle, stdio *VProcSessionStdio) {
	activeMu.Lock()
	active[th] = stdio
	activeMu.Unlock()
}

// Deactivate clears any session stdio associated with th.
func Deactivate(th ThreadHandle) {
	activeMu.Lock()
	delete(active, th)
	activeMu.Unlock()
}

// Current returns the session stdio activated on th, or nil.
func Current(th ThreadHandle) *VProcSessionStdio {
	activeMu.Lock()
	defer activeMu.Unlock()
	return active[th]
}
