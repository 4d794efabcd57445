package vproc

import (
	"sync"
	"sync/atomic"
	"syscall"
)

// ThreadHandle stands in for "the calling OS thread" in a Go port where
// goroutines, not threads, are the unit of scheduling. A caller that wants
// vproc activation (and therefore signal delivery) to behave
// per-thread must obtain one handle per locked OS thread — typically right
// after calling runtime.LockOSThread — and pass it to Activate/Deactivate/
// Current explicitly instead of relying on implicit thread-local storage.
type ThreadHandle struct {
	id     int64
	cancel chan struct{}
	once   sync.Once
}

var threadHandleCounter int64

// NewThreadHandle allocates a fresh handle. Call once per OS thread that
// will host vproc activation.
func NewThreadHandle() *ThreadHandle {
	return &ThreadHandle{
		id:     atomic.AddInt64(&threadHandleCounter, 1),
		cancel: make(chan struct{}),
	}
}

// ID returns the handle's logical thread id, the same value RegisterThread
// stores on a VProcTaskEntry for targeted signal delivery.
func (h *ThreadHandle) ID() int64 { return h.id }

// Cancel closes the handle's cancellation channel exactly once; a blocking
// operation parked on Cancelled() wakes up. This is the Go-idiomatic
// substitute for pthread_cancel's non-stop kill path.
func (h *ThreadHandle) Cancel() {
	h.once.Do(func() { close(h.cancel) })
}

// Cancelled returns the channel that closes when Cancel is called.
func (h *ThreadHandle) Cancelled() <-chan struct{} { return h.cancel }

var (
	activeMu sync.Mutex
	active   = map[*ThreadHandle]*VProc{}
	byTid    = map[int64]*ThreadHandle{}
)

// Activate records vp as the active vproc for the calling (logical) thread.
func Activate(th *ThreadHandle, vp *VProc) {
	activeMu.Lock()
	defer activeMu.Unlock()
	active[th] = vp
	byTid[th.id] = th
}

// Deactivate clears whatever vproc is active for th.
func Deactivate(th *ThreadHandle) {
	activeMu.Lock()
	defer activeMu.Unlock()
	delete(active, th)
	delete(byTid, th.id)
}

// Current returns the vproc active for th, or nil outside any activation.
func Current(th *ThreadHandle) *VProc {
	activeMu.Lock()
	defer activeMu.Unlock()
	return active[th]
}

// deliverThreadDirected is the Go-idiomatic substitute for pthread_kill +
// pthread_cancel: it unblocks whatever goroutine registered tid via
// ThreadHandle, so that a blocking read/wait on that logical thread
// returns instead of hanging forever after a non-stop kill.
func deliverThreadDirected(tid int64, _ syscall.Signal) {
	activeMu.Lock()
	th, ok := byTid[tid]
	activeMu.Unlock()
	if ok {
		th.Cancel()
	}
}
