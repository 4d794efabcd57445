package vproc

import (
	"syscall"

	"github.com/emkey1/pscal-vproc/pkg/vprocerr"
)

// maxSignal bounds the signal number range the mask/pending bitsets cover;
// 64 is enough for every signal syscall.Signal names on linux/darwin.
const maxSignal = 64

// SignalSet is a bitmask over signal numbers 1..maxSignal, used for the
// blocked/pending/ignored masks on a VProcTaskEntry.
type SignalSet uint64

func sigBit(sig syscall.Signal) SignalSet {
	if sig <= 0 || int(sig) > maxSignal {
		return 0
	}
	return 1 << uint(sig-1)
}

// Add returns s with sig added.
func (s SignalSet) Add(sig syscall.Signal) SignalSet { return s | sigBit(sig) }

// Remove returns s with sig removed.
func (s SignalSet) Remove(sig syscall.Signal) SignalSet { return s &^ sigBit(sig) }

// Has reports whether sig is a member of s.
func (s SignalSet) Has(sig syscall.Signal) bool { return s&sigBit(sig) != 0 }

// Union returns s|other.
func (s SignalSet) Union(other SignalSet) SignalSet { return s | other }

// Disposition is a tagged-variant signal disposition, preferred over a raw
// function pointer
// stay unambiguous.
type Disposition int

const (
	DispositionDefault Disposition = iota
	DispositionIgnore
	DispositionHandler
)

// SignalHandler is the callback invoked by delivery when a task entry's
// disposition for a signal is DispositionHandler.
type SignalHandler func(sig syscall.Signal)

// disposition is the per-signal entry in a task's disposition table.
type disposition struct {
	kind    Disposition
	handler SignalHandler
}

func isStopSignal(sig syscall.Signal) bool {
	switch sig {
	case syscall.SIGTSTP, syscall.SIGSTOP, syscall.SIGTTIN, syscall.SIGTTOU:
		return true
	default:
		return false
	}
}

// Sigaction records a new disposition for sig on the entry and returns the
// previous one, mirroring sigactionShim. A nil handler with
// kind DispositionHandler is rejected.
func (e *VProcTaskEntry) Sigaction(sig syscall.Signal, kind Disposition, handler SignalHandler) (Disposition, SignalHandler, error) {
	if sig <= 0 || int(sig) > maxSignal {
		return 0, nil, vprocerr.Errorf(vprocerr.EINVAL, "signal %d out of range", sig)
	}
	if kind == DispositionHandler && handler == nil {
		return 0, nil, vprocerr.New(vprocerr.EINVAL, "handler disposition requires a handler")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	old := e.dispositions[sig]
	e.dispositions[sig] = disposition{kind: kind, handler: handler}
	return old.kind, old.handler, nil
}

// Sigprocmask updates the blocked mask per SIG_BLOCK/SIG_UNBLOCK/SIG_SETMASK
// semantics, returns the previous mask, and runs a delivery pass afterward
// since unblocking may expose pending signals.
func (e *VProcTaskEntry) Sigprocmask(how int, set SignalSet) (old SignalSet, err error) {
	e.mu.Lock()
	old = e.maskBlocked
	switch how {
	case SigBlock:
		e.maskBlocked |= set
	case SigUnblock:
		e.maskBlocked &^= set
	case SigSetmask:
		e.maskBlocked = set
	default:
		e.mu.Unlock()
		return 0, vprocerr.Errorf(vprocerr.EINVAL, "bad sigprocmask how=%d", how)
	}
	e.mu.Unlock()

	e.deliverPending()
	return old, nil
}

// how values for Sigprocmask, matching the libc SIG_BLOCK family.
const (
	SigBlock = iota
	SigUnblock
	SigSetmask
)

// Sigpending returns the set of signals pending delivery.
func (e *VProcTaskEntry) Sigpending() SignalSet {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.maskPending
}

// Raise queues sig into the pending set and runs a delivery pass,
// implementing raiseShim/killShim's self-directed path.
func (e *VProcTaskEntry) Raise(sig syscall.Signal) error {
	if sig <= 0 || int(sig) > maxSignal {
		return vprocerr.Errorf(vprocerr.EINVAL, "signal %d out of range", sig)
	}
	e.mu.Lock()
	e.maskPending = e.maskPending.Add(sig)
	e.mu.Unlock()

	e.deliverPending()
	return nil
}

// deliverPending clears and dispatches every pending, unblocked signal.
// Delivery runs synchronously on the calling goroutine: here the calling
// goroutine stands in for the target OS thread a signal handler would
// normally run on.
func (e *VProcTaskEntry) deliverPending() {
	for {
		e.mu.Lock()
		var toDeliver syscall.Signal
		found := false
		for sig := syscall.Signal(1); int(sig) <= maxSignal; sig++ {
			if e.maskPending.Has(sig) && !e.maskBlocked.Has(sig) {
				toDeliver = sig
				found = true
				break
			}
		}
		if !found {
			e.mu.Unlock()
			return
		}
		e.maskPending = e.maskPending.Remove(toDeliver)
		d := e.dispositions[toDeliver]
		e.mu.Unlock()

		switch d.kind {
		case DispositionHandler:
			d.handler(toDeliver)
		case DispositionIgnore:
			// no-op
		default:
			e.markExitForSignalLocked(toDeliver)
		}
	}
}

// markExitForSignalLocked implements the default-terminate action: the
// owning task is marked exited with status 128+sig
func (e *VProcTaskEntry) markExitForSignalLocked(sig syscall.Signal) {
	e.table.markExit(e.Pid, 128+int(sig), true)
}
