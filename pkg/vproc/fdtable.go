// Package vproc implements the virtual-process runtime: per-vproc fd
// tables, the process-wide task table, wait/kill semantics,
// process-group/session/controlling-terminal state, and the signal core.
package vproc

import (
	"os"

	"github.com/emkey1/pscal-vproc/pkg/vprocerr"
	"github.com/sasha-s/go-deadlock"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// freeSlot marks a VProcFdEntry as unoccupied.
const freeSlot = -1

// VProcFdEntry is one slot of a VProcFdTable. hostFd < 0 iff the slot is
// free.
type VProcFdEntry struct {
	hostFd int
}

// VProcFdTable is a per-VProc growable array mapping small integer vfds to
// distinct host fds. Indices are stable; allocation never reduces
// capacity; free slots are reclaimed before the table grows.
type VProcFdTable struct {
	mu      deadlock.Mutex
	entries []VProcFdEntry
	nextFd  int
	log     *logrus.Entry
}

// NewFdTable allocates a table of the given initial capacity and preloads
// fd 0/1/2 by cloning the host's stdin/stdout/stderr (or, when
// stdinFromDevNull is set, by opening /dev/null for fd 0), all close-on-exec.
func NewFdTable(initialCapacity int, stdinFromDevNull bool, log *logrus.Entry) (*VProcFdTable, error) {
	if initialCapacity < 3 {
		initialCapacity = 3
	}
	t := &VProcFdTable{
		entries: make([]VProcFdEntry, initialCapacity),
		log:     log,
	}
	for i := range t.entries {
		t.entries[i].hostFd = freeSlot
	}

	stdinHost := int(os.Stdin.Fd())
	if stdinFromDevNull {
		f, err := os.Open(os.DevNull)
		if err != nil {
			return nil, vprocerr.WrapError(err)
		}
		stdinHost = int(f.Fd())
	}

	seed := []int{stdinHost, int(os.Stdout.Fd()), int(os.Stderr.Fd())}
	for vfd, hostFd := range seed {
		cloned, err := cloneCloexec(hostFd)
		if err != nil {
			t.closeAllLocked()
			return nil, vprocerr.WrapError(err)
		}
		t.entries[vfd].hostFd = cloned
	}
	t.nextFd = 3

	return t, nil
}

// cloneCloexec duplicates hostFd onto a new close-on-exec fd, preferring
// F_DUPFD_CLOEXEC and falling back to dup()+FD_CLOEXEC when the former is
// unavailable.
func cloneCloexec(hostFd int) (int, error) {
	newFd, err := unix.FcntlInt(uintptr(hostFd), unix.F_DUPFD_CLOEXEC, 0)
	if err == nil {
		return newFd, nil
	}

	newFd, err = unix.Dup(hostFd)
	if err != nil {
		return -1, err
	}
	if _, ferr := unix.FcntlInt(uintptr(newFd), unix.F_SETFD, unix.FD_CLOEXEC); ferr != nil {
		unix.Close(newFd)
		return -1, ferr
	}
	return newFd, nil
}

func (t *VProcFdTable) growLocked(minCapacity int) {
	capNow := len(t.entries)
	newCap := capNow * 2
	if newCap == 0 {
		newCap = 4
	}
	for newCap < minCapacity {
		newCap *= 2
	}
	grown := make([]VProcFdEntry, newCap)
	copy(grown, t.entries)
	for i := capNow; i < newCap; i++ {
		grown[i].hostFd = freeSlot
	}
	t.entries = grown
}

// allocSlotLocked finds (growing if necessary) the first free slot at or
// after nextFd, wrapping modulo capacity, and returns its index.
func (t *VProcFdTable) allocSlotLocked() int {
	capNow := len(t.entries)
	start := t.nextFd % capNow
	for i := 0; i < capNow; i++ {
		idx := (start + i) % capNow
		if t.entries[idx].hostFd == freeSlot {
			t.nextFd = idx + 1
			return idx
		}
	}
	// exhausted: grow and use the first new slot
	t.growLocked(capNow + 1)
	idx := capNow
	t.nextFd = idx + 1
	return idx
}

// Dup allocates a fresh vfd pointing at a close-on-exec clone of the host
// fd currently behind oldVfd.
func (t *VProcFdTable) Dup(oldVfd int) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	hostFd, err := t.translateLocked(oldVfd)
	if err != nil {
		return -1, err
	}
	cloned, err := cloneCloexec(hostFd)
	if err != nil {
		return -1, err
	}
	idx := t.allocSlotLocked()
	t.entries[idx].hostFd = cloned
	return idx, nil
}

// Dup2 makes newVfd refer to a clone of oldVfd's host fd, closing whatever
// newVfd previously held and extending capacity if newVfd lies beyond it.
func (t *VProcFdTable) Dup2(oldVfd, newVfd int) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if oldVfd < 0 || newVfd < 0 {
		return -1, vprocerr.New(vprocerr.EBADF, "negative fd")
	}
	hostFd, err := t.translateLocked(oldVfd)
	if err != nil {
		return -1, err
	}
	if oldVfd == newVfd {
		return newVfd, nil
	}

	if newVfd >= len(t.entries) {
		t.growLocked(newVfd + 1)
	}
	cloned, err := cloneCloexec(hostFd)
	if err != nil {
		return -1, err
	}
	if t.entries[newVfd].hostFd != freeSlot {
		unix.Close(t.entries[newVfd].hostFd)
	}
	t.entries[newVfd].hostFd = cloned
	return newVfd, nil
}

// Close releases vfd's host fd and marks the slot free.
func (t *VProcFdTable) Close(vfd int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	hostFd, err := t.translateLocked(vfd)
	if err != nil {
		return err
	}
	t.entries[vfd].hostFd = freeSlot
	return unix.Close(hostFd)
}

// Pipe allocates two fresh vfds wired to a new host pipe's read/write ends.
func (t *VProcFdTable) Pipe() (readVfd, writeVfd int, err error) {
	var fds [2]int
	if perr := unix.Pipe2(fds[:], unix.O_CLOEXEC); perr != nil {
		return -1, -1, perr
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	ridx := t.allocSlotLocked()
	t.entries[ridx].hostFd = fds[0]
	widx := t.allocSlotLocked()
	t.entries[widx].hostFd = fds[1]
	return ridx, widx, nil
}

// Open opens path on the host and installs it at a fresh vfd.
func (t *VProcFdTable) Open(path string, flag int, perm os.FileMode) (int, error) {
	f, err := os.OpenFile(path, flag|os.O_CLOEXEC, perm)
	if err != nil {
		return -1, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	idx := t.allocSlotLocked()
	t.entries[idx].hostFd = int(f.Fd())
	return idx, nil
}

// Translate returns the host fd currently stored at vfd, or EBADF.
func (t *VProcFdTable) Translate(vfd int) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.translateLocked(vfd)
}

func (t *VProcFdTable) translateLocked(vfd int) (int, error) {
	if vfd < 0 || vfd >= len(t.entries) || t.entries[vfd].hostFd == freeSlot {
		return -1, vprocerr.Errorf(vprocerr.EBADF, "vfd %d not open", vfd)
	}
	return t.entries[vfd].hostFd, nil
}

// CloseAll closes every host fd owned by the table, used when the owning
// VProc is destroyed.
func (t *VProcFdTable) CloseAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeAllLocked()
}

func (t *VProcFdTable) closeAllLocked() {
	for i := range t.entries {
		if t.entries[i].hostFd != freeSlot {
			unix.Close(t.entries[i].hostFd)
			t.entries[i].hostFd = freeSlot
		}
	}
}

// Capacity reports the current number of slots, for tests and snapshots.
func (t *VProcFdTable) Capacity() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
