// Package pty implements the minimal master/slave pty driver: a fixed-size
// table of paired master/slave endpoints indexed by a small pty_num,
// plugged into the fd-ops interface the same way a real /dev/ptmx driver
// would be.
package pty

import (
	"io"
	"os"
	"sync"

	"github.com/emkey1/pscal-vproc/pkg/vprocerr"
	"github.com/sasha-s/go-deadlock"
	"github.com/sirupsen/logrus"
)

// Provisioner seeds and removes the /dev/pts/N filesystem entry a pty
// allocation is paired with under the virtualized root.
// A nil Provisioner is valid — OpenMaster then skips filesystem provisioning
// entirely (used by unit tests that only exercise the in-memory driver).
type Provisioner interface {
	ProvisionSlave(num int) error
	RemoveSlave(num int) error
}

// SlaveInfo is the slave-side metadata exposed by GetSlaveInfo/SetSlaveInfo.
type SlaveInfo struct {
	UID    uint32
	GID    uint32
	Perms  os.FileMode
	Locked bool
}

// pair is one master/slave allocation. To avoid a cyclic reference, master
// and slave refer to each other only through the table's index (num) and
// the table itself, never through owning pointers, so hangup can be
// recorded without leaving a dangling pointer.
type pair struct {
	mu  deadlock.Mutex
	cv  *sync.Cond
	num int

	slaveInfo SlaveInfo
	refCount  int

	masterToSlave []byte
	slaveToMaster []byte

	masterClosed bool
	slaveHungUp  bool
	packetMode   bool
}

func newPair(num int) *pair {
	p := &pair{num: num, slaveInfo: SlaveInfo{Perms: 0o620, Locked: true}}
	p.cv = sync.NewCond(&p.mu)
	return p
}

// Table is the process-wide pty driver: a fixed-capacity array of pairs
// guarded by one lock, mirroring the original's ttys_lock.
type Table struct {
	mu          deadlock.Mutex
	pairs       []*pair
	provisioner Provisioner
	log         *logrus.Entry
}

// NewTable builds a pty table with room for maxPtys simultaneous
// allocations (config.RuntimeConfig.MaxPtys).
func NewTable(maxPtys int, provisioner Provisioner, log *logrus.Entry) *Table {
	return &Table{
		pairs:       make([]*pair, maxPtys),
		provisioner: provisioner,
		log:         log,
	}
}

// Master is a handle onto the master side of one pty pair.
type Master struct {
	t *Table
	p *pair
}

// Slave is a handle onto the slave side of one pty pair. Multiple Slave
// handles may reference the same pair (refCount), matching POSIX pty
// semantics where several processes can hold the slave open.
type Slave struct {
	t *Table
	p *pair
}

// Num returns the pty_num identifying this pair, used by TIOCGPTN and by
// /dev/pts/N path construction.
func (m *Master) Num() int { return m.p.num }

// Num returns the pty_num identifying this pair.
func (s *Slave) Num() int { return s.p.num }

// OpenMaster reserves the next free pty_num, builds a locked slave paired to
// it, and provisions /dev/pts/N when a Provisioner is configured. Returns
// ENOSPC when every slot is in use.
func (t *Table) OpenMaster() (*Master, error) {
	t.mu.Lock()
	num := -1
	for i, p := range t.pairs {
		if p == nil {
			num = i
			break
		}
	}
	if num < 0 {
		t.mu.Unlock()
		return nil, vprocerr.New(vprocerr.ENOSPC, "pty table exhausted")
	}
	p := newPair(num)
	t.pairs[num] = p
	t.mu.Unlock()

	if t.provisioner != nil {
		if err := t.provisioner.ProvisionSlave(num); err != nil && t.log != nil {
			t.log.WithError(err).WithField("ptyNum", num).Warn("pty slave provisioning failed")
		}
	}
	if t.log != nil {
		t.log.WithField("ptyNum", num).Debug("pty master opened")
	}
	return &Master{t: t, p: p}, nil
}

// OpenSlave opens the slave side of pty num. Fails with ENXIO if num is out
// of range or unallocated, and EIO while the slave is locked.
func (t *Table) OpenSlave(num int) (*Slave, error) {
	t.mu.Lock()
	if num < 0 || num >= len(t.pairs) || t.pairs[num] == nil {
		t.mu.Unlock()
		return nil, vprocerr.Errorf(vprocerr.ENXIO, "pty %d not allocated", num)
	}
	p := t.pairs[num]
	t.mu.Unlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.slaveInfo.Locked {
		return nil, vprocerr.Errorf(vprocerr.EIO, "pty %d slave is locked", num)
	}
	p.refCount++
	return &Slave{t: t, p: p}, nil
}

// Unlock sets or clears the slave lock flag (the TIOCSPTLCK ioctl body).
func (m *Master) Unlock(locked bool) {
	m.p.mu.Lock()
	m.p.slaveInfo.Locked = locked
	m.p.mu.Unlock()
}

// GetSlaveInfo returns a copy of the slave's metadata.
func (m *Master) GetSlaveInfo() SlaveInfo {
	m.p.mu.Lock()
	defer m.p.mu.Unlock()
	return m.p.slaveInfo
}

// SetSlaveInfo overwrites the slave's uid/gid/perms (locked flag is managed
// separately through Unlock/TIOCSPTLCK).
func (m *Master) SetSlaveInfo(info SlaveInfo) {
	m.p.mu.Lock()
	locked := m.p.slaveInfo.Locked
	m.p.slaveInfo = info
	m.p.slaveInfo.Locked = locked
	m.p.mu.Unlock()
}

// Write feeds bytes into the slave's input stream: the master's writes are
// what the slave reads.
func (m *Master) Write(p []byte) (int, error) {
	return writeInto(m.p, &m.p.masterToSlave, func(pr *pair) bool { return pr.slaveHungUp }, p)
}

// Read returns bytes the slave has written, blocking until some are
// available or the pair is hung up.
func (m *Master) Read(p []byte) (int, error) {
	return readFrom(m.p, &m.p.slaveToMaster, func(pr *pair) bool { return pr.slaveHungUp }, p)
}

// Write feeds bytes into the master's input stream: the slave's writes are
// what the master reads.
func (s *Slave) Write(p []byte) (int, error) {
	return writeInto(s.p, &s.p.slaveToMaster, func(pr *pair) bool { return pr.masterClosed }, p)
}

// Read returns bytes the master has written, blocking until some are
// available or the peer hangs up.
func (s *Slave) Read(p []byte) (int, error) {
	return readFrom(s.p, &s.p.masterToSlave, func(pr *pair) bool { return pr.masterClosed }, p)
}

func writeInto(p *pair, dst *[]byte, peerGone func(*pair) bool, data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if peerGone(p) {
		return 0, io.ErrClosedPipe
	}
	*dst = append(*dst, data...)
	p.cv.Broadcast()
	return len(data), nil
}

func readFrom(p *pair, src *[]byte, peerGone func(*pair) bool, out []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(*src) == 0 && !peerGone(p) {
		p.cv.Wait()
	}
	if len(*src) == 0 && peerGone(p) {
		return 0, io.EOF
	}
	n := copy(out, *src)
	*src = (*src)[n:]
	return n, nil
}

// Close hangs up the slave, frees the pty_num slot, and removes the
// provisioned /dev/pts/N entry.
func (m *Master) Close() error {
	m.p.mu.Lock()
	m.p.masterClosed = true
	m.p.cv.Broadcast()
	m.p.mu.Unlock()

	m.t.mu.Lock()
	if m.t.pairs[m.p.num] == m.p {
		m.t.pairs[m.p.num] = nil
	}
	m.t.mu.Unlock()

	if m.t.provisioner != nil {
		if err := m.t.provisioner.RemoveSlave(m.p.num); err != nil && m.t.log != nil {
			m.t.log.WithError(err).WithField("ptyNum", m.p.num).Warn("pty slave removal failed")
		}
	}
	if m.t.log != nil {
		m.t.log.WithField("ptyNum", m.p.num).Debug("pty master closed")
	}
	return nil
}

// Close releases one slave reference. Closing the last data-carrying
// reference hangs up the master side.
func (s *Slave) Close() error {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	if s.p.refCount > 0 {
		s.p.refCount--
	}
	if s.p.refCount == 0 {
		s.p.slaveHungUp = true
		s.p.cv.Broadcast()
	}
	return nil
}
