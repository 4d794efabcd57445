package vproc

import (
	"sync"
	"sync/atomic"

	"github.com/emkey1/pscal-vproc/pkg/config"
	"github.com/sasha-s/go-deadlock"
	"github.com/sirupsen/logrus"
)

// RUsage carries the rusage-style counters the original pscal_vproc.c
// bookkeeping tracks per task.
type RUsage struct {
	UserTimeMicros   int64
	SystemTimeMicros int64
	MaxRSSKB         int64
}

// VProcTaskEntry is the per-pid record the task table tracks.
type VProcTaskEntry struct {
	mu deadlock.Mutex

	table *VProcTaskTable

	Pid       int32
	ThreadID  int64 // 0 means no OS thread registered for delivery
	ParentPid int32
	Pgid      int32
	Sid       int32
	FgPgid    int32 // only meaningful when Sid == Pid and Pgid == Pid (session leader)

	// sessionLeader is set only by a successful Setsid call. Sid == Pid
	// alone does not imply this: every entry starts with Sid == Pid on
	// Create, but only an explicit setsid() makes a task an actual
	// session leader for the purposes of Setpgid's restriction.
	sessionLeader bool

	Exited     bool
	Stopped    bool
	Zombie     bool
	Status     int32
	StopSigno  int32
	ExitSignal int32 // nonzero iff Exited was caused by a signal, not a normal exit

	maskBlocked  SignalSet
	maskPending  SignalSet
	maskIgnored  SignalSet
	dispositions [maxSignal + 1]disposition

	JobID          int32
	Label          string
	SigchldPending bool
	SigchldBlocked bool
	RUsage         RUsage
}

// TruncateLabel caps a command label to the fixed buffer size the original
// vproc.c used for its `label[]` field.
const maxLabelLen = 32

// TruncateLabel truncates label to maxLabelLen bytes, appending an
// ellipsis marker when truncation actually occurred.
func TruncateLabel(label string) string {
	if len(label) <= maxLabelLen {
		return label
	}
	if maxLabelLen <= len("…") {
		return label[:maxLabelLen]
	}
	return label[:maxLabelLen-len("…")] + "…"
}

// VProcTaskTable is the process-wide registry of live task entries,
// indexed by synthetic pid.
type VProcTaskTable struct {
	mu  deadlock.Mutex
	cv  *sync.Cond
	log *logrus.Entry

	entries map[int32]*VProcTaskEntry
	// children indexes ParentPid -> set of child pids, maintained
	// alongside entries for VProcTaskTable.Children.
	children map[int32]map[int32]struct{}

	pidCounter int32
}

// NewTaskTable constructs an empty task table seeded so that the first
// allocated pid is at or above cfg.PidHintFloor.
func NewTaskTable(cfg *config.RuntimeConfig, log *logrus.Entry) *VProcTaskTable {
	t := &VProcTaskTable{
		log:        log,
		entries:    make(map[int32]*VProcTaskEntry, cfg.TaskTableInitialCapacity),
		children:   make(map[int32]map[int32]struct{}),
		pidCounter: cfg.PidHintFloor,
	}
	t.cv = sync.NewCond(&t.mu)
	return t
}

// allocPid returns the next synthetic pid, advancing the counter.
func (t *VProcTaskTable) allocPid() int32 {
	return atomic.AddInt32(&t.pidCounter, 1)
}

// maybeAdvancePidCounter bumps the counter past hint if it isn't already,
// mirroring vprocMaybeAdvancePidCounter in the original vproc.c so that a
// caller-supplied pid_hint can never collide with the next auto-allocated
// pid.
func (t *VProcTaskTable) maybeAdvancePidCounter(hint int32) {
	if hint <= 0 {
		return
	}
	for {
		cur := atomic.LoadInt32(&t.pidCounter)
		if hint < cur {
			return
		}
		if atomic.CompareAndSwapInt32(&t.pidCounter, cur, hint+1) {
			return
		}
	}
}

// CreateOptions configures Create; PidHint, when > 0, forces the new
// entry's pid and advances the counter past it.
type CreateOptions struct {
	PidHint   int32
	ParentPid int32
	Label     string
}

// Create inserts a new task entry, assigning it pgid==pid and sid==pid by
// default (i.e. it starts as its own group and session leader, matching
// the original's behavior for a freshly booted vproc with no explicit
// setpgid/setsid call yet).
func (t *VProcTaskTable) Create(opts CreateOptions) *VProcTaskEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	var pid int32
	if opts.PidHint > 0 {
		t.maybeAdvancePidCounter(opts.PidHint)
		pid = opts.PidHint
	} else {
		pid = t.allocPid()
	}

	e := &VProcTaskEntry{
		table:     t,
		Pid:       pid,
		ParentPid: opts.ParentPid,
		Pgid:      pid,
		Sid:       pid,
		Label:     TruncateLabel(opts.Label),
	}
	t.entries[pid] = e
	t.indexChildLocked(opts.ParentPid, pid)
	t.cv.Broadcast()

	if t.log != nil {
		t.log.WithFields(logrus.Fields{"pid": pid, "parent": opts.ParentPid}).Debug("vproc task created")
	}
	return e
}

func (t *VProcTaskTable) indexChildLocked(parent, child int32) {
	if parent == 0 {
		return
	}
	set, ok := t.children[parent]
	if !ok {
		set = make(map[int32]struct{})
		t.children[parent] = set
	}
	set[child] = struct{}{}
}

// RegisterThread attaches an OS thread identifier to pid for targeted
// signal delivery.
func (t *VProcTaskTable) RegisterThread(pid int32, tid int64) error {
	e, err := t.lookup(pid)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.ThreadID = tid
	e.mu.Unlock()
	return nil
}

// Get returns the live entry for pid, or nil if none exists.
func (t *VProcTaskTable) Get(pid int32) *VProcTaskEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.entries[pid]
}

func (t *VProcTaskTable) lookup(pid int32) (*VProcTaskEntry, error) {
	t.mu.Lock()
	e, ok := t.entries[pid]
	t.mu.Unlock()
	if !ok {
		return nil, errNoSuchTask(pid)
	}
	return e, nil
}
