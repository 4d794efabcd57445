package vproc

import (
	"github.com/emkey1/pscal-vproc/pkg/config"
	"github.com/sasha-s/go-deadlock"
	"github.com/sirupsen/logrus"
)

// Winsize is the vproc's notion of terminal size, consulted by the PTY
// subsystem and the virtual-TTY fallback.
type Winsize struct {
	Cols uint16
	Rows uint16
}

// VProc is a virtual process: an fd table, a task-table entry, and a
// window size.
type VProc struct {
	mu      deadlock.Mutex
	FdTable *VProcFdTable
	Task    *VProcTaskEntry
	winsize Winsize

	table *VProcTaskTable
	log   *logrus.Entry
}

// Options configures Create.
type Options struct {
	PidHint          int32
	ParentPid        int32
	Label            string
	StdinFromDevNull bool
	Cols             uint16
	Rows             uint16
}

// Create builds a new VProc: a task-table entry plus a freshly seeded fd
// table. The vproc is not activated on any thread yet — call Activate.
func Create(table *VProcTaskTable, cfg *config.RuntimeConfig, opts Options, log *logrus.Entry) (*VProc, error) {
	fdTable, err := NewFdTable(cfg.FdTableInitialCapacity, opts.StdinFromDevNull, log)
	if err != nil {
		return nil, err
	}

	task := table.Create(CreateOptions{
		PidHint:   opts.PidHint,
		ParentPid: opts.ParentPid,
		Label:     opts.Label,
	})

	cols, rows := opts.Cols, opts.Rows
	if cols == 0 {
		cols = 80
	}
	if rows == 0 {
		rows = 24
	}

	vp := &VProc{
		FdTable: fdTable,
		Task:    task,
		winsize: Winsize{Cols: cols, Rows: rows},
		table:   table,
		log:     log,
	}
	if log != nil {
		log.WithFields(logrus.Fields{"pid": task.Pid}).Debug("vproc created")
	}
	return vp, nil
}

// Pid returns the vproc's synthetic pid.
func (vp *VProc) Pid() int32 { return vp.Task.Pid }

// Winsize returns the current terminal size.
func (vp *VProc) Winsize() Winsize {
	vp.mu.Lock()
	defer vp.mu.Unlock()
	return vp.winsize
}

// SetWinsize updates the terminal size, e.g. on a SIGWINCH-equivalent
// resize notification.
func (vp *VProc) SetWinsize(w Winsize) {
	vp.mu.Lock()
	vp.winsize = w
	vp.mu.Unlock()
}

// Destroy closes every host fd the vproc owns. It does not remove the
// task-table entry: exit/reap bookkeeping (MarkExit + WaitPid) is a
// separate, independently-driven lifecycle step
func (vp *VProc) Destroy() {
	vp.FdTable.CloseAll()
	if vp.log != nil {
		vp.log.WithFields(logrus.Fields{"pid": vp.Task.Pid}).Debug("vproc destroyed")
	}
}
