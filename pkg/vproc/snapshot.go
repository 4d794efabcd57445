package vproc

import "github.com/samber/lo"

// TaskSnapshot is one row of a VProcTaskTable.Snapshot result: a
// point-in-time copy of a task entry's fields, safe to read without
// holding any lock.
type TaskSnapshot struct {
	Pid       int32
	ThreadID  int64
	ParentPid int32
	Pgid      int32
	Sid       int32
	FgPgid    int32
	Exited    bool
	Stopped   bool
	Status    int32
	StopSigno int32
	Label     string
	RUsage    RUsage
}

// Snapshot copies every live entry (pid > 0) into out, up to len(out)
// entries, and returns the total number of live entries — which may
// exceed len(out).
func (t *VProcTaskTable) Snapshot(out []TaskSnapshot) int {
	t.mu.Lock()
	pids := lo.Keys(t.entries)
	entries := make([]*VProcTaskEntry, 0, len(pids))
	for _, pid := range pids {
		if pid > 0 {
			entries = append(entries, t.entries[pid])
		}
	}
	t.mu.Unlock()

	for i, e := range entries {
		if i >= len(out) {
			break
		}
		e.mu.Lock()
		out[i] = TaskSnapshot{
			Pid:       e.Pid,
			ThreadID:  e.ThreadID,
			ParentPid: e.ParentPid,
			Pgid:      e.Pgid,
			Sid:       e.Sid,
			FgPgid:    e.FgPgid,
			Exited:    e.Exited,
			Stopped:   e.Stopped,
			Status:    e.Status,
			StopSigno: e.StopSigno,
			Label:     e.Label,
			RUsage:    e.RUsage,
		}
		e.mu.Unlock()
	}
	return len(entries)
}

// SnapshotAll is a convenience wrapper over Snapshot that sizes its own
// buffer, for callers (tests, the CLI demo) that don't want to pre-size
// one themselves.
func (t *VProcTaskTable) SnapshotAll() []TaskSnapshot {
	t.mu.Lock()
	n := len(t.entries)
	t.mu.Unlock()

	buf := make([]TaskSnapshot, n)
	got := t.Snapshot(buf)
	if got < len(buf) {
		return buf[:got]
	}
	if got > len(buf) {
		buf = make([]TaskSnapshot, got)
		t.Snapshot(buf)
	}
	return buf
}
