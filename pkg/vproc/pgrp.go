package vproc

import "github.com/emkey1/pscal-vproc/pkg/vprocerr"

// Setpgid implements setpgid(pid, pgid) restricted to tasks this table
// tracks. It fails when the target is an actual session leader (one that
// has called Setsid), not merely an entry whose Sid happens to equal its
// Pid by default.
func (t *VProcTaskTable) Setpgid(pid, pgid int32) error {
	e, err := t.lookup(pid)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sessionLeader {
		return vprocerr.New(vprocerr.EPERM, "setpgid: target is a session leader")
	}
	if pgid == 0 {
		pgid = pid
	}
	e.Pgid = pgid
	return nil
}

// Getpgrp returns pid's process group.
func (t *VProcTaskTable) Getpgrp(pid int32) (int32, error) {
	e, err := t.lookup(pid)
	if err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Pgid, nil
}

// Setsid implements setsid(): the caller becomes leader of a new session
// and a new process group, both equal to its own pid. It fails if the
// caller is already a process-group leader
func (t *VProcTaskTable) Setsid(pid int32) (int32, error) {
	e, err := t.lookup(pid)
	if err != nil {
		return 0, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Pgid == e.Pid {
		return 0, vprocerr.New(vprocerr.EPERM, "setsid: caller is already a process-group leader")
	}
	e.Sid = pid
	e.Pgid = pid
	e.FgPgid = pid
	e.sessionLeader = true
	return pid, nil
}

// Getsid returns pid's session id (or the caller's own, if pid==0 is
// resolved by the caller before reaching here).
func (t *VProcTaskTable) Getsid(pid int32) (int32, error) {
	e, err := t.lookup(pid)
	if err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Sid, nil
}

// SetForegroundPgid sets the foreground process group on the session whose
// leader is sid, implementing tcsetpgrp's bookkeeping half.
// FgPgid is only meaningful on the session leader's own entry. A task counts
// as a session leader when both its Sid and its Pgid equal its Pid, so a
// task that has joined another process group is rejected.
func (t *VProcTaskTable) SetForegroundPgid(sid, pgid int32) error {
	e, err := t.lookup(sid)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Sid != e.Pid || e.Pgid != e.Pid {
		return vprocerr.New(vprocerr.EPERM, "tcsetpgrp: pid is not a session leader")
	}
	e.FgPgid = pgid
	return nil
}

// GetForegroundPgid returns the session's current foreground process
// group, implementing tcgetpgrp's bookkeeping half.
func (t *VProcTaskTable) GetForegroundPgid(sid int32) (int32, error) {
	e, err := t.lookup(sid)
	if err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Sid != e.Pid || e.Pgid != e.Pid {
		return 0, vprocerr.New(vprocerr.EPERM, "tcgetpgrp: pid is not a session leader")
	}
	return e.FgPgid, nil
}
