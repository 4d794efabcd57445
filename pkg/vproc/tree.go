// Process tree bookkeeping beyond the flat task table, grounded on the
// original's src/ios/vproc_tree.c.
package vproc

// Children returns the pids of every live task whose ParentPid is pid.
func (t *VProcTaskTable) Children(pid int32) []int32 {
	t.mu.Lock()
	defer t.mu.Unlock()

	set, ok := t.children[pid]
	if !ok {
		return nil
	}
	out := make([]int32, 0, len(set))
	for child := range set {
		out = append(out, child)
	}
	return out
}

// SignalTree delivers sig to pid and, recursively, to every still-live
// descendant of pid, for callers that want the process-tree-aware teardown
// the original's vproc_tree.c provided rather than a single targeted kill.
// It stops at the first error sig returns.
func (t *VProcTaskTable) SignalTree(pid int32, sig func(int32) error) error {
	if err := sig(pid); err != nil {
		return err
	}
	for _, child := range t.Children(pid) {
		if err := t.SignalTree(child, sig); err != nil {
			return err
		}
	}
	return nil
}
