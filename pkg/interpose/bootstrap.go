package interpose

// WarmUp pre-invokes a small fixed set of operations on the raw path before
// the gate is marked bootstrapped, so their symbol lookups and any lazily
// cached function pointers are populated before user code can recurse into
// them through the shim path. The operation names are conventional;
// callers register them with Engine before calling WarmUp.
var WarmUpOperations = []string{"getpid", "read-dev-null", "write-dev-null", "stat", "access"}

// WarmUp runs every registered warm-up operation on the raw path regardless
// of gate state, then marks the gate bootstrapped. It must run once, before
// any goroutine is allowed to call Engine.Call for real work.
func WarmUp(e *Engine, th *ThreadHandle) {
	e.Gate.EnterBootstrapBypass()
	for _, name := range WarmUpOperations {
		e.mu.RLock()
		op, ok := e.ops[name]
		e.mu.RUnlock()
		if !ok {
			continue
		}
		_, _ = op.Raw()
	}
	e.Gate.LeaveBootstrapBypass()
	e.Gate.SetBootstrapped(true)
}
