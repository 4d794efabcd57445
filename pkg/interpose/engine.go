// Package interpose models the libc interposition engine:
// a per-thread gate that chooses between a "raw" fast path and a "vproc
// shim" slow path for each interposed operation. Go has no symbol-binding
// mechanism equivalent to dyld interposition, so the engine here operates on
// explicitly-registered named operations rather than rebinding libc symbol
// pointers; the gating rules, reentrancy guards, and fallback policy are
// ported faithfully from ios/Sources/Bridge/PSCALInterpose.c.
package interpose

import (
	"sync"
	"sync/atomic"

	"github.com/emkey1/pscal-vproc/pkg/vprocerr"
)

// ThreadHandle identifies the calling goroutine for gating purposes,
// standing in for the C engine's pthread_self()-keyed thread-local state
// (gInterposeBypassDepth, gInterposeGuardDepth). Obtain one per goroutine
// that needs interposition and keep it for that goroutine's lifetime.
type ThreadHandle struct {
	mu          sync.Mutex
	id          int64
	isMain      bool
	bypassed    bool
	bypassDepth int
	guardDepth  int
}

var threadHandleSeq int64

// NewThreadHandle allocates a ThreadHandle. isMain marks the goroutine that
// keeps running host code unconditionally (the original's main-thread
// exemption).
func NewThreadHandle(isMain bool) *ThreadHandle {
	return &ThreadHandle{id: atomic.AddInt64(&threadHandleSeq, 1), isMain: isMain}
}

// ID returns a stable identifier for this handle.
func (h *ThreadHandle) ID() int64 { return h.id }

// SetBypassed marks this thread as explicitly exempted from interposition.
func (h *ThreadHandle) SetBypassed(v bool) {
	h.mu.Lock()
	h.bypassed = v
	h.mu.Unlock()
}

// EnterBypass increments the raw-call nesting depth: while non-zero, the
// gate always selects the raw path, matching gInterposeBypassDepth.
func (h *ThreadHandle) EnterBypass() {
	h.mu.Lock()
	h.bypassDepth++
	h.mu.Unlock()
}

// LeaveBypass balances a prior EnterBypass.
func (h *ThreadHandle) LeaveBypass() {
	h.mu.Lock()
	if h.bypassDepth > 0 {
		h.bypassDepth--
	}
	h.mu.Unlock()
}

func (h *ThreadHandle) snapshot() (bypassDepth int, isMain, bypassed bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.bypassDepth, h.isMain, h.bypassed
}

// Gate holds the process-wide enablement state: master on/off, whether
// bootstrap has completed, and whether the runtime considers itself
// "ready". The gate additionally
// covers the window before bootstrap finishes, when thread-local state may
// not be safe to use yet — calls during that window go through
// bootstrapBypass, a process-wide atomic counter, instead of a ThreadHandle.
type Gate struct {
	mu              sync.RWMutex
	masterEnabled   bool
	bootstrapped    bool
	ready           bool
	bootstrapBypass int32
}

// NewGate builds a disabled, non-bootstrapped gate.
func NewGate() *Gate {
	return &Gate{}
}

// SetMasterEnabled toggles the master on/off flag.
func (g *Gate) SetMasterEnabled(v bool) {
	g.mu.Lock()
	g.masterEnabled = v
	g.mu.Unlock()
}

// SetBootstrapped marks bootstrap as complete (or not).
func (g *Gate) SetBootstrapped(v bool) {
	g.mu.Lock()
	g.bootstrapped = v
	g.mu.Unlock()
}

// SetReady marks the runtime as ready to route non-session operations
// through the shim path.
func (g *Gate) SetReady(v bool) {
	g.mu.Lock()
	g.ready = v
	g.mu.Unlock()
}

// EnterBootstrapBypass/LeaveBootstrapBypass guard raw calls issued before
// thread-local state is safe to use.
func (g *Gate) EnterBootstrapBypass() { atomic.AddInt32(&g.bootstrapBypass, 1) }
func (g *Gate) LeaveBootstrapBypass() { atomic.AddInt32(&g.bootstrapBypass, -1) }

// ShouldInterpose implements the enablement rule: enabled
// only when master is on, bootstrap is done, the thread's bypass depth is
// zero, the thread is not the main thread, the thread is not explicitly
// bypassed, and either the engine is ready or a session is active.
func (g *Gate) ShouldInterpose(th *ThreadHandle, sessionActive bool) bool {
	if atomic.LoadInt32(&g.bootstrapBypass) != 0 {
		return false
	}
	g.mu.RLock()
	master, bootstrapped, ready := g.masterEnabled, g.bootstrapped, g.ready
	g.mu.RUnlock()
	if !master || !bootstrapped {
		return false
	}
	if th == nil {
		return false
	}
	bypassDepth, isMain, bypassed := th.snapshot()
	if bypassDepth != 0 || isMain || bypassed {
		return false
	}
	return ready || sessionActive
}

// Operation is a pair of implementations for one interposed call: Raw
// forwards to the host, Shim routes through the vproc runtime.
type Operation struct {
	Raw  func(args ...any) (any, error)
	Shim func(args ...any) (any, error)
}

// Engine dispatches named operations through the Gate, covering the same
// concerns the original bound via dyld interpose / RTLD_NEXT — here as an
// explicit table rather than a rebound symbol.
type Engine struct {
	Gate *Gate

	mu  sync.RWMutex
	ops map[string]Operation
}

// NewEngine builds an Engine with its own Gate.
func NewEngine() *Engine {
	return &Engine{Gate: NewGate(), ops: make(map[string]Operation)}
}

// Register installs the raw/shim pair for a named operation (e.g. "read",
// "open", "kill").
func (e *Engine) Register(name string, op Operation) {
	e.mu.Lock()
	e.ops[name] = op
	e.mu.Unlock()
}

// Call dispatches name through the gate for th. On the shim path, a shim
// error is returned to the caller directly — the raw wrapper is never
// re-invoked as a fallback.
func (e *Engine) Call(name string, th *ThreadHandle, sessionActive bool, args ...any) (any, error) {
	e.mu.RLock()
	op, ok := e.ops[name]
	e.mu.RUnlock()
	if !ok {
		return nil, vprocerr.Errorf(vprocerr.EINVAL, "interpose: unknown operation %q", name)
	}

	if e.Gate.ShouldInterpose(th, sessionActive) {
		return op.Shim(args...)
	}
	return op.Raw(args...)
}
