package interpose

import "sync"

// StartRoutine is a goroutine body handed to Spawn, mirroring a
// pthread_create start routine.
type StartRoutine func(th *ThreadHandle)

// Spawner creates ThreadHandles for new goroutines and decides whether each
// one inherits the spawning thread's activation state. The original installs
// a pthread_create interpose only for start routines that originate from the
// application bundle; routines started by system frameworks run with a fresh,
// non-activated handle so library-internal threads are never mistaken for
// application threads.
type Spawner struct {
	gate *Gate

	mu      sync.Mutex
	spawned []*ThreadHandle
}

// NewSpawner builds a Spawner bound to gate.
func NewSpawner(gate *Gate) *Spawner {
	return &Spawner{gate: gate}
}

// Spawn starts routine on a new goroutine with a fresh ThreadHandle. When
// fromAppBundle is true, the new handle inherits the spawning thread's
// bypass/bypassed flags; otherwise
// it starts clean, as a framework-internal thread never subject to the
// gate's session/ready exemptions.
func (s *Spawner) Spawn(spawning *ThreadHandle, fromAppBundle bool, routine StartRoutine) *ThreadHandle {
	child := NewThreadHandle(false)

	if fromAppBundle && spawning != nil {
		bypassDepth, _, bypassed := spawning.snapshot()
		child.mu.Lock()
		child.bypassDepth = bypassDepth
		child.bypassed = bypassed
		child.mu.Unlock()
	}

	s.mu.Lock()
	s.spawned = append(s.spawned, child)
	s.mu.Unlock()

	go routine(child)

	return child
}

// Spawned returns every ThreadHandle created by this Spawner so far, for
// diagnostics and tests.
func (s *Spawner) Spawned() []*ThreadHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*ThreadHandle, len(s.spawned))
	copy(out, s.spawned)
	return out
}
