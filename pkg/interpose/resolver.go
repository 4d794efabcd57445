package interpose

import (
	"sync"

	"github.com/emkey1/pscal-vproc/pkg/vprocerr"
)

// SymbolSource orders where a raw symbol may be found, mirroring the
// original's "kernel library first, then RTLD_NEXT, then RTLD_DEFAULT"
// search order.
type SymbolSource int

const (
	SourceKernel SymbolSource = iota
	SourceRTLDNext
	SourceRTLDDefault
)

// interposerImageName and logRedirectImageName are the images a resolved
// symbol must never report as its origin — binding to either would mean
// the resolver found itself (self-binding) or a log-shim library instead
// of the real system implementation.
const (
	interposerImageName  = "pscal-interpose"
	logRedirectImageName = "pscal-log-redirect"
)

// Symbol is one resolvable raw entry point.
type Symbol struct {
	Name   string
	Source SymbolSource
	Image  string
	Raw    func(args ...any) (any, error)
}

func (s Symbol) isSystemImage() bool {
	return s.Image != "" && s.Image != interposerImageName && s.Image != logRedirectImageName
}

// Resolver is the symbol-lookup table plus its reentrancy guard. Real
// dynamic-linker resolution is inherently single-owner per lookup chain;
// the CAS owner-identifier pattern in the original becomes a plain mutex
// here since Go's scheduler gives us no cheaper spin-lock primitive, but
// same-owner reentry still short-circuits instead of deadlocking.
type Resolver struct {
	mu    sync.Mutex
	owner int64
	depth int

	bySource [3]map[string]Symbol
}

// NewResolver builds an empty resolver.
func NewResolver() *Resolver {
	r := &Resolver{}
	for i := range r.bySource {
		r.bySource[i] = make(map[string]Symbol)
	}
	return r
}

// Install registers sym under its Source/Name. Installing under
// SourceKernel takes priority over RTLD_NEXT/RTLD_DEFAULT registrations of
// the same name, matching the resolution order.
func (r *Resolver) Install(sym Symbol) {
	r.mu.Lock()
	r.bySource[sym.Source][sym.Name] = sym
	r.mu.Unlock()
}

// Enter acquires the resolver's reentrancy guard for owner (typically a
// ThreadHandle's ID). A thread already holding the guard may re-enter
// without blocking — this is what lets a raw wrapper invoked from inside
// resolution itself bypass interposed symbols safely.
func (r *Resolver) Enter(owner int64) {
	r.mu.Lock()
	if r.depth > 0 && r.owner == owner {
		r.depth++
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	for {
		r.mu.Lock()
		if r.depth == 0 {
			r.owner = owner
			r.depth = 1
			r.mu.Unlock()
			return
		}
		r.mu.Unlock()
	}
}

// Leave releases one level of the reentrancy guard acquired by Enter.
func (r *Resolver) Leave(owner int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.owner != owner || r.depth == 0 {
		return
	}
	r.depth--
	if r.depth == 0 {
		r.owner = 0
	}
}

// Resolve looks up name in source-priority order (kernel, then RTLD_NEXT,
// then RTLD_DEFAULT), rejecting any match whose image is the interposer
// itself or a log-redirect library, and requiring the match reside in a
// named system image.
func (r *Resolver) Resolve(owner int64, name string) (Symbol, error) {
	r.Enter(owner)
	defer r.Leave(owner)

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, source := range []SymbolSource{SourceKernel, SourceRTLDNext, SourceRTLDDefault} {
		sym, ok := r.bySource[source][name]
		if !ok {
			continue
		}
		if !sym.isSystemImage() {
			return Symbol{}, vprocerr.Errorf(vprocerr.EINVAL, "interpose: resolved symbol %q rejected (image=%q)", name, sym.Image)
		}
		return sym, nil
	}
	return Symbol{}, vprocerr.Errorf(vprocerr.EINVAL, "interpose: symbol %q not found", name)
}
