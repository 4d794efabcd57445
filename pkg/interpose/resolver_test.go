package interpose

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePrefersKernelSourceOverOthers(t *testing.T) {
	r := NewResolver()
	r.Install(Symbol{Name: "read", Source: SourceRTLDDefault, Image: "libsystem_kernel.dylib"})
	r.Install(Symbol{Name: "read", Source: SourceKernel, Image: "libsystem_kernel.dylib"})

	sym, err := r.Resolve(1, "read")
	require.NoError(t, err)
	assert.Equal(t, SourceKernel, sym.Source)
}

func TestResolveRejectsInterposerImage(t *testing.T) {
	r := NewResolver()
	r.Install(Symbol{Name: "open", Source: SourceKernel, Image: interposerImageName})
	_, err := r.Resolve(1, "open")
	assert.Error(t, err)
}

func TestResolveRejectsLogRedirectImage(t *testing.T) {
	r := NewResolver()
	r.Install(Symbol{Name: "write", Source: SourceKernel, Image: logRedirectImageName})
	_, err := r.Resolve(1, "write")
	assert.Error(t, err)
}

func TestResolveUnknownSymbolIsError(t *testing.T) {
	r := NewResolver()
	_, err := r.Resolve(1, "does-not-exist")
	assert.Error(t, err)
}

func TestResolveFallsThroughSourcesInOrder(t *testing.T) {
	r := NewResolver()
	r.Install(Symbol{Name: "stat", Source: SourceRTLDDefault, Image: "libsystem_kernel.dylib"})

	sym, err := r.Resolve(1, "stat")
	require.NoError(t, err)
	assert.Equal(t, SourceRTLDDefault, sym.Source)
}

func TestEnterLeaveSameOwnerReenters(t *testing.T) {
	r := NewResolver()
	r.Enter(42)
	r.Enter(42)
	assert.Equal(t, int64(42), r.owner)
	assert.Equal(t, 2, r.depth)
	r.Leave(42)
	assert.Equal(t, 1, r.depth)
	r.Leave(42)
	assert.Equal(t, 0, r.depth)
}

func TestLeaveFromWrongOwnerIsNoop(t *testing.T) {
	r := NewResolver()
	r.Enter(1)
	r.Leave(2)
	assert.Equal(t, int64(1), r.owner)
	assert.Equal(t, 1, r.depth)
	r.Leave(1)
}

func TestDifferentOwnersSerializeThroughEnter(t *testing.T) {
	r := NewResolver()
	r.Enter(1)
	r.Leave(1)

	done := make(chan struct{})
	go func() {
		r.Enter(2)
		r.Leave(2)
		close(done)
	}()
	<-done
	assert.Equal(t, int64(0), r.owner)
}
