package vproc

import (
	"os"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func testLog() *logrus.Entry {
	log := logrus.New()
	log.Out = os.Stderr
	log.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(log)
}

func TestTranslateOutOfRangeIsEBADF(t *testing.T) {
	tbl, err := NewFdTable(4, true, testLog())
	require.NoError(t, err)
	defer tbl.CloseAll()

	_, err = tbl.Translate(99)
	require.Error(t, err)
	code, ok := codeOf(err)
	require.True(t, ok)
	assert.Equal(t, 9, code) // EBADF
}

func TestDupAllocatesDistinctHostFd(t *testing.T) {
	tbl, err := NewFdTable(4, true, testLog())
	require.NoError(t, err)
	defer tbl.CloseAll()

	dupped, err := tbl.Dup(1)
	require.NoError(t, err)
	assert.NotEqual(t, 1, dupped)

	hostOrig, err := tbl.Translate(1)
	require.NoError(t, err)
	hostDup, err := tbl.Translate(dupped)
	require.NoError(t, err)
	assert.NotEqual(t, hostOrig, hostDup)
}

func TestDup2ClosesPreviousOccupant(t *testing.T) {
	tbl, err := NewFdTable(4, true, testLog())
	require.NoError(t, err)
	defer tbl.CloseAll()

	r, w, err := tbl.Pipe()
	require.NoError(t, err)

	hostW, err := tbl.Translate(w)
	require.NoError(t, err)

	got, err := tbl.Dup2(r, w)
	require.NoError(t, err)
	assert.Equal(t, w, got)

	// the old host fd behind w must now be closed
	assert.Error(t, unix.Close(hostW))
}

func TestAllocationGrowsCapacityAndReusesFreedSlots(t *testing.T) {
	tbl, err := NewFdTable(4, true, testLog())
	require.NoError(t, err)
	defer tbl.CloseAll()

	before := tbl.Capacity()
	var allocated []int
	for i := 0; i < before; i++ {
		vfd, err := tbl.Dup(1)
		require.NoError(t, err)
		allocated = append(allocated, vfd)
	}

	// table should have grown to fit 3 preloaded + `before` new fds
	assert.Greater(t, tbl.Capacity(), before)

	// occupy the slots left over from growth, so the slot released below is
	// the only free one when the next allocation scans from the next_fd hint
	grown := tbl.Capacity()
	for i := 3 + before; i < grown; i++ {
		_, err := tbl.Dup(1)
		require.NoError(t, err)
	}

	require.NoError(t, tbl.Close(allocated[0]))
	reused, err := tbl.Dup(1)
	require.NoError(t, err)
	assert.Equal(t, allocated[0], reused, "freed slot should be reclaimed before growing further")
	assert.Equal(t, grown, tbl.Capacity())
}

func TestDisjointTablesAreIndependent(t *testing.T) {
	t1, err := NewFdTable(4, true, testLog())
	require.NoError(t, err)
	defer t1.CloseAll()
	t2, err := NewFdTable(4, true, testLog())
	require.NoError(t, err)
	defer t2.CloseAll()

	v1, err := t1.Dup(1)
	require.NoError(t, err)
	require.NoError(t, t1.Close(v1))

	// t2 must still have its own independent fd at the same vfd index
	host2, err := t2.Translate(1)
	require.NoError(t, err)
	assert.NotEqual(t, -1, host2)
}

// codeOf is a tiny local shim so fdtable_test.go doesn't need to import
// vprocerr just for this one helper; see vprocerr.CodeOf for the real one.
func codeOf(err error) (int, bool) {
	type errnoer interface{ Errno() int }
	if e, ok := err.(errnoer); ok {
		return e.Errno(), true
	}
	return 0, false
}
