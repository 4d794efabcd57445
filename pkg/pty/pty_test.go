package pty

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emkey1/pscal-vproc/pkg/vprocerr"
)

type fakeProvisioner struct {
	provisioned map[int]bool
	removed     map[int]bool
}

func newFakeProvisioner() *fakeProvisioner {
	return &fakeProvisioner{provisioned: map[int]bool{}, removed: map[int]bool{}}
}

func (f *fakeProvisioner) ProvisionSlave(num int) error {
	f.provisioned[num] = true
	return nil
}

func (f *fakeProvisioner) RemoveSlave(num int) error {
	f.removed[num] = true
	return nil
}

func TestOpenSlaveFailsWhileLocked(t *testing.T) {
	tbl := NewTable(4, nil, nil)
	m, err := tbl.OpenMaster()
	require.NoError(t, err)

	_, err = tbl.OpenSlave(m.Num())
	require.Error(t, err)

	m.Unlock(false)
	s, err := tbl.OpenSlave(m.Num())
	require.NoError(t, err)
	require.NotNil(t, s)
}

func TestOpenSlaveUnallocatedIsENXIO(t *testing.T) {
	tbl := NewTable(4, nil, nil)
	_, err := tbl.OpenSlave(0)
	require.Error(t, err)
	code, ok := vprocerr.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, vprocerr.ENXIO, code)
}

func TestTableExhaustionIsENOSPC(t *testing.T) {
	tbl := NewTable(1, nil, nil)
	_, err := tbl.OpenMaster()
	require.NoError(t, err)
	_, err = tbl.OpenMaster()
	require.Error(t, err)
	code, ok := vprocerr.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, vprocerr.ENOSPC, code)
}

func TestMasterWriteIsReadableFromSlave(t *testing.T) {
	tbl := NewTable(4, nil, nil)
	m, err := tbl.OpenMaster()
	require.NoError(t, err)
	m.Unlock(false)
	s, err := tbl.OpenSlave(m.Num())
	require.NoError(t, err)

	n, err := m.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	buf := make([]byte, 5)
	n, err = s.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))
}

func TestSlaveWriteIsReadableFromMaster(t *testing.T) {
	tbl := NewTable(4, nil, nil)
	m, err := tbl.OpenMaster()
	require.NoError(t, err)
	m.Unlock(false)
	s, err := tbl.OpenSlave(m.Num())
	require.NoError(t, err)

	_, err = s.Write([]byte("echo"))
	require.NoError(t, err)

	buf := make([]byte, 4)
	n, err := m.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "echo", string(buf[:n]))
}

func TestClosingMasterHangsUpSlave(t *testing.T) {
	tbl := NewTable(4, nil, nil)
	m, err := tbl.OpenMaster()
	require.NoError(t, err)
	m.Unlock(false)
	s, err := tbl.OpenSlave(m.Num())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		buf := make([]byte, 1)
		_, readErr := s.Read(buf)
		done <- readErr
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, m.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, io.EOF)
	case <-time.After(2 * time.Second):
		t.Fatal("slave read never unblocked after master close")
	}
}

func TestClosingLastSlaveRefHangsUpMaster(t *testing.T) {
	tbl := NewTable(4, nil, nil)
	m, err := tbl.OpenMaster()
	require.NoError(t, err)
	m.Unlock(false)
	s, err := tbl.OpenSlave(m.Num())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		buf := make([]byte, 1)
		_, readErr := m.Read(buf)
		done <- readErr
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, s.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, io.EOF)
	case <-time.After(2 * time.Second):
		t.Fatal("master read never unblocked after last slave ref close")
	}
}

func TestProvisionerCalledOnOpenAndClose(t *testing.T) {
	prov := newFakeProvisioner()
	tbl := NewTable(4, prov, nil)
	m, err := tbl.OpenMaster()
	require.NoError(t, err)
	assert.True(t, prov.provisioned[m.Num()])

	require.NoError(t, m.Close())
	assert.True(t, prov.removed[m.Num()])
}

func TestIoctlPtnAndPacketMode(t *testing.T) {
	tbl := NewTable(4, nil, nil)
	m, err := tbl.OpenMaster()
	require.NoError(t, err)

	num, err := m.Ioctl(TIOCGPTN, 0)
	require.NoError(t, err)
	assert.Equal(t, m.Num(), num)

	_, err = m.Ioctl(TIOCPKT, 1)
	require.NoError(t, err)
	v, err := m.Ioctl(TIOCGPKT, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestIoctlSetptlckMatchesUnlock(t *testing.T) {
	tbl := NewTable(4, nil, nil)
	m, err := tbl.OpenMaster()
	require.NoError(t, err)

	_, err = tbl.OpenSlave(m.Num())
	require.Error(t, err) // still locked

	_, err = m.Ioctl(TIOCSPTLCK, 0)
	require.NoError(t, err)

	_, err = tbl.OpenSlave(m.Num())
	require.NoError(t, err)
}

func TestFreedPtyNumIsReusable(t *testing.T) {
	tbl := NewTable(1, nil, nil)
	m, err := tbl.OpenMaster()
	require.NoError(t, err)
	require.NoError(t, m.Close())

	m2, err := tbl.OpenMaster()
	require.NoError(t, err)
	assert.Equal(t, m.Num(), m2.Num())
}
