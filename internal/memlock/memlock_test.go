//go:build linux

package memlock

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"golang.org/x/sys/unix"
)

func TestPageAlign(t *testing.T) {
	page := int64(os.Getpagesize())
	assert.Equal(t, int64(0), PageAlign(0))
	assert.Equal(t, page, PageAlign(1))
	assert.Equal(t, page, PageAlign(page))
	assert.Equal(t, 2*page, PageAlign(page+1))
	assert.Equal(t, int64(2147483648), PageAlign(2*1024*1024*1024))
}

func newSmall(t *testing.T, pages int64) *Reservation {
	t.Helper()
	r, err := New(pages * int64(os.Getpagesize()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

// lockOrSkip drives the ledger to target, skipping the test in
// environments that refuse to pin memory.
func lockOrSkip(t *testing.T, r *Reservation, target int64) {
	t.Helper()
	err := r.SetLocked(target)
	if errors.Is(err, ErrLockPermission) || errors.Is(err, unix.ENOMEM) {
		t.Skipf("cannot pin memory here: %v", err)
	}
	require.NoError(t, err)
}

func TestGrowShrinkLedger(t *testing.T) {
	page := int64(os.Getpagesize())
	r := newSmall(t, 8)
	assert.Equal(t, 8*page, r.Max())
	assert.Equal(t, int64(0), r.Taken())

	lockOrSkip(t, r, 2*page)
	assert.Equal(t, 2*page, r.Taken())
	assert.Equal(t, 2*page, r.Resident())

	// No-op adjustment leaves the ledger alone.
	require.NoError(t, r.SetLocked(2*page))
	assert.Equal(t, 2*page, r.Taken())

	// Shrink discards the retracted extent.
	require.NoError(t, r.SetLocked(page))
	assert.Equal(t, page, r.Taken())
	assert.Equal(t, page, r.Resident())

	require.NoError(t, r.SetLocked(0))
	assert.Equal(t, int64(0), r.Taken())
	assert.Equal(t, int64(0), r.Resident())
}

func TestResidentUntouchedIsZero(t *testing.T) {
	r := newSmall(t, 8)
	// Never written, never locked: nothing should be resident.
	assert.Equal(t, int64(0), r.Resident())
}

func TestOverlockFails(t *testing.T) {
	r := newSmall(t, 2)
	err := r.SetLocked(r.Max() + int64(os.Getpagesize()))
	assert.Error(t, err)
}

func TestClose(t *testing.T) {
	r := newSmall(t, 2)
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
}
