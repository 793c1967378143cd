//go:build linux

package sysfs

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRoot builds a minimal sysfs cpu tree in a tempdir.
func fakeRoot(t *testing.T, onlineList string, ncpu int) *CPUs {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "online"), []byte(onlineList), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "kernel_max"), []byte("8191\n"), 0o644))
	for i := 0; i < ncpu; i++ {
		dir := filepath.Join(root, "cpu"+strconv.Itoa(i))
		require.NoError(t, os.Mkdir(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "online"), []byte("1\n"), 0o644))
	}
	return New(root)
}

func TestOnlineList(t *testing.T) {
	c := fakeRoot(t, "0-7\n", 8)
	list, err := c.OnlineList()
	require.NoError(t, err)
	assert.Equal(t, "0-7\n", list)
}

func TestMaxIndex(t *testing.T) {
	c := fakeRoot(t, "0-7\n", 0)
	max, err := c.MaxIndex()
	require.NoError(t, err)
	assert.Equal(t, 8191, max)
}

func TestMaxIndexMissing(t *testing.T) {
	c := New(t.TempDir())
	_, err := c.MaxIndex()
	assert.Error(t, err)
}

func TestSetOnline(t *testing.T) {
	c := fakeRoot(t, "0-7\n", 8)

	require.NoError(t, c.SetOnline(7, false))
	b, err := os.ReadFile(filepath.Join(c.Root(), "cpu7", "online"))
	require.NoError(t, err)
	assert.Equal(t, "0", string(b))

	require.NoError(t, c.SetOnline(7, true))
	b, err = os.ReadFile(filepath.Join(c.Root(), "cpu7", "online"))
	require.NoError(t, err)
	assert.Equal(t, "1", string(b))
}

func TestSetOnlineMissingCPU(t *testing.T) {
	c := fakeRoot(t, "0-1\n", 2)
	assert.Error(t, c.SetOnline(5, false))
}
