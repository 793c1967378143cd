//go:build linux

package rendezvous

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"golang.org/x/sys/unix"
)

func endpointPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "downsize")
}

func TestClaimFresh(t *testing.T) {
	path := endpointPath(t)
	ep, err := Claim(path)
	require.NoError(t, err)
	defer ep.Close()

	assert.False(t, ep.ReusedStale())

	var st unix.Stat_t
	require.NoError(t, unix.Stat(path, &st))
	assert.Equal(t, uint32(unix.S_IFIFO), st.Mode&unix.S_IFMT)
}

func TestClaimBusy(t *testing.T) {
	path := endpointPath(t)
	ep, err := Claim(path)
	require.NoError(t, err)
	defer ep.Close()

	_, err = Claim(path)
	assert.ErrorIs(t, err, ErrBusy)
}

func TestClaimAdoptsStaleFifo(t *testing.T) {
	path := endpointPath(t)
	// A FIFO with no lock holder is the artifact of a dead daemon.
	require.NoError(t, unix.Mkfifo(path, 0o660))

	ep, err := Claim(path)
	require.NoError(t, err)
	defer ep.Close()
	assert.True(t, ep.ReusedStale())
}

func TestSendWithoutDaemon(t *testing.T) {
	path := endpointPath(t)

	// No FIFO at all.
	err := Send(path, Target{MemBytes: 4096})
	assert.ErrorIs(t, err, ErrNoDaemon)

	// FIFO present but nobody reading.
	require.NoError(t, unix.Mkfifo(path, 0o660))
	err = Send(path, Target{MemBytes: 4096})
	assert.ErrorIs(t, err, ErrNoDaemon)
}

func TestSendReceive(t *testing.T) {
	path := endpointPath(t)
	ep, err := Claim(path)
	require.NoError(t, err)
	defer ep.Close()

	want := Target{MemBytes: 2147483648, CPUs: 2}
	require.NoError(t, Send(path, want))

	got, err := ep.Receive(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestReceiveKeepsLastOfBacklog(t *testing.T) {
	path := endpointPath(t)
	ep, err := Claim(path)
	require.NoError(t, err)
	defer ep.Close()

	require.NoError(t, Send(path, Target{MemBytes: 4096, CPUs: 1}))
	require.NoError(t, Send(path, Target{MemBytes: 8192, CPUs: 2}))

	first, err := ep.Receive(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, Target{MemBytes: 4096, CPUs: 1}, first)

	second, err := ep.Receive(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, Target{MemBytes: 8192, CPUs: 2}, second)
}

func TestReceiveCancelled(t *testing.T) {
	path := endpointPath(t)
	ep, err := Claim(path)
	require.NoError(t, err)
	defer ep.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := ep.Receive(ctx, 50)
		done <- err
	}()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("receive did not observe cancellation")
	}
}

func TestCloseRemovesEndpoint(t *testing.T) {
	path := endpointPath(t)
	ep, err := Claim(path)
	require.NoError(t, err)

	require.NoError(t, ep.Close())

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(path + ".lock")
	assert.True(t, os.IsNotExist(err))

	// The endpoint is claimable again.
	ep2, err := Claim(path)
	require.NoError(t, err)
	assert.False(t, ep2.ReusedStale())
	require.NoError(t, ep2.Close())
}
