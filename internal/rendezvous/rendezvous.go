//go:build linux

// Package rendezvous implements the single well-known endpoint shared by
// all invocations of the command: a named FIFO whose existence means "a
// daemon owns the withheld resources", used as the transport for new
// targets sent to that daemon. An advisory flock on a sidecar file guards
// ownership, so adopting a stale FIFO never races a live daemon.
package rendezvous

import (
	"context"
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// DefaultPath is the well-known endpoint location.
const DefaultPath = "/tmp/downsize"

var (
	// ErrBusy means another invocation holds the endpoint; the caller
	// should send its target there instead of becoming the daemon.
	ErrBusy = errors.New("rendezvous endpoint is owned by another process")
	// ErrNoDaemon means sending failed because no daemon is listening,
	// either no FIFO at all or a FIFO with no reader.
	ErrNoDaemon = errors.New("no daemon is listening on the rendezvous endpoint")
)

// Endpoint is the daemon-side handle: the FIFO opened for both reading and
// writing (so a transient absence of clients never reads as end-of-input)
// plus the held ownership lock.
type Endpoint struct {
	path  string
	fd    int
	lock  *os.File
	stale bool
}

// Claim attempts to become the sole owner of the endpoint. On success the
// caller is the daemon. ErrBusy is returned when another process holds the
// ownership lock. A FIFO left behind by a dead daemon is adopted;
// ReusedStale reports that ambiguous recovery so the caller can log it.
func Claim(path string) (*Endpoint, error) {
	lock, err := os.OpenFile(path+".lock", os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening endpoint lock: %w", err)
	}
	if err := unix.Flock(int(lock.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = lock.Close()
		return nil, ErrBusy
	}
	stale := false
	if err := unix.Mkfifo(path, 0o660); err != nil {
		if err != unix.EEXIST {
			_ = lock.Close()
			return nil, fmt.Errorf("creating fifo %s: %w", path, err)
		}
		stale = true
	}
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK, 0)
	if err != nil {
		_ = lock.Close()
		return nil, fmt.Errorf("opening fifo %s: %w", path, err)
	}
	return &Endpoint{path: path, fd: fd, lock: lock, stale: stale}, nil
}

// ReusedStale reports whether Claim found and adopted a FIFO that existed
// with no owner.
func (e *Endpoint) ReusedStale() bool { return e.stale }

// Receive blocks until a complete target frame arrives, polling the FIFO
// with the given bounded timeout in milliseconds between read attempts.
// It returns the context error if cancelled while waiting. A partial frame
// or any read error other than "no data yet" is a protocol failure.
func (e *Endpoint) Receive(ctx context.Context, pollTimeoutMs int) (Target, error) {
	buf := make([]byte, FrameSize)
	for {
		n, err := unix.Read(e.fd, buf)
		switch {
		case err == nil && n == FrameSize:
			return Unmarshal(buf)
		case err == nil && n > 0:
			return Target{}, fmt.Errorf("short read of %d bytes on %s", n, e.path)
		case err != nil && err != unix.EAGAIN && err != unix.EINTR:
			return Target{}, fmt.Errorf("reading %s: %w", e.path, err)
		}
		// Nothing yet. Sleep in the kernel until the FIFO signals
		// readable, re-checking cancellation each round.
		pfd := []unix.PollFd{{Fd: int32(e.fd), Events: unix.POLLIN}}
		for {
			if err := ctx.Err(); err != nil {
				return Target{}, err
			}
			nready, err := unix.Poll(pfd, pollTimeoutMs)
			if err != nil && err != unix.EINTR {
				return Target{}, fmt.Errorf("polling %s: %w", e.path, err)
			}
			if nready > 0 && pfd[0].Revents&unix.POLLIN != 0 {
				break
			}
		}
	}
}

// Close releases the endpoint: the FIFO is removed from the filesystem, so
// its absence again means "no daemon", and the ownership lock is dropped.
func (e *Endpoint) Close() error {
	var firstErr error
	if err := unix.Close(e.fd); err != nil {
		firstErr = err
	}
	if err := os.Remove(e.path); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("removing fifo %s: %w", e.path, err)
	}
	if err := os.Remove(e.lock.Name()); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := e.lock.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Send forwards a target to the daemon owning the endpoint. The FIFO is
// opened write-only and non-blocking so a missing reader fails fast with
// ErrNoDaemon instead of hanging.
func Send(path string, t Target) error {
	fd, err := unix.Open(path, unix.O_WRONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		if err == unix.ENOENT || err == unix.ENXIO {
			return fmt.Errorf("%s: %w", path, ErrNoDaemon)
		}
		return fmt.Errorf("opening fifo %s for writing: %w", path, err)
	}
	defer unix.Close(fd)
	frame := t.Marshal()
	n, err := unix.Write(fd, frame)
	if err != nil {
		return fmt.Errorf("sending target to %s: %w", path, err)
	}
	if n != len(frame) {
		return fmt.Errorf("short write of %d bytes to %s", n, path)
	}
	return nil
}
