//go:build linux

package runtime

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// RaiseMemlockLimit lifts RLIMIT_MEMLOCK to unlimited so the daemon can
// pin reservations far beyond the default cap. Without CAP_SYS_RESOURCE
// this fails; callers treat that as advisory, since CAP_IPC_LOCK bypasses
// the limit anyway.
func RaiseMemlockLimit() error {
	lim := &unix.Rlimit{Cur: unix.RLIM_INFINITY, Max: unix.RLIM_INFINITY}
	if err := unix.Setrlimit(unix.RLIMIT_MEMLOCK, lim); err != nil {
		return fmt.Errorf("setrlimit MEMLOCK: %w", err)
	}
	return nil
}
