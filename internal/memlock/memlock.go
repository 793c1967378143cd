//go:build linux

// Package memlock owns the daemon's memory reservation: one large
// anonymous private mapping sized to physical RAM, of which a left-aligned
// prefix is pinned resident with mlock. The daemon never writes the
// mapping, so locked pages stay logically zero.
package memlock

import (
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v4/mem"
	"golang.org/x/sys/unix"
)

// ErrLockPermission marks an mlock failure caused by missing privilege.
// Pinning memory needs CAP_IPC_LOCK (or a sufficient RLIMIT_MEMLOCK).
var ErrLockPermission = errors.New("locking memory requires CAP_IPC_LOCK")

// mincoreWindowPages is how many pages one residency query covers.
const mincoreWindowPages = 4096

// TotalMemory returns the machine's physical memory size in bytes.
func TotalMemory() (int64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, fmt.Errorf("querying physical memory size: %w", err)
	}
	return int64(vm.Total), nil
}

// PageAlign rounds n up to the next multiple of the system page size.
func PageAlign(n int64) int64 {
	page := int64(os.Getpagesize())
	return (n + page - 1) &^ (page - 1)
}

// Reservation is the daemon's private memory region plus the ledger of how
// much of it is currently locked. The locked region is always the prefix
// [0, Taken()): growth extends it at the end, shrinkage retracts it from
// the end, never leaving a hole.
type Reservation struct {
	buf   []byte
	taken int64
}

// New maps size bytes of anonymous private memory. Huge pages and samepage
// merging are disabled on the region so that discarded pages are really
// returned and zero pages are not deduplicated away.
func New(size int64) (*Reservation, error) {
	buf, err := unix.Mmap(-1, 0, int(size),
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_NORESERVE)
	if err != nil {
		return nil, fmt.Errorf("mapping %d byte reservation: %w", size, err)
	}
	if err := unix.Madvise(buf, unix.MADV_NOHUGEPAGE); err != nil {
		log.Warn().Err(err).Msg("madvise NOHUGEPAGE on reservation")
	}
	if err := unix.Madvise(buf, unix.MADV_UNMERGEABLE); err != nil {
		log.Warn().Err(err).Msg("madvise UNMERGEABLE on reservation")
	}
	return &Reservation{buf: buf}, nil
}

// Max returns the reservation size in bytes.
func (r *Reservation) Max() int64 { return int64(len(r.buf)) }

// Taken returns the size of the locked prefix in bytes.
func (r *Reservation) Taken() int64 { return r.taken }

// SetLocked drives the locked prefix to target bytes. Growth locks the new
// extent, forcing its pages resident; shrinkage unlocks the retracted
// extent and advises the kernel to discard those pages outright.
func (r *Reservation) SetLocked(target int64) error {
	if target < 0 || target > r.Max() {
		return fmt.Errorf("lock target %d outside reservation of %d bytes", target, r.Max())
	}
	switch {
	case target > r.taken:
		if err := unix.Mlock(r.buf[r.taken:target]); err != nil {
			if err == unix.EPERM {
				return fmt.Errorf("mlock of %d bytes: %w", target-r.taken, ErrLockPermission)
			}
			return fmt.Errorf("mlock of %d bytes: %w", target-r.taken, err)
		}
		r.taken = target
	case target < r.taken:
		if err := unix.Munlock(r.buf[target:r.taken]); err != nil {
			return fmt.Errorf("munlock of %d bytes: %w", r.taken-target, err)
		}
		if err := unix.Madvise(r.buf[target:r.taken], unix.MADV_DONTNEED); err != nil {
			log.Warn().Err(err).Msg("discarding unlocked pages")
		}
		r.taken = target
	}
	return nil
}

// Resident scans the whole reservation in bounded windows and counts
// resident pages via mincore. This is the ground truth that locking
// actually pinned the pages; the lock calls themselves are not re-checked.
// A failed window is logged and skipped rather than aborting the scan.
func (r *Reservation) Resident() int64 {
	page := int64(os.Getpagesize())
	vec := make([]byte, mincoreWindowPages)
	step := int64(mincoreWindowPages) * page
	var pages int64
	for off := int64(0); off < int64(len(r.buf)); off += step {
		end := off + step
		if end > int64(len(r.buf)) {
			end = int64(len(r.buf))
		}
		n := (end - off + page - 1) / page
		if err := unix.Mincore(r.buf[off:end], vec[:n]); err != nil {
			log.Warn().Err(err).Int64("offset", off).Msg("mincore window failed")
			continue
		}
		for _, v := range vec[:n] {
			if v&1 != 0 {
				pages++
			}
		}
	}
	return pages * page
}

// Close releases the mapping. The ledger is not consulted; the kernel
// drops locks with the mapping.
func (r *Reservation) Close() error {
	if r.buf == nil {
		return nil
	}
	err := unix.Munmap(r.buf)
	r.buf = nil
	r.taken = 0
	return err
}
