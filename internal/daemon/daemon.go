//go:build linux

// Package daemon runs the convergence engine: it inventories the machine
// once, then drives the withheld CPU count and locked byte count to each
// requested target, blocking on the rendezvous endpoint between targets.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"

	"github.com/carlosprados/downsize/internal/config"
	"github.com/carlosprados/downsize/internal/cpuset"
	"github.com/carlosprados/downsize/internal/memlock"
	"github.com/carlosprados/downsize/internal/metrics"
	"github.com/carlosprados/downsize/internal/rendezvous"
	sysrt "github.com/carlosprados/downsize/internal/runtime"
	"github.com/carlosprados/downsize/internal/sysfs"
)

// ErrStateDivergence means the recomputed taken-CPU count disagrees with
// the tracked counter. The registries are untrustworthy at that point; no
// repair is attempted.
var ErrStateDivergence = errors.New("cpu bookkeeping diverged from tracked count")

// Daemon is the single owner of all registries and the ledger. One
// goroutine mutates it; the status server reads only the snapshot.
type Daemon struct {
	cfg  config.Config
	cpus *sysfs.CPUs
	ep   *rendezvous.Endpoint

	online     *cpuset.Set
	taken      *cpuset.Set
	takenCount int
	mem        *memlock.Reservation

	start time.Time

	mu   sync.RWMutex
	snap Snapshot
}

// Snapshot is a read-only view of the daemon state for the status server.
type Snapshot struct {
	CPUsTaken     int       `json:"cpus_taken"`
	TakenList     string    `json:"taken_list"`
	OnlineList    string    `json:"online_list"`
	LockedBytes   int64     `json:"locked_bytes"`
	ResidentBytes int64     `json:"resident_bytes"`
	MaxBytes      int64     `json:"max_bytes"`
	Updated       time.Time `json:"updated"`
}

// New creates a daemon bound to an already-claimed rendezvous endpoint.
func New(cfg config.Config, ep *rendezvous.Endpoint) *Daemon {
	return &Daemon{
		cfg:   cfg,
		cpus:  sysfs.New(cfg.SysfsRoot),
		ep:    ep,
		taken: cpuset.New(),
		start: time.Now(),
	}
}

// Run executes the full lifecycle: inventory, then apply/wait rounds until
// the terminal target is reached or ctx is cancelled. Cancellation drains
// the daemon back to zero before tearing down, so the machine is left as
// it was found.
func (d *Daemon) Run(ctx context.Context, initial rendezvous.Target) error {
	if err := d.inventory(); err != nil {
		return err
	}
	defer d.mem.Close()

	desired := initial
	for {
		log.Info().
			Int("cpus", desired.CPUs).
			Str("membytes", humanize.IBytes(uint64(desired.MemBytes))).
			Msg("applying target")
		if err := d.applyCPUs(desired.CPUs); err != nil {
			return err
		}
		if err := d.applyMemory(desired.MemBytes); err != nil {
			return err
		}
		metrics.IncConvergences()

		if d.takenCount == 0 && d.mem.Taken() == 0 {
			break
		}

		next, err := d.ep.Receive(ctx, int(d.cfg.PollInterval().Milliseconds()))
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				log.Info().Msg("shutdown requested, draining withheld resources")
				desired = rendezvous.Target{}
				continue
			}
			return err
		}
		metrics.IncTargetsReceived()
		desired = next
	}

	log.Info().Msg("nothing left withheld, terminating")
	return d.ep.Close()
}

// inventory populates the online registry from the live machine and
// creates the memory reservation sized to physical RAM.
func (d *Daemon) inventory() error {
	if err := sysrt.RaiseMemlockLimit(); err != nil {
		log.Warn().Err(err).Msg("could not raise memlock limit")
	}

	limit := sysfs.DefaultMaxCPUs
	if max, err := d.cpus.MaxIndex(); err != nil {
		log.Warn().Err(err).Int("fallback", limit).Msg("could not query max cpu index")
	} else {
		limit = max + 1
	}

	text, err := d.cpus.OnlineList()
	if err != nil {
		return err
	}
	online, perr := cpuset.Parse(text, limit)
	if perr != nil {
		if d.cfg.StrictCPUList {
			return fmt.Errorf("online cpu list: %w", perr)
		}
		log.Warn().Err(perr).Msg("online cpu list malformed, using valid prefix")
	}
	d.online = online
	log.Info().Str("online", d.online.String()).Int("count", d.online.Size()).Msg("inventoried cpus")

	total, err := memlock.TotalMemory()
	if err != nil {
		return err
	}
	d.mem, err = memlock.New(memlock.PageAlign(total))
	if err != nil {
		return err
	}
	log.Info().Str("reservation", humanize.IBytes(uint64(d.mem.Max()))).Msg("created memory reservation")

	d.reportResidency()
	return nil
}

// applyCPUs converges the taken-CPU count to target. Additional CPUs are
// taken from the highest online index downward; returned CPUs go back
// from the lowest taken index upward, so the first CPU ever taken is the
// last one released.
func (d *Daemon) applyCPUs(target int) error {
	recount := d.taken.Size()
	if recount != d.takenCount {
		return fmt.Errorf("%w: recounted %d, tracked %d", ErrStateDivergence, recount, d.takenCount)
	}
	if target != d.takenCount {
		log.Info().Int("from", d.takenCount).Int("to", target).Msg("adjusting taken cpus")
	}

	for d.takenCount < target {
		cpu, ok := d.online.Highest()
		if !ok {
			return errors.New("no online cpus left to take")
		}
		if cpu == 0 {
			return errors.New("refusing to take cpu 0 offline")
		}
		d.online.Remove(cpu)
		d.taken.Add(cpu)
		if err := d.cpus.SetOnline(cpu, false); err != nil {
			return err
		}
		d.takenCount++
		log.Info().Int("cpu", cpu).Msg("cpu taken offline")
	}

	for d.takenCount > target {
		cpu, ok := d.taken.Lowest()
		if !ok {
			return fmt.Errorf("%w: counter positive but taken set empty", ErrStateDivergence)
		}
		d.taken.Remove(cpu)
		d.online.Add(cpu)
		if err := d.cpus.SetOnline(cpu, true); err != nil {
			return err
		}
		d.takenCount--
		log.Info().Int("cpu", cpu).Msg("cpu returned to service")
	}

	metrics.SetCPUsTaken(d.takenCount)
	if s := d.taken.String(); s != "" {
		log.Info().Str("taken", s).Msg("cpus currently withheld")
	}
	return nil
}

// applyMemory converges the locked byte count to target and then verifies
// residency over the whole reservation.
func (d *Daemon) applyMemory(target int64) error {
	before := d.mem.Taken()
	if err := d.mem.SetLocked(target); err != nil {
		return err
	}
	if target > before {
		log.Info().Str("locked", humanize.IBytes(uint64(target-before))).Msg("locked additional memory")
	} else if target < before {
		log.Info().Str("released", humanize.IBytes(uint64(before-target))).Msg("released locked memory")
	}
	d.reportResidency()
	return nil
}

// reportResidency publishes the mincore ground truth to the log, the
// metrics and the status snapshot.
func (d *Daemon) reportResidency() {
	resident := d.mem.Resident()
	log.Info().
		Str("resident", humanize.IBytes(uint64(resident))).
		Str("of", humanize.IBytes(uint64(d.mem.Max()))).
		Msg("memory residency")

	metrics.SetLockedBytes(d.mem.Taken())
	metrics.SetResidentBytes(resident)

	online, taken := "", ""
	if d.online != nil {
		online = d.online.String()
	}
	taken = d.taken.String()
	d.mu.Lock()
	d.snap = Snapshot{
		CPUsTaken:     d.takenCount,
		TakenList:     taken,
		OnlineList:    online,
		LockedBytes:   d.mem.Taken(),
		ResidentBytes: resident,
		MaxBytes:      d.mem.Max(),
		Updated:       time.Now().UTC(),
	}
	d.mu.Unlock()
}

// snapshot returns the last published state.
func (d *Daemon) snapshot() Snapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.snap
}
