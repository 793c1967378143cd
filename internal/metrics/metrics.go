package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once      sync.Once
	cpusTaken = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "downsize",
			Subsystem: "cpu",
			Name:      "taken",
			Help:      "Number of CPUs currently held offline by the daemon.",
		},
	)
	memoryLocked = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "downsize",
			Subsystem: "memory",
			Name:      "locked_bytes",
			Help:      "Bytes of the reservation currently locked.",
		},
	)
	memoryResident = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "downsize",
			Subsystem: "memory",
			Name:      "resident_bytes",
			Help:      "Bytes of the reservation verified resident via mincore.",
		},
	)
	targetsReceived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "downsize",
			Subsystem: "daemon",
			Name:      "targets_received_total",
			Help:      "Target messages received over the rendezvous endpoint.",
		},
	)
	convergences = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "downsize",
			Subsystem: "daemon",
			Name:      "convergences_total",
			Help:      "Completed applications of a target state.",
		},
	)
)

// initRegistry registers metrics once.
func init() {
	once.Do(func() {
		prometheus.MustRegister(cpusTaken, memoryLocked, memoryResident, targetsReceived, convergences)
	})
}

func SetCPUsTaken(n int) { cpusTaken.Set(float64(n)) }

func SetLockedBytes(n int64) { memoryLocked.Set(float64(n)) }

func SetResidentBytes(n int64) { memoryResident.Set(float64(n)) }

func IncTargetsReceived() { targetsReceived.Inc() }

func IncConvergences() { convergences.Inc() }
