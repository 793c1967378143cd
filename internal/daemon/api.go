//go:build linux

package daemon

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/carlosprados/downsize/internal/version"
)

// Router returns the HTTP handler for the local status API. The daemon
// only ever serves loopback traffic; everything is read-only.
func (d *Daemon) Router() http.Handler {
	mux := http.NewServeMux()

	// Liveness probe
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":   "ok",
			"version":  version.Version,
			"uptime":   time.Since(d.start).String(),
			"time_utc": time.Now().UTC().Format(time.RFC3339),
		})
	})

	mux.HandleFunc("/v1/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(d.snapshot())
	})

	mux.Handle("/metrics", promhttp.Handler())

	return mux
}
