package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"tailscale.com/tsweb"

	"github.com/banshee-data/telemetry.capture/internal/httputil"
)

// AttachDebugRoutes mounts the Prometheus scrape endpoint for g at /metrics
// and the capture debug pages under /debug/. The debug pages are accessible
// only over localhost or Tailscale. stats is called on every request and must
// be safe for concurrent use.
func AttachDebugRoutes(mux *http.ServeMux, g prometheus.Gatherer, stats func() any) {
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))

	debug := tsweb.Debugger(mux)
	debug.KVFunc("Capture", func() any { return stats() })
	debug.HandleFunc("capture", "Capture pipeline counters (JSON)", StatsHandler(stats))
}

// StatsHandler serves the result of stats as JSON.
func StatsHandler(stats func() any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !httputil.RequireMethod(w, r, http.MethodGet) {
			return
		}
		if err := httputil.WriteJSON(w, http.StatusOK, stats()); err != nil {
			Logf("debug: encoding stats: %v", err)
		}
	}
}
