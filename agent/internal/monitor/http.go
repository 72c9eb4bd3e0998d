package monitor

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler serves GET /health (200 or 503 with the Status as JSON) and
// GET /metrics (agent self-metrics).
func (o *Orchestrator) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", o.handleHealth)
	mux.Handle("/metrics", promhttp.HandlerFor(o.m.registry, promhttp.HandlerOpts{}))
	return mux
}

func (o *Orchestrator) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	st := o.Health()
	code := http.StatusOK
	if !st.Healthy || st.State == Stopped {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(st)
}
