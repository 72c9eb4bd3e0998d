package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/azmonbridge/azmonbridge/exporter/internal/store"
	"github.com/azmonbridge/azmonbridge/pkg/exposition"
	"github.com/azmonbridge/azmonbridge/pkg/snapshot"
)

// staleAfter is how many refresh intervals may pass without a successful
// refresh before /health reports unhealthy.
const staleAfter = 3

const probeTimeout = 5 * time.Second

// Refresher is what the handler needs from the collector.
type Refresher interface {
	Gatherer() prometheus.Gatherer
	Interval() time.Duration
	Probe(ctx context.Context) error
}

// Handler serves /metrics, /health and /.
type Handler struct {
	store *store.Store
	col   Refresher
	mux   *http.ServeMux
}

// New creates a Handler wired to st and col and registers all routes.
func New(st *store.Store, col Refresher) http.Handler {
	h := &Handler{store: st, col: col, mux: http.NewServeMux()}

	h.mux.HandleFunc("/metrics", h.metrics)
	h.mux.HandleFunc("/health", h.health)
	h.mux.HandleFunc("/", h.index)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// metrics returns GET /metrics. Before the first successful refresh only the
// self-metrics are present.
func (h *Handler) metrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	self, err := h.col.Gatherer().Gather()
	if err != nil {
		slog.Warn("api: gather self-metrics", "err", err)
	}

	var snap *snapshot.Snapshot
	if e, ok := h.store.Current(); ok {
		snap = e.Snapshot
	}
	w.Header().Set("Content-Type", exposition.ContentType)
	w.WriteHeader(http.StatusOK)
	if err := exposition.Encode(w, snap, self...); err != nil {
		slog.Warn("api: encode metrics", "err", err)
	}
}

// health returns GET /health.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if !h.store.Fresh(staleAfter * h.col.Interval()) {
		textResp(w, http.StatusServiceUnavailable, "Unhealthy: no recent successful refresh")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
	defer cancel()
	if err := h.col.Probe(ctx); err != nil {
		slog.Debug("api: health probe failed", "err", err)
		textResp(w, http.StatusServiceUnavailable, "Unhealthy: status endpoint unreachable")
		return
	}
	textResp(w, http.StatusOK, "OK")
}

const indexHTML = `<html>
<head><title>NGINX Exporter</title></head>
<body>
<h1>NGINX Exporter</h1>
<ul>
<li><a href="/metrics">Metrics</a></li>
<li><a href="/health">Health Check</a></li>
</ul>
</body>
</html>
`

// index returns GET / and 404s every other unknown path.
func (h *Handler) index(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		jsonErr(w, http.StatusNotFound, "not found")
		return
	}
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, indexHTML) //nolint:errcheck
}

// --- helpers ----------------------------------------------------------------

type errorResponse struct {
	Error string `json:"error"`
}

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}

func textResp(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	io.WriteString(w, msg) //nolint:errcheck
}
