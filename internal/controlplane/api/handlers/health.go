package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/marmos91/ckptfs/pkg/controlplane/runtime"
)

// HealthCheckTimeout is the maximum time allowed for health check operations.
// This timeout applies to target probes so a slow bucket cannot block health
// probes indefinitely.
const HealthCheckTimeout = 5 * time.Second

// HealthHandler handles health check endpoints.
//
// Health endpoints provide:
//   - Liveness probe: Is the server process running?
//   - Readiness probe: Is memfs running and serviceable?
//   - Store health: Reachability of every target and of the view ledger
type HealthHandler struct {
	rt        *runtime.Runtime
	startTime time.Time
}

// NewHealthHandler creates a new health handler.
//
// The runtime parameter may be nil, in which case readiness and store
// health checks will return unhealthy status.
func NewHealthHandler(rt *runtime.Runtime) *HealthHandler {
	return &HealthHandler{
		rt:        rt,
		startTime: time.Now(),
	}
}

// Liveness handles GET /health - simple liveness probe.
//
// Returns 200 OK if the server process is running.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(h.startTime)
	writeJSON(w, http.StatusOK, healthyResponse(map[string]any{
		"service":    "ckptfs",
		"started_at": h.startTime.UTC().Format(time.RFC3339),
		"uptime":     uptime.Round(time.Second).String(),
		"uptime_sec": int64(uptime.Seconds()),
	}))
}

// Readiness handles GET /health/ready - readiness probe.
//
// Returns 200 OK once memfs is RUNNING and the retry pool has not flagged it
// unserviceable.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	if h.rt == nil {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse("runtime not initialized"))
		return
	}

	st := h.rt.Status()
	if st.State != "RUNNING" {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse("memfs is "+st.State))
		return
	}
	if !st.Serviceable {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse("memfs is unserviceable"))
		return
	}

	writeJSON(w, http.StatusOK, healthyResponse(map[string]any{
		"state":     st.State,
		"targets":   len(h.rt.Targets()),
		"pending":   st.Pool.Pending,
		"alarm":     st.Pool.Alarm,
		"suspended": st.Suspended,
	}))
}

// StoreHealth represents the health status of a single store.
type StoreHealth struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// StoresResponse represents the detailed store health response.
type StoresResponse struct {
	Targets []StoreHealth `json:"targets"`
	Ledger  *StoreHealth  `json:"ledger,omitempty"`
}

// Stores handles GET /health/stores - detailed store health.
//
// Stats the root of every target and checks the view ledger when it is
// enabled. Returns 200 OK if all stores are healthy, 503 Service
// Unavailable if any store is unhealthy.
func (h *HealthHandler) Stores(w http.ResponseWriter, r *http.Request) {
	if h.rt == nil {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse("runtime not initialized"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), HealthCheckTimeout)
	defer cancel()

	response := StoresResponse{
		Targets: make([]StoreHealth, 0),
	}
	allHealthy := true

	types := make(map[string]string)
	for _, ts := range h.rt.TargetStatuses() {
		types[ts.Name] = ts.Type
	}

	for _, u := range h.rt.Targets() {
		start := time.Now()
		_, err := u.Stat(ctx, "/")
		health := probe(u.Name(), types[u.Name()], time.Since(start), err)
		if err != nil {
			allHealthy = false
		}
		response.Targets = append(response.Targets, health)
	}

	if l := h.rt.Ledger(); l != nil {
		start := time.Now()
		err := l.Healthcheck(ctx)
		health := probe("ledger", l.Backend(), time.Since(start), err)
		if err != nil {
			allHealthy = false
		}
		response.Ledger = &health
	}

	if allHealthy {
		writeJSON(w, http.StatusOK, healthyResponse(response))
	} else {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponseWithData(response))
	}
}

func probe(name, typ string, latency time.Duration, err error) StoreHealth {
	health := StoreHealth{
		Name:    name,
		Type:    typ,
		Status:  "healthy",
		Latency: latency.String(),
	}
	if err != nil {
		health.Status = "unhealthy"
		health.Error = err.Error()
	}
	return health
}
