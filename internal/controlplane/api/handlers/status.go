package handlers

import (
	"net/http"
	"time"

	"github.com/marmos91/ckptfs/pkg/controlplane/runtime"
)

// StatusHandler serves runtime status and the suspend, resume and evict
// controls.
type StatusHandler struct {
	rt *runtime.Runtime
}

// NewStatusHandler creates a new status handler.
func NewStatusHandler(rt *runtime.Runtime) *StatusHandler {
	return &StatusHandler{rt: rt}
}

// PoolStatusResponse is the retry pool part of a status response.
type PoolStatusResponse struct {
	Name      string `json:"name"`
	Submitted int    `json:"submitted"`
	Succeeded int    `json:"succeeded"`
	Retried   int    `json:"retried"`
	Discarded int    `json:"discarded"`
	Failing   int    `json:"failing"`
	Pending   int    `json:"pending"`
	Alarm     bool   `json:"alarm"`
	CCAEPath  string `json:"ccae_path"`
}

// StatusResponse is the response body of GET /api/v1/status.
type StatusResponse struct {
	State       string             `json:"state"`
	Progress    int32              `json:"progress"`
	Serviceable bool               `json:"serviceable"`
	Suspended   bool               `json:"suspended"`
	BlockSize   uint64             `json:"block_size"`
	BlockCount  uint64             `json:"block_count"`
	FreeBlocks  uint64             `json:"free_blocks"`
	UsedBlocks  uint64             `json:"used_blocks"`
	OpenFiles   int                `json:"open_files"`
	Pool        PoolStatusResponse `json:"pool"`
	StartedAt   time.Time          `json:"started_at"`
	UptimeSec   int64              `json:"uptime_sec"`
}

func statusToResponse(st runtime.Status) StatusResponse {
	return StatusResponse{
		State:       st.State,
		Progress:    st.Progress,
		Serviceable: st.Serviceable,
		Suspended:   st.Suspended,
		BlockSize:   st.BlockSize,
		BlockCount:  st.BlockCount,
		FreeBlocks:  st.FreeBlocks,
		UsedBlocks:  st.UsedBlocks(),
		OpenFiles:   st.OpenFiles,
		Pool: PoolStatusResponse{
			Name:      st.PoolName,
			Submitted: st.Pool.Submitted,
			Succeeded: st.Pool.Succeeded,
			Retried:   st.Pool.Retried,
			Discarded: st.Pool.Discarded,
			Failing:   st.Pool.Failing,
			Pending:   st.Pool.Pending,
			Alarm:     st.Pool.Alarm,
			CCAEPath:  st.CCAEPath,
		},
		StartedAt: st.StartedAt.UTC(),
		UptimeSec: int64(st.Uptime.Seconds()),
	}
}

// Get handles GET /api/v1/status.
func (h *StatusHandler) Get(w http.ResponseWriter, r *http.Request) {
	WriteJSONOK(w, statusToResponse(h.rt.Status()))
}

// Suspend handles POST /api/v1/suspend.
func (h *StatusHandler) Suspend(w http.ResponseWriter, r *http.Request) {
	h.rt.Suspend()
	WriteJSONOK(w, statusToResponse(h.rt.Status()))
}

// Resume handles POST /api/v1/resume.
func (h *StatusHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.rt.Resume()
	WriteJSONOK(w, statusToResponse(h.rt.Status()))
}

// EvictRequest is the request body for POST /api/v1/evict.
type EvictRequest struct {
	TargetFreeBytes uint64 `json:"target_free_bytes"`
}

// EvictResponse reports the outcome of an eviction pass.
type EvictResponse struct {
	FreedBytes uint64 `json:"freed_bytes"`
	Files      int    `json:"files"`
	FreeBlocks uint64 `json:"free_blocks"`
}

// Evict handles POST /api/v1/evict.
func (h *StatusHandler) Evict(w http.ResponseWriter, r *http.Request) {
	var req EvictRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.TargetFreeBytes == 0 {
		BadRequest(w, "target_free_bytes must be greater than zero")
		return
	}

	freed, files, err := h.rt.Evict(r.Context(), req.TargetFreeBytes)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSONOK(w, EvictResponse{
		FreedBytes: freed,
		Files:      files,
		FreeBlocks: h.rt.Memfs().FreeBlocks(),
	})
}
