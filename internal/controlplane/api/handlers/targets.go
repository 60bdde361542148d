package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/marmos91/ckptfs/pkg/controlplane/runtime"
)

// TargetHandler lists targets and their committed views.
type TargetHandler struct {
	rt *runtime.Runtime
}

// NewTargetHandler creates a new target handler.
func NewTargetHandler(rt *runtime.Runtime) *TargetHandler {
	return &TargetHandler{rt: rt}
}

// TargetResponse describes one target.
type TargetResponse struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Files int    `json:"files"`
}

// ViewEntryResponse is one committed file of a target view.
type ViewEntryResponse struct {
	Path       string    `json:"path"`
	Inode      uint64    `json:"inode"`
	Mtime      time.Time `json:"mtime"`
	Generation uint64    `json:"generation"`
	UfsInode   uint64    `json:"ufs_inode"`
}

// List handles GET /api/v1/targets.
func (h *TargetHandler) List(w http.ResponseWriter, r *http.Request) {
	targets := h.rt.TargetStatuses()
	resp := make([]TargetResponse, 0, len(targets))
	for _, t := range targets {
		resp = append(resp, TargetResponse{Name: t.Name, Type: t.Type, Files: t.Files})
	}
	WriteJSONOK(w, resp)
}

// View handles GET /api/v1/targets/{name}/view.
func (h *TargetHandler) View(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" {
		BadRequest(w, "Target name is required")
		return
	}

	entries, err := h.rt.View(name)
	if err != nil {
		WriteError(w, err)
		return
	}

	resp := make([]ViewEntryResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, ViewEntryResponse{
			Path:       e.Path,
			Inode:      e.Inode,
			Mtime:      e.Mtime.UTC(),
			Generation: e.Generation,
			UfsInode:   e.UfsInode,
		})
	}
	WriteJSONOK(w, resp)
}
