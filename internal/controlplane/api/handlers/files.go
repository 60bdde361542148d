package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/marmos91/ckptfs/pkg/controlplane/runtime"
	"github.com/marmos91/ckptfs/pkg/memfs"
)

// FileHandler serves memfs files: stat, write, remove, backup and preload.
//
// File paths travel in the "path" query parameter or the request body since
// they are absolute memfs paths and would otherwise clash with routing.
type FileHandler struct {
	rt *runtime.Runtime
}

// NewFileHandler creates a new file handler.
func NewFileHandler(rt *runtime.Runtime) *FileHandler {
	return &FileHandler{rt: rt}
}

// FileResponse describes one memfs inode.
type FileResponse struct {
	Path    string    `json:"path"`
	Inode   uint64    `json:"inode"`
	Type    string    `json:"type"`
	Size    uint64    `json:"size"`
	Mode    uint32    `json:"mode"`
	Mtime   time.Time `json:"mtime"`
	Writing bool      `json:"writing"`
	Dirty   bool      `json:"dirty"`
}

func metaToResponse(path string, m memfs.Meta) FileResponse {
	return FileResponse{
		Path:    path,
		Inode:   m.Inode,
		Type:    m.Type.String(),
		Size:    m.Size,
		Mode:    m.Mode,
		Mtime:   m.Mtime.UTC(),
		Writing: m.Writing,
		Dirty:   m.Dirty,
	}
}

// Stat handles GET /api/v1/files?path=.
func (h *FileHandler) Stat(w http.ResponseWriter, r *http.Request) {
	path, ok := pathQuery(w, r)
	if !ok {
		return
	}
	meta, err := h.rt.Memfs().GetMeta(path)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSONOK(w, metaToResponse(path, meta))
}

// WriteResponse is the response body of a file upload.
type WriteResponse struct {
	Path    string `json:"path"`
	Written int64  `json:"written"`
	Synced  bool   `json:"synced"`
}

// Write handles PUT /api/v1/files?path=&mode=&sync=.
//
// The request body replaces the memfs file. Closing the file schedules its
// upload; with sync=true the handler also uploads it to every target before
// returning.
func (h *FileHandler) Write(w http.ResponseWriter, r *http.Request) {
	path, ok := pathQuery(w, r)
	if !ok {
		return
	}
	var mode uint64
	if v := r.URL.Query().Get("mode"); v != "" {
		var err error
		if mode, err = strconv.ParseUint(v, 8, 32); err != nil {
			BadRequest(w, "mode must be an octal permission")
			return
		}
	}
	sync, err := boolQuery(r, "sync")
	if err != nil {
		BadRequest(w, "sync must be a boolean")
		return
	}

	written, err := h.rt.WriteFile(r.Context(), path, uint32(mode), r.Body)
	if err != nil {
		WriteError(w, err)
		return
	}
	if sync {
		if err := h.rt.Backup(r.Context(), path, false); err != nil {
			WriteError(w, err)
			return
		}
	}
	WriteJSON(w, http.StatusCreated, WriteResponse{Path: path, Written: written, Synced: sync})
}

// Remove handles DELETE /api/v1/files?path=.
func (h *FileHandler) Remove(w http.ResponseWriter, r *http.Request) {
	path, ok := pathQuery(w, r)
	if !ok {
		return
	}
	if err := h.rt.Remove(r.Context(), path); err != nil {
		WriteError(w, err)
		return
	}
	WriteNoContent(w)
}

// BackupRequest is the request body for POST /api/v1/files/backup.
type BackupRequest struct {
	Path  string `json:"path"`
	Force bool   `json:"force"`
}

// Backup handles POST /api/v1/files/backup.
func (h *FileHandler) Backup(w http.ResponseWriter, r *http.Request) {
	var req BackupRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.Path == "" {
		BadRequest(w, "path is required")
		return
	}
	if err := h.rt.Backup(r.Context(), req.Path, req.Force); err != nil {
		WriteError(w, err)
		return
	}
	meta, err := h.rt.Memfs().GetMeta(req.Path)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSONOK(w, metaToResponse(req.Path, meta))
}

// PreloadRequest is the request body for POST /api/v1/files/preload.
type PreloadRequest struct {
	Path string `json:"path"`
	Wait bool   `json:"wait"`
}

// PreloadResponse reports the progress of a preload.
type PreloadResponse struct {
	Path     string `json:"path"`
	Shards   int    `json:"shards"`
	Pending  int    `json:"pending"`
	Failed   uint32 `json:"failed"`
	Loaded   uint64 `json:"loaded"`
	Complete bool   `json:"complete"`
}

// Preload handles POST /api/v1/files/preload.
//
// Without wait the response is 202 Accepted as soon as the shards are
// queued. With wait the handler blocks until every shard finished or the
// request is cancelled.
func (h *FileHandler) Preload(w http.ResponseWriter, r *http.Request) {
	var req PreloadRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.Path == "" {
		BadRequest(w, "path is required")
		return
	}

	plc, err := h.rt.Preload(r.Context(), req.Path)
	if err != nil {
		WriteError(w, err)
		return
	}

	status := http.StatusAccepted
	if req.Wait {
		if err := plc.Wait(r.Context()); err != nil {
			WriteError(w, err)
			return
		}
		status = http.StatusOK
	}

	WriteJSON(w, status, PreloadResponse{
		Path:     req.Path,
		Shards:   plc.Total(),
		Pending:  plc.Remaining(),
		Failed:   plc.FailedCount(),
		Loaded:   plc.Loaded(),
		Complete: plc.Remaining() == 0,
	})
}
