package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestFileWriteAndStat(t *testing.T) {
	rt := newTestRuntime(t, false)
	handler := NewFileHandler(rt)

	req := httptest.NewRequest(http.MethodPut, "/api/v1/files?path=/ckpt/a&mode=600&sync=true", strings.NewReader("payload"))
	w := httptest.NewRecorder()
	handler.Write(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("Write() status = %d, want %d, body = %s", w.Code, http.StatusCreated, w.Body.String())
	}
	var wr WriteResponse
	if err := json.Unmarshal(w.Body.Bytes(), &wr); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if wr.Written != 7 || !wr.Synced {
		t.Errorf("Write() = %+v, want 7 bytes synced", wr)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/files?path=/ckpt/a", nil)
	w = httptest.NewRecorder()
	handler.Stat(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Stat() status = %d, want %d", w.Code, http.StatusOK)
	}
	var fr FileResponse
	if err := json.Unmarshal(w.Body.Bytes(), &fr); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if fr.Size != 7 || fr.Type != "file" || fr.Mode&0o777 != 0o600 {
		t.Errorf("Stat() = %+v", fr)
	}
	if fr.Dirty {
		t.Error("Expected the file to be clean after a synced write")
	}
}

func TestFileWrite_BadMode(t *testing.T) {
	handler := NewFileHandler(newTestRuntime(t, false))
	req := httptest.NewRequest(http.MethodPut, "/api/v1/files?path=/a&mode=rw", strings.NewReader("x"))
	w := httptest.NewRecorder()

	handler.Write(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Write() status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestFileStat_MissingPath(t *testing.T) {
	handler := NewFileHandler(newTestRuntime(t, false))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/files", nil)
	w := httptest.NewRecorder()

	handler.Stat(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Stat() status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestFileStat_NotFound(t *testing.T) {
	handler := NewFileHandler(newTestRuntime(t, false))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/files?path=/missing", nil)
	w := httptest.NewRecorder()

	handler.Stat(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("Stat() status = %d, want %d", w.Code, http.StatusNotFound)
	}
	var p Problem
	if err := json.Unmarshal(w.Body.Bytes(), &p); err != nil {
		t.Fatalf("Failed to unmarshal problem: %v", err)
	}
	if p.Code == "" {
		t.Error("Expected the memfs error code in the problem")
	}
}

func TestFileStat_NameTooLong(t *testing.T) {
	handler := NewFileHandler(newTestRuntime(t, false))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/files?path=/"+strings.Repeat("x", 4096), nil)
	w := httptest.NewRecorder()

	handler.Stat(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Stat() status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestFileBackupAndRemove(t *testing.T) {
	rt := newTestRuntime(t, false)
	rt.Suspend()
	if _, err := rt.WriteFile(context.Background(), "/ckpt/b", 0, strings.NewReader("data")); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	handler := NewFileHandler(rt)

	body, _ := json.Marshal(BackupRequest{Path: "/ckpt/b"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/files/backup", bytes.NewReader(body))
	w := httptest.NewRecorder()
	handler.Backup(w, req)
	if w.Code != http.StatusConflict {
		t.Errorf("Backup() while suspended status = %d, want %d", w.Code, http.StatusConflict)
	}

	rt.Resume()
	req = httptest.NewRequest(http.MethodPost, "/api/v1/files/backup", bytes.NewReader(body))
	w = httptest.NewRecorder()
	handler.Backup(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("Backup() status = %d, want %d, body = %s", w.Code, http.StatusOK, w.Body.String())
	}

	entries, err := rt.View("disk")
	if err != nil {
		t.Fatalf("View failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Path != "/ckpt/b" {
		t.Errorf("Expected /ckpt/b in the disk view, got %+v", entries)
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/v1/files?path=/ckpt/b", nil)
	w = httptest.NewRecorder()
	handler.Remove(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("Remove() status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if entries, _ := rt.View("disk"); len(entries) != 0 {
		t.Errorf("Expected an empty disk view, got %+v", entries)
	}
}

func TestFileBackup_InvalidBody(t *testing.T) {
	handler := NewFileHandler(newTestRuntime(t, false))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/files/backup", strings.NewReader("{"))
	w := httptest.NewRecorder()

	handler.Backup(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Backup() status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestFilePreload_Wait(t *testing.T) {
	rt := newTestRuntime(t, false)
	data := bytes.Repeat([]byte("0123456789abcdef"), 1024)
	root := rt.Config().Targets[1].Path
	if err := os.MkdirAll(filepath.Join(root, "data"), 0o755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "data", "shard"), data, 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	handler := NewFileHandler(rt)
	body, _ := json.Marshal(PreloadRequest{Path: "/data/shard", Wait: true})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/files/preload", bytes.NewReader(body))
	w := httptest.NewRecorder()
	handler.Preload(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Preload() status = %d, want %d, body = %s", w.Code, http.StatusOK, w.Body.String())
	}
	var resp PreloadResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if !resp.Complete || resp.Loaded != uint64(len(data)) || resp.Failed != 0 {
		t.Errorf("Preload() = %+v", resp)
	}
}

func TestFilePreload_NotInTargets(t *testing.T) {
	handler := NewFileHandler(newTestRuntime(t, false))
	body, _ := json.Marshal(PreloadRequest{Path: "/nowhere"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/files/preload", bytes.NewReader(body))
	w := httptest.NewRecorder()

	handler.Preload(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Preload() status = %d, want %d, body = %s", w.Code, http.StatusNotFound, w.Body.String())
	}
}

func TestStatusSuspendResume(t *testing.T) {
	handler := NewStatusHandler(newTestRuntime(t, false))

	w := httptest.NewRecorder()
	handler.Suspend(w, httptest.NewRequest(http.MethodPost, "/api/v1/suspend", nil))
	var st StatusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if !st.Suspended {
		t.Error("Expected suspended after Suspend()")
	}

	w = httptest.NewRecorder()
	handler.Resume(w, httptest.NewRequest(http.MethodPost, "/api/v1/resume", nil))
	st = StatusResponse{}
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if st.Suspended {
		t.Error("Expected running after Resume()")
	}

	w = httptest.NewRecorder()
	handler.Get(w, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))
	st = StatusResponse{}
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if st.State != "RUNNING" || st.BlockCount != 64 || st.FreeBlocks != 64 || st.Pool.Name == "" {
		t.Errorf("Get() = %+v", st)
	}
}

func TestStatusEvict_RequiresTarget(t *testing.T) {
	handler := NewStatusHandler(newTestRuntime(t, false))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/evict", strings.NewReader(`{}`))
	w := httptest.NewRecorder()

	handler.Evict(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Evict() status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestTargetsListAndView(t *testing.T) {
	rt := newTestRuntime(t, false)
	if _, err := rt.WriteFile(context.Background(), "/ckpt/c", 0, strings.NewReader("c")); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if err := rt.Backup(context.Background(), "/ckpt/c", false); err != nil {
		t.Fatalf("Backup failed: %v", err)
	}
	handler := NewTargetHandler(rt)

	w := httptest.NewRecorder()
	handler.List(w, httptest.NewRequest(http.MethodGet, "/api/v1/targets", nil))
	var targets []TargetResponse
	if err := json.Unmarshal(w.Body.Bytes(), &targets); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if len(targets) != 2 || targets[0].Name != "scratch" || targets[1].Files != 1 {
		t.Errorf("List() = %+v", targets)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/targets/disk/view", nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("name", "disk")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	w = httptest.NewRecorder()
	handler.View(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("View() status = %d, want %d", w.Code, http.StatusOK)
	}
	var entries []ViewEntryResponse
	if err := json.Unmarshal(w.Body.Bytes(), &entries); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if len(entries) != 1 || entries[0].Path != "/ckpt/c" || entries[0].Generation != 1 {
		t.Errorf("View() = %+v", entries)
	}
}

func TestTargetsView_Unknown(t *testing.T) {
	handler := NewTargetHandler(newTestRuntime(t, false))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/targets/tape/view", nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("name", "tape")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	w := httptest.NewRecorder()

	handler.View(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("View() status = %d, want %d", w.Code, http.StatusNotFound)
	}
}
