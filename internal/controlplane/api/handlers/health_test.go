package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/marmos91/ckptfs/internal/bytesize"
	"github.com/marmos91/ckptfs/pkg/config"
	"github.com/marmos91/ckptfs/pkg/controlplane/runtime"
)

// newTestRuntime starts a small heap-backed runtime with a memory target and
// a local target under t.TempDir().
func newTestRuntime(t *testing.T, ledger bool) *runtime.Runtime {
	t.Helper()

	cfg := config.GetDefaultConfig()
	cfg.WorkPath = t.TempDir()
	cfg.Memfs.BlockSize = 4 * bytesize.KiB
	cfg.Memfs.BlockCount = 64
	cfg.Memfs.Allocator = "heap"
	cfg.Backup.Retry.Threads = 2
	cfg.Backup.Retry.RetryInterval = 10 * time.Millisecond
	cfg.Backup.Retry.MaxRetryInterval = 100 * time.Millisecond
	cfg.Backup.Shard.MinShardSize = 4 * bytesize.KiB
	cfg.Backup.StageMtimeTimeout = time.Second
	cfg.Backup.StagePollInterval = 10 * time.Millisecond
	cfg.Backup.Ledger.Enabled = ledger
	cfg.Backup.Ledger.Path = filepath.Join(t.TempDir(), "ledger")
	cfg.ShutdownTimeout = 2 * time.Second
	cfg.Targets = []config.TargetConfig{
		{Name: "scratch", Type: config.TargetMemory},
		{Name: "disk", Type: config.TargetLocal, Path: filepath.Join(t.TempDir(), "backup")},
	}

	rt, err := runtime.New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Failed to create runtime: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })
	return rt
}

func TestLiveness_ReturnsOK(t *testing.T) {
	handler := NewHealthHandler(nil)
	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	handler.Liveness(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, w.Code)
	}

	var resp Response
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if resp.Status != "healthy" {
		t.Errorf("Expected status 'healthy', got '%s'", resp.Status)
	}

	data, ok := resp.Data.(map[string]any)
	if !ok {
		t.Fatalf("Expected Data to be a map, got %T", resp.Data)
	}

	if data["service"] != "ckptfs" {
		t.Errorf("Expected service 'ckptfs', got '%s'", data["service"])
	}
}

func TestReadiness_NoRuntime_Returns503(t *testing.T) {
	handler := NewHealthHandler(nil)
	req := httptest.NewRequest("GET", "/health/ready", nil)
	w := httptest.NewRecorder()

	handler.Readiness(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status %d, got %d", http.StatusServiceUnavailable, w.Code)
	}

	var resp Response
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if resp.Status != "unhealthy" {
		t.Errorf("Expected status 'unhealthy', got '%s'", resp.Status)
	}
	if resp.Error != "runtime not initialized" {
		t.Errorf("Expected error 'runtime not initialized', got '%s'", resp.Error)
	}
}

func TestReadiness_Running_ReturnsOK(t *testing.T) {
	handler := NewHealthHandler(newTestRuntime(t, false))
	req := httptest.NewRequest("GET", "/health/ready", nil)
	w := httptest.NewRecorder()

	handler.Readiness(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}

	var resp Response
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	data, ok := resp.Data.(map[string]any)
	if !ok {
		t.Fatalf("Expected Data to be a map, got %T", resp.Data)
	}
	if data["state"] != "RUNNING" {
		t.Errorf("Expected state RUNNING, got %v", data["state"])
	}
	if data["targets"] != float64(2) {
		t.Errorf("Expected 2 targets, got %v", data["targets"])
	}
}

func TestReadiness_Unserviceable_Returns503(t *testing.T) {
	rt := newTestRuntime(t, false)
	rt.Memfs().Serviceable(false)
	handler := NewHealthHandler(rt)
	req := httptest.NewRequest("GET", "/health/ready", nil)
	w := httptest.NewRecorder()

	handler.Readiness(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status %d, got %d", http.StatusServiceUnavailable, w.Code)
	}
}

func TestReadiness_Closed_Returns503(t *testing.T) {
	rt := newTestRuntime(t, false)
	if err := rt.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	handler := NewHealthHandler(rt)
	req := httptest.NewRequest("GET", "/health/ready", nil)
	w := httptest.NewRecorder()

	handler.Readiness(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status %d, got %d", http.StatusServiceUnavailable, w.Code)
	}
}

func TestStores_NoRuntime_Returns503(t *testing.T) {
	handler := NewHealthHandler(nil)
	req := httptest.NewRequest("GET", "/health/stores", nil)
	w := httptest.NewRecorder()

	handler.Stores(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status %d, got %d", http.StatusServiceUnavailable, w.Code)
	}
}

func TestStores_WithHealthyStores_ReturnsOK(t *testing.T) {
	handler := NewHealthHandler(newTestRuntime(t, true))
	req := httptest.NewRequest("GET", "/health/stores", nil)
	w := httptest.NewRecorder()

	handler.Stores(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}

	var resp struct {
		Status string         `json:"status"`
		Data   StoresResponse `json:"data"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if len(resp.Data.Targets) != 2 {
		t.Fatalf("Expected 2 targets, got %d", len(resp.Data.Targets))
	}
	for _, target := range resp.Data.Targets {
		if target.Status != "healthy" {
			t.Errorf("Expected target %s healthy, got %s (%s)", target.Name, target.Status, target.Error)
		}
	}
	if resp.Data.Targets[0].Type != config.TargetMemory || resp.Data.Targets[1].Type != config.TargetLocal {
		t.Errorf("Unexpected target types %q %q", resp.Data.Targets[0].Type, resp.Data.Targets[1].Type)
	}
	if resp.Data.Ledger == nil || resp.Data.Ledger.Status != "healthy" {
		t.Errorf("Expected a healthy ledger, got %+v", resp.Data.Ledger)
	}
}

func TestStores_NoLedger_OmitsLedger(t *testing.T) {
	handler := NewHealthHandler(newTestRuntime(t, false))
	req := httptest.NewRequest("GET", "/health/stores", nil)
	w := httptest.NewRecorder()

	handler.Stores(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
	}

	var resp struct {
		Data StoresResponse `json:"data"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Data.Ledger != nil {
		t.Errorf("Expected no ledger entry, got %+v", resp.Data.Ledger)
	}
}
