package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/lichen-labs/ragcore"
	"github.com/lichen-labs/ragcore/vectorindex"
)

type handler struct {
	core *ragcore.Core
}

func newHandler(c *ragcore.Core) *handler {
	return &handler{core: c}
}

// POST /ingest
// Accepts multipart file upload or JSON with one or more paths.
func (h *handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Minute)
	defer cancel()

	if err := r.ParseMultipartForm(100 << 20); err == nil { // 100MB max
		file, header, err := r.FormFile("file")
		if err == nil {
			defer file.Close()

			safeName := filepath.Base(header.Filename)
			tmpPath := filepath.Join(os.TempDir(), safeName)
			dst, err := os.Create(tmpPath)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "failed to process file")
				slog.Error("creating temp file", "error", err)
				return
			}
			if _, err := io.Copy(dst, file); err != nil {
				dst.Close()
				writeError(w, http.StatusInternalServerError, "failed to save file")
				slog.Error("saving uploaded file", "error", err)
				return
			}
			dst.Close()
			defer os.Remove(tmpPath)

			profile := r.FormValue("profile")
			results := h.core.Ingest(ctx, []string{tmpPath}, profile, nil)
			writeJSON(w, http.StatusOK, map[string]interface{}{"results": results})
			return
		}
	}

	var req struct {
		Paths            []string       `json:"paths"`
		Profile          string         `json:"profile,omitempty"`
		SidebarOverrides map[string]any `json:"sidebar_overrides,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: expected multipart file or JSON with 'paths'")
		return
	}
	if len(req.Paths) == 0 {
		writeError(w, http.StatusBadRequest, "paths is required")
		return
	}

	for i, p := range req.Paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid path: "+p)
			return
		}
		if info, err := os.Stat(abs); err != nil || info.IsDir() {
			writeError(w, http.StatusBadRequest, "path must be an existing file: "+p)
			return
		}
		req.Paths[i] = abs
	}

	results := h.core.Ingest(ctx, req.Paths, req.Profile, req.SidebarOverrides)
	writeJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}

// POST /query
func (h *handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	var req struct {
		Query     string `json:"query"`
		K         int    `json:"k,omitempty"`
		Lane      string `json:"lane,omitempty"`
		UseRouter *bool  `json:"use_router,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	if req.K < 0 || req.K > 100 {
		req.K = 0
	}
	useRouter := true
	if req.UseRouter != nil {
		useRouter = *req.UseRouter
	}

	results, err := h.core.Query(ctx, req.Query, req.K, req.Lane, useRouter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		slog.Error("query error", "query", req.Query, "error", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}

// POST /hybrid-query
func (h *handler) handleHybridQuery(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	var req struct {
		Query      string `json:"query"`
		K          int    `json:"k,omitempty"`
		UseRRF     bool   `json:"use_rrf,omitempty"`
		ProtocolID string `json:"protocol_id,omitempty"`
		UserIntent string `json:"user_intent,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	resp, err := h.core.HybridQuery(ctx, req.Query, req.K, req.UseRRF, vectorindex.Filters{ProtocolID: req.ProtocolID}, req.UserIntent)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "hybrid query failed")
		slog.Error("hybrid query error", "query", req.Query, "error", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// GET /health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": fmt.Sprintf("%s", msg)})
}
