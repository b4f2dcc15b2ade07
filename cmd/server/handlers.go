package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/llmc-dev/rag-core"
)

type handler struct {
	engine *goreason.Engine
}

func newHandler(e *goreason.Engine) *handler {
	return &handler{engine: e}
}

// GET /health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	health, err := h.engine.Health(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, health)
}

// POST /repos
func (h *handler) handleRegisterRepo(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     string `json:"id"`
		Root   string `json:"root"`
		Domain string `json:"domain"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.ID == "" || req.Root == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "id and root are required"})
		return
	}

	repo, err := h.engine.OpenRepo(r.Context(), req.ID, req.Root, req.Domain)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		slog.Error("open repo", "id", req.ID, "root", req.Root, "error", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": repo.ID, "root": repo.Layout.RepoRoot})
}

// DELETE /repos/{id}
func (h *handler) handleUnregisterRepo(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.engine.CloseRepo(id); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if err := h.engine.Unregister(id); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "unregistered"})
}

// GET /repos/{id}/status
func (h *handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	repo, ok := h.repo(w, r)
	if !ok {
		return
	}
	status, err := repo.Status()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// POST /repos/{id}/full-index
func (h *handler) handleFullIndex(w http.ResponseWriter, r *http.Request) {
	repo, ok := h.repo(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Minute)
	defer cancel()

	stats, err := repo.FullIndex(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		slog.Error("full index", "repo", repo.ID, "error", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// POST /repos/{id}/sync
func (h *handler) handleIncrementalSync(w http.ResponseWriter, r *http.Request) {
	repo, ok := h.repo(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Minute)
	defer cancel()

	stats, err := repo.IncrementalSync(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		slog.Error("incremental sync", "repo", repo.ID, "error", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// POST /repos/{id}/embed
func (h *handler) handleEmbedBatch(w http.ResponseWriter, r *http.Request) {
	repo, ok := h.repo(w, r)
	if !ok {
		return
	}
	limit := batchLimit(r, 200)

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Minute)
	defer cancel()

	n, err := repo.EmbedBatch(ctx, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		slog.Error("embed batch", "repo", repo.ID, "error", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"embedded": n})
}

// POST /repos/{id}/enrich
func (h *handler) handleEnrichBatch(w http.ResponseWriter, r *http.Request) {
	repo, ok := h.repo(w, r)
	if !ok {
		return
	}
	limit := batchLimit(r, 50)

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Minute)
	defer cancel()

	report, err := repo.EnrichBatch(ctx, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		slog.Error("enrich batch", "repo", repo.ID, "error", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// GET /repos/{id}/consistency
func (h *handler) handleConsistencyScan(w http.ResponseWriter, r *http.Request) {
	repo, ok := h.repo(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	report, err := repo.ConsistencyScan(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// POST /repos/{id}/reset-poisoned/{span}
func (h *handler) handleResetPoisoned(w http.ResponseWriter, r *http.Request) {
	repo, ok := h.repo(w, r)
	if !ok {
		return
	}
	span := r.PathValue("span")
	if err := repo.ResetPoisoned(r.Context(), span); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset", "span": span})
}

// POST /repos/{id}/query
func (h *handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	repo, ok := h.repo(w, r)
	if !ok {
		return
	}

	var req struct {
		Query  string `json:"query"`
		Budget int    `json:"budget,omitempty"` // max combined character length of returned spans
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Query == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "query is required"})
		return
	}
	if req.Budget <= 0 {
		req.Budget = 8000
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	results, err := repo.Query(ctx, req.Query, req.Budget)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		slog.Error("query", "repo", repo.ID, "error", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// repo resolves {id} to an open *goreason.Repo, writing a 404 and returning
// ok=false if it isn't registered with this process.
func (h *handler) repo(w http.ResponseWriter, r *http.Request) (*goreason.Repo, bool) {
	id := r.PathValue("id")
	repo, ok := h.engine.Repo(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "repo not registered: " + id})
		return nil, false
	}
	return repo, true
}

func batchLimit(r *http.Request, def int) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError classifies err into a behavior kind and writes both the
// classified HTTP status and the underlying message, falling back to
// status when the kind maps to nothing more specific.
func writeError(w http.ResponseWriter, status int, err error) {
	kind := goreason.Classify(err)
	if mapped := httpStatusForKind(kind); mapped != 0 {
		status = mapped
	}
	writeJSON(w, status, map[string]string{"error": err.Error(), "kind": string(kind)})
}

// httpStatusForKind maps a classified error kind to the HTTP status an ops
// caller should see, independent of ExitCode's CLI-exit-code mapping in
// errors.go. Returns 0 for kinds with no more specific status than the
// caller-supplied default.
func httpStatusForKind(kind goreason.ErrorKind) int {
	switch kind {
	case goreason.KindPathEscape:
		return http.StatusBadRequest
	case goreason.KindUnknownSpan, goreason.KindUnknownFile:
		return http.StatusNotFound
	case goreason.KindStaleIndex:
		return http.StatusConflict
	case goreason.KindBudgetExceeded:
		return http.StatusTooManyRequests
	case goreason.KindBackendExhausted, goreason.KindCircuitOpen, goreason.KindQuotaExceeded:
		return http.StatusServiceUnavailable
	case goreason.KindAuthDenied:
		return http.StatusUnauthorized
	default:
		return 0
	}
}
