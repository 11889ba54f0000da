// Package httptransport is the thin HTTP layer over the reconciliation
// services. Handlers decode parameters, delegate, and translate domain
// errors; business logic stays in the services.
package httptransport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"lattice/internal/platform/middleware"
	"lattice/internal/reconcile/dedupe"
	"lattice/internal/reconcile/edges"
	"lattice/internal/reconcile/linker"
	"lattice/internal/reconcile/mirror"
	"lattice/internal/reconcile/snapshot"
	dErrors "lattice/pkg/domain-errors"
)

// MirrorService is the mirror operations consumed by the handler.
type MirrorService interface {
	Rebuild(ctx context.Context, params mirror.RebuildParams) (*mirror.RebuildResult, error)
	Diagnose(ctx context.Context, params mirror.DiagnosticsParams) (*mirror.Diagnostics, error)
}

// LinkerService is the linker operations consumed by the handler.
type LinkerService interface {
	Run(ctx context.Context, params linker.Params) (*linker.Summary, error)
	RunAll(ctx context.Context, tenantIDs []string) (*linker.Aggregate, error)
}

// DedupeService is the duplicate resolution operation consumed by the
// handler.
type DedupeService interface {
	Run(ctx context.Context, params dedupe.Params) (*dedupe.Result, error)
}

// SnapshotService is the snapshot sync operation consumed by the handler.
type SnapshotService interface {
	Run(ctx context.Context, params snapshot.Params) (*snapshot.Result, error)
}

// EdgeService is the edge materialization operation consumed by the handler.
type EdgeService interface {
	Run(ctx context.Context, params edges.Params) (*edges.Result, error)
}

// Handler exposes the operator operations.
type Handler struct {
	logger    *slog.Logger
	mirrors   MirrorService
	links     LinkerService
	dedupes   DedupeService
	snapshots SnapshotService
	edges     EdgeService
}

// NewHandler wires the operator handler.
func NewHandler(
	logger *slog.Logger,
	mirrors MirrorService,
	links LinkerService,
	dedupes DedupeService,
	snapshots SnapshotService,
	edgeSvc EdgeService,
) *Handler {
	return &Handler{
		logger:    logger,
		mirrors:   mirrors,
		links:     links,
		dedupes:   dedupes,
		snapshots: snapshots,
		edges:     edgeSvc,
	}
}

func (h *Handler) handleMirrorRebuild(w http.ResponseWriter, r *http.Request) {
	var params mirror.RebuildParams
	if !h.decode(w, r, &params) {
		return
	}
	result, err := h.mirrors.Rebuild(r.Context(), params)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleMirrorDiagnostics(w http.ResponseWriter, r *http.Request) {
	params := mirror.DiagnosticsParams{
		TenantID: r.URL.Query().Get("tenantId"),
		State:    r.URL.Query().Get("state"),
	}
	result, err := h.mirrors.Diagnose(r.Context(), params)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// linkRequest accepts either one tenant or a list.
type linkRequest struct {
	TenantID  string   `json:"tenantId,omitempty"`
	TenantIDs []string `json:"tenantIds,omitempty"`
}

func (h *Handler) handleLink(w http.ResponseWriter, r *http.Request) {
	var req linkRequest
	if !h.decode(w, r, &req) {
		return
	}
	tenantIDs := req.TenantIDs
	if req.TenantID != "" {
		tenantIDs = append(tenantIDs, req.TenantID)
	}
	result, err := h.links.RunAll(r.Context(), tenantIDs)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleDuplicates(w http.ResponseWriter, r *http.Request) {
	var params dedupe.Params
	if !h.decode(w, r, &params) {
		return
	}
	result, err := h.dedupes.Run(r.Context(), params)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	var params snapshot.Params
	if !h.decode(w, r, &params) {
		return
	}
	result, err := h.snapshots.Run(r.Context(), params)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleEdges(w http.ResponseWriter, r *http.Request) {
	var params edges.Params
	if !h.decode(w, r, &params) {
		return
	}
	result, err := h.edges.Run(r.Context(), params)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeError(w, r, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return false
	}
	return true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("failed to encode response", "error", err.Error())
	}
}

// writeError maps domain error codes to HTTP statuses. Only fatal conditions
// reach here; per-entity errors ride inside 200 results.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch dErrors.CodeOf(err) {
	case dErrors.CodeBadRequest:
		status = http.StatusBadRequest
	case dErrors.CodeNotFound:
		status = http.StatusNotFound
	case dErrors.CodeConflict:
		status = http.StatusConflict
	case dErrors.CodeUnavailable:
		status = http.StatusServiceUnavailable
	}
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "operator request failed",
			"request_id", middleware.GetRequestID(r.Context()),
			"path", r.URL.Path,
			"error", err.Error(),
		)
	}
	h.writeJSON(w, status, map[string]any{
		"success": false,
		"error":   err.Error(),
	})
}
