package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rpattn/tracelift/internal/domain"
	"github.com/rpattn/tracelift/internal/lifecycle"
	"github.com/rpattn/tracelift/internal/repository"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
)

// TransitionApplier is the engine port the cancel endpoint drives.
type TransitionApplier interface {
	Apply(ctx context.Context, req lifecycle.TransitionRequest) (lifecycle.TransitionResult, error)
}

// DateReconciler is the reconciler port behind the manual trigger.
type DateReconciler interface {
	Reconcile(ctx context.Context, date time.Time) (int, error)
}

// Handler exposes the reporting and operator surface over HTTP.
type Handler struct {
	tracings   repository.TracingRepository
	engine     TransitionApplier
	reconciler DateReconciler
}

// NewHandler builds the API routes.
func NewHandler(tracings repository.TracingRepository, engine TransitionApplier, reconciler DateReconciler) http.Handler {
	h := &Handler{tracings: tracings, engine: engine, reconciler: reconciler}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /tracings/{id}", h.getTracing)
	mux.HandleFunc("GET /tracings/{id}/errors.xlsx", h.exportErrors)
	mux.HandleFunc("POST /tracings/{id}/cancel", h.cancelTracing)
	mux.HandleFunc("GET /tenants/{id}/tracings", h.listTenantTracings)
	mux.HandleFunc("POST /reconcile", h.reconcile)
	return mux
}

type errorResponse struct {
	PurposeID *uuid.UUID       `json:"purposeId,omitempty"`
	RowNumber int              `json:"rowNumber"`
	ErrorCode domain.ErrorCode `json:"errorCode"`
	Message   string           `json:"message"`
	Status    int              `json:"status,omitempty"`
	Version   int              `json:"version"`
}

type tracingResponse struct {
	TracingID uuid.UUID           `json:"tracingId"`
	TenantID  uuid.UUID           `json:"tenantId"`
	Date      string              `json:"date"`
	State     domain.TracingState `json:"state"`
	Version   int                 `json:"version"`
	Errors    []errorResponse     `json:"errors"`
}

func (h *Handler) getTracing(w http.ResponseWriter, r *http.Request) {
	tracing, ok := h.loadTracing(w, r)
	if !ok {
		return
	}

	errs, err := h.tracings.ListErrors(r.Context(), tracing.ID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, buildTracingResponse(tracing, errs))
}

func (h *Handler) listTenantTracings(w http.ResponseWriter, r *http.Request) {
	tenantID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid tenant id: %v", err), http.StatusBadRequest)
		return
	}

	var date *time.Time
	if raw := strings.TrimSpace(r.URL.Query().Get("date")); raw != "" {
		parsed, parseErr := time.Parse(domain.DateLayout, raw)
		if parseErr != nil {
			http.Error(w, fmt.Sprintf("invalid date: %v", parseErr), http.StatusBadRequest)
			return
		}
		date = &parsed
	}

	tracings, err := h.tracings.ListByTenant(r.Context(), tenantID, date)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	out := make([]tracingResponse, 0, len(tracings))
	for _, tracing := range tracings {
		out = append(out, buildTracingResponse(tracing, nil))
	}
	writeJSON(w, http.StatusOK, out)
}

type cancelRequest struct {
	ExpectedVersion int `json:"expectedVersion"`
}

func (h *Handler) cancelTracing(w http.ResponseWriter, r *http.Request) {
	tracing, ok := h.loadTracing(w, r)
	if !ok {
		return
	}

	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	result, err := h.engine.Apply(r.Context(), lifecycle.TransitionRequest{
		TracingID:       tracing.ID,
		ExpectedVersion: req.ExpectedVersion,
		TargetState:     domain.TracingStateCancelled,
	})
	if err != nil {
		// Losing the version race means the pipeline already resolved the
		// tracing; surface it as a conflict, not a retryable failure.
		if errors.Is(err, lifecycle.ErrConcurrentModification) || errors.Is(err, lifecycle.ErrInvalidTransition) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"tracingId": tracing.ID,
		"state":     domain.TracingStateCancelled,
		"version":   result.NewVersion,
	})
}

func (h *Handler) reconcile(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.URL.Query().Get("date"))
	if raw == "" {
		http.Error(w, "date query parameter is required", http.StatusBadRequest)
		return
	}
	date, err := time.Parse(domain.DateLayout, raw)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid date: %v", err), http.StatusBadRequest)
		return
	}

	created, err := h.reconciler.Reconcile(r.Context(), date)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"date":    date.Format(domain.DateLayout),
		"created": created,
	})
}

func (h *Handler) exportErrors(w http.ResponseWriter, r *http.Request) {
	tracing, ok := h.loadTracing(w, r)
	if !ok {
		return
	}

	errs, err := h.tracings.ListErrors(r.Context(), tracing.ID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sheet := "Errors"
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	headers := []string{"Row", "Error Code", "Purpose", "Status", "Message", "Version"}
	for idx, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(idx+1, 1)
		_ = f.SetCellValue(sheet, cell, header)
	}

	for rowIdx, entry := range errs {
		purpose := ""
		if entry.PurposeID != nil {
			purpose = entry.PurposeID.String()
		}
		values := []any{entry.RowNumber, string(entry.ErrorCode), purpose, entry.Status, entry.Message, entry.Version}
		for colIdx, value := range values {
			cell, _ := excelize.CoordinatesToCellName(colIdx+1, rowIdx+2)
			_ = f.SetCellValue(sheet, cell, value)
		}
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", tracing.ID.String()+"-errors.xlsx"))
	if err := f.Write(w); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (h *Handler) loadTracing(w http.ResponseWriter, r *http.Request) (domain.Tracing, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid tracing id: %v", err), http.StatusBadRequest)
		return domain.Tracing{}, false
	}

	tracing, err := h.tracings.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrTracingNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return domain.Tracing{}, false
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return domain.Tracing{}, false
	}

	return tracing, true
}

func buildTracingResponse(tracing domain.Tracing, errs []domain.PurposeError) tracingResponse {
	out := tracingResponse{
		TracingID: tracing.ID,
		TenantID:  tracing.TenantID,
		Date:      tracing.Date.Format(domain.DateLayout),
		State:     tracing.State,
		Version:   tracing.Version,
		Errors:    []errorResponse{},
	}
	for _, entry := range errs {
		out.Errors = append(out.Errors, errorResponse{
			PurposeID: entry.PurposeID,
			RowNumber: entry.RowNumber,
			ErrorCode: entry.ErrorCode,
			Message:   entry.Message,
			Status:    entry.Status,
			Version:   entry.Version,
		})
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
