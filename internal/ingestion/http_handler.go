package ingestion

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rpattn/tracelift/internal/domain"
	"github.com/rpattn/tracelift/internal/repository"

	"github.com/google/uuid"
)

// Handler exposes upload acceptance as an HTTP endpoint: it creates the
// PENDING tracing for the tenant/day and runs the pipeline on the uploaded
// bytes.
type Handler struct {
	tracings repository.TracingRepository
	service  *Service
}

// NewHTTPHandler wraps the pipeline with a multipart POST endpoint.
func NewHTTPHandler(tracings repository.TracingRepository, service *Service) http.Handler {
	return &Handler{tracings: tracings, service: service}
}

type submitResponse struct {
	TracingID  uuid.UUID           `json:"tracingId"`
	State      domain.TracingState `json:"state"`
	Version    int                 `json:"version"`
	TotalRows  int                 `json:"totalRows"`
	ValidRows  int                 `json:"validRows"`
	ErrorCount int                 `json:"errorCount"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, fmt.Sprintf("invalid form data: %v", err), http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, fmt.Sprintf("file required: %v", err), http.StatusBadRequest)
		return
	}
	defer file.Close()

	tenantID, err := uuid.Parse(strings.TrimSpace(r.FormValue("tenantId")))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid tenant id: %v", err), http.StatusBadRequest)
		return
	}

	date, err := time.Parse(domain.DateLayout, strings.TrimSpace(r.FormValue("date")))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid date: %v", err), http.StatusBadRequest)
		return
	}

	payload, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to read file: %v", err), http.StatusBadRequest)
		return
	}

	tracing, err := h.tracings.Create(r.Context(), domain.NewTracing(tenantID, date))
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateTracing) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	result, err := h.service.Process(r.Context(), ProcessRequest{
		TracingID:       tracing.ID,
		TenantID:        tenantID,
		Date:            date,
		ExpectedVersion: tracing.Version,
		FileName:        header.Filename,
		Payload:         payload,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, submitResponse{
		TracingID:  tracing.ID,
		State:      result.State,
		Version:    result.Version,
		TotalRows:  result.TotalRows,
		ValidRows:  result.ValidRows,
		ErrorCount: result.ErrorCount,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
