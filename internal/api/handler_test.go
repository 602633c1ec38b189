package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rpattn/tracelift/internal/domain"
	"github.com/rpattn/tracelift/internal/lifecycle"
	"github.com/rpattn/tracelift/internal/repository"

	"github.com/google/uuid"
)

type stubTracings struct {
	tracing  domain.Tracing
	errors   []domain.PurposeError
	byTenant []domain.Tracing
}

func (s *stubTracings) Create(ctx context.Context, tracing domain.Tracing) (domain.Tracing, error) {
	return tracing, nil
}

func (s *stubTracings) GetByID(ctx context.Context, id uuid.UUID) (domain.Tracing, error) {
	if id != s.tracing.ID {
		return domain.Tracing{}, repository.ErrTracingNotFound
	}
	return s.tracing, nil
}

func (s *stubTracings) GetByTenantAndDate(ctx context.Context, tenantID uuid.UUID, date time.Time) (domain.Tracing, error) {
	return domain.Tracing{}, repository.ErrTracingNotFound
}

func (s *stubTracings) ListByTenant(ctx context.Context, tenantID uuid.UUID, date *time.Time) ([]domain.Tracing, error) {
	return s.byTenant, nil
}

func (s *stubTracings) ApplyTransition(ctx context.Context, tracingID uuid.UUID, expectedVersion int, target domain.TracingState, errs []domain.PurposeError) (domain.Tracing, error) {
	return domain.Tracing{}, repository.ErrVersionConflict
}

func (s *stubTracings) ListErrors(ctx context.Context, tracingID uuid.UUID) ([]domain.PurposeError, error) {
	return s.errors, nil
}

func (s *stubTracings) TenantsWithTracing(ctx context.Context, date time.Time) (map[uuid.UUID]struct{}, error) {
	return map[uuid.UUID]struct{}{}, nil
}

func (s *stubTracings) CreateMissing(ctx context.Context, tracing domain.Tracing) (bool, error) {
	return true, nil
}

type stubApplier struct {
	result lifecycle.TransitionResult
	err    error
	last   lifecycle.TransitionRequest
}

func (s *stubApplier) Apply(ctx context.Context, req lifecycle.TransitionRequest) (lifecycle.TransitionResult, error) {
	s.last = req
	return s.result, s.err
}

type stubReconciler struct {
	created int
	err     error
	date    time.Time
}

func (s *stubReconciler) Reconcile(ctx context.Context, date time.Time) (int, error) {
	s.date = date
	return s.created, s.err
}

func fixtureTracing() domain.Tracing {
	return domain.Tracing{
		ID:       uuid.New(),
		TenantID: uuid.New(),
		Date:     time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		State:    domain.TracingStateError,
		Version:  1,
	}
}

func TestGetTracing(t *testing.T) {
	tracing := fixtureTracing()
	purposeID := uuid.New()
	repo := &stubTracings{
		tracing: tracing,
		errors: []domain.PurposeError{
			domain.NewPurposeError(tracing.ID, domain.ErrorCodeInvalidDate, "mismatch", 2, tracing.Date).
				WithPurpose(purposeID).WithStatus(200),
		},
	}
	handler := NewHandler(repo, &stubApplier{}, &stubReconciler{})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tracings/"+tracing.ID.String(), nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var body tracingResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.TracingID != tracing.ID || body.State != domain.TracingStateError || body.Version != 1 {
		t.Fatalf("unexpected response: %+v", body)
	}
	if len(body.Errors) != 1 || body.Errors[0].ErrorCode != domain.ErrorCodeInvalidDate {
		t.Fatalf("unexpected errors: %+v", body.Errors)
	}
	if body.Date != "2024-05-01" {
		t.Fatalf("unexpected date: %s", body.Date)
	}
}

func TestGetTracingNotFound(t *testing.T) {
	handler := NewHandler(&stubTracings{tracing: fixtureTracing()}, &stubApplier{}, &stubReconciler{})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tracings/"+uuid.NewString(), nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestGetTracingInvalidID(t *testing.T) {
	handler := NewHandler(&stubTracings{tracing: fixtureTracing()}, &stubApplier{}, &stubReconciler{})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tracings/not-a-uuid", nil))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestCancelTracing(t *testing.T) {
	tracing := fixtureTracing()
	tracing.State = domain.TracingStatePending
	tracing.Version = 0
	applier := &stubApplier{result: lifecycle.TransitionResult{NewVersion: 1}}
	handler := NewHandler(&stubTracings{tracing: tracing}, applier, &stubReconciler{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/tracings/"+tracing.ID.String()+"/cancel",
		strings.NewReader(`{"expectedVersion":0}`))
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if applier.last.TargetState != domain.TracingStateCancelled {
		t.Fatalf("expected CANCELLED transition, got %s", applier.last.TargetState)
	}
	if applier.last.ExpectedVersion != 0 {
		t.Fatalf("expected version 0 passed through, got %d", applier.last.ExpectedVersion)
	}
}

func TestCancelTracingLostRace(t *testing.T) {
	tracing := fixtureTracing()
	applier := &stubApplier{err: lifecycle.ErrConcurrentModification}
	handler := NewHandler(&stubTracings{tracing: tracing}, applier, &stubReconciler{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/tracings/"+tracing.ID.String()+"/cancel",
		strings.NewReader(`{"expectedVersion":0}`))
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestReconcileEndpoint(t *testing.T) {
	reconciler := &stubReconciler{created: 3}
	handler := NewHandler(&stubTracings{tracing: fixtureTracing()}, &stubApplier{}, reconciler)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/reconcile?date=2024-05-01", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["created"] != float64(3) {
		t.Fatalf("unexpected created count: %v", body["created"])
	}
	if !reconciler.date.Equal(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected reconcile date: %s", reconciler.date)
	}
}

func TestReconcileRequiresDate(t *testing.T) {
	handler := NewHandler(&stubTracings{tracing: fixtureTracing()}, &stubApplier{}, &stubReconciler{})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/reconcile", nil))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestListTenantTracings(t *testing.T) {
	tracing := fixtureTracing()
	handler := NewHandler(&stubTracings{tracing: tracing, byTenant: []domain.Tracing{tracing}}, &stubApplier{}, &stubReconciler{})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/tenants/"+tracing.TenantID.String()+"/tracings?date=2024-05-01", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var body []tracingResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body) != 1 || body[0].TracingID != tracing.ID {
		t.Fatalf("unexpected response: %+v", body)
	}
}

func TestExportErrorsContentType(t *testing.T) {
	tracing := fixtureTracing()
	repo := &stubTracings{
		tracing: tracing,
		errors: []domain.PurposeError{
			domain.NewPurposeError(tracing.ID, domain.ErrorCodeInvalidStatusCode, "bad status", 1, tracing.Date),
		},
	}
	handler := NewHandler(repo, &stubApplier{}, &stubReconciler{})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/tracings/"+tracing.ID.String()+"/errors.xlsx", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); !strings.Contains(got, "spreadsheetml") {
		t.Fatalf("unexpected content type: %s", got)
	}
	if rec.Body.Len() == 0 {
		t.Fatal("expected workbook bytes")
	}
}
