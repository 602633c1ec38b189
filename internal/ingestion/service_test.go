package ingestion

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rpattn/tracelift/internal/domain"
	"github.com/rpattn/tracelift/internal/lifecycle"

	"github.com/google/uuid"
)

type stubCatalog struct {
	purposes  map[uuid.UUID]domain.Purpose
	eservices map[uuid.UUID]domain.Eservice
	tenants   map[uuid.UUID]domain.Tenant
}

func (s *stubCatalog) Purposes(ctx context.Context) (map[uuid.UUID]domain.Purpose, error) {
	return s.purposes, nil
}

func (s *stubCatalog) Eservices(ctx context.Context) (map[uuid.UUID]domain.Eservice, error) {
	return s.eservices, nil
}

func (s *stubCatalog) Tenants(ctx context.Context) (map[uuid.UUID]domain.Tenant, error) {
	return s.tenants, nil
}

type stubEngine struct {
	applied []lifecycle.TransitionRequest
	err     error
}

func (s *stubEngine) Apply(ctx context.Context, req lifecycle.TransitionRequest) (lifecycle.TransitionResult, error) {
	s.applied = append(s.applied, req)
	if s.err != nil {
		return lifecycle.TransitionResult{}, s.err
	}
	return lifecycle.TransitionResult{NewVersion: req.ExpectedVersion + 1}, nil
}

type stubFetcher struct {
	payload  []byte
	fileName string
	err      error
}

func (s *stubFetcher) FetchFile(ctx context.Context, tracingID uuid.UUID) ([]byte, string, error) {
	return s.payload, s.fileName, s.err
}

func pipelineFixture() (*stubCatalog, uuid.UUID, domain.Purpose) {
	tenantID := uuid.New()
	producerID := uuid.New()

	eservice := domain.Eservice{ID: uuid.New(), ProducerID: producerID, Name: "usage-api"}
	purpose := domain.Purpose{
		ID:         uuid.New(),
		EserviceID: eservice.ID,
		ConsumerID: tenantID,
		Active:     true,
		ValidFrom:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	catalog := &stubCatalog{
		purposes:  map[uuid.UUID]domain.Purpose{purpose.ID: purpose},
		eservices: map[uuid.UUID]domain.Eservice{eservice.ID: eservice},
		tenants: map[uuid.UUID]domain.Tenant{
			tenantID:   {ID: tenantID},
			producerID: {ID: producerID},
		},
	}
	return catalog, tenantID, purpose
}

func csvPayload(rows ...string) []byte {
	payload := "date,purpose_id,status,requests_count\n"
	for _, row := range rows {
		payload += row + "\n"
	}
	return []byte(payload)
}

func TestProcessCompletesValidFile(t *testing.T) {
	catalog, tenantID, purpose := pipelineFixture()
	engine := &stubEngine{}
	service := NewService(catalog, engine, WithRowParallelism(2))

	result, err := service.Process(context.Background(), ProcessRequest{
		TracingID: uuid.New(),
		TenantID:  tenantID,
		Date:      time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		FileName:  "report.csv",
		Payload: csvPayload(
			fmt.Sprintf("2024-05-01,%s,200,5", purpose.ID),
			fmt.Sprintf("2024-05-01,%s,404,2", purpose.ID),
		),
	})
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}

	if result.State != domain.TracingStateCompleted {
		t.Fatalf("expected COMPLETED, got %s", result.State)
	}
	if result.TotalRows != 2 || result.ValidRows != 2 || result.ErrorCount != 0 {
		t.Fatalf("unexpected counts: %+v", result)
	}
	if result.Version != 1 {
		t.Fatalf("expected version 1, got %d", result.Version)
	}

	if len(engine.applied) != 1 {
		t.Fatalf("expected one transition, got %d", len(engine.applied))
	}
	if engine.applied[0].TargetState != domain.TracingStateCompleted {
		t.Fatalf("expected COMPLETED transition, got %s", engine.applied[0].TargetState)
	}
	if len(engine.applied[0].Errors) != 0 {
		t.Fatalf("completed transition must carry no errors, got %d", len(engine.applied[0].Errors))
	}
}

func TestProcessRecordsRowErrors(t *testing.T) {
	catalog, tenantID, purpose := pipelineFixture()
	engine := &stubEngine{}
	service := NewService(catalog, engine)

	result, err := service.Process(context.Background(), ProcessRequest{
		TracingID: uuid.New(),
		TenantID:  tenantID,
		Date:      time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		FileName:  "report.csv",
		Payload: csvPayload(
			fmt.Sprintf("2024-05-01,%s,200,5", purpose.ID),
			fmt.Sprintf("2024-05-02,%s,200,5", purpose.ID),
			fmt.Sprintf("2024-05-01,%s,200,3", purpose.ID),
		),
	})
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}

	if result.State != domain.TracingStateError {
		t.Fatalf("expected ERROR, got %s", result.State)
	}
	if result.ErrorCount != 2 {
		t.Fatalf("expected 2 errors, got %d", result.ErrorCount)
	}

	errs := engine.applied[0].Errors
	if errs[0].RowNumber != 2 || errs[0].ErrorCode != domain.ErrorCodeInvalidDate {
		t.Fatalf("expected INVALID_DATE at row 2, got %s at row %d", errs[0].ErrorCode, errs[0].RowNumber)
	}
	if errs[1].RowNumber != 3 || errs[1].ErrorCode != domain.ErrorCodePurposeAndStatusNotUnique {
		t.Fatalf("expected PURPOSE_AND_STATUS_NOT_UNIQUE at row 3, got %s at row %d", errs[1].ErrorCode, errs[1].RowNumber)
	}
}

func TestProcessDecodeFailureBecomesFileError(t *testing.T) {
	catalog, tenantID, _ := pipelineFixture()
	engine := &stubEngine{}
	service := NewService(catalog, engine)

	result, err := service.Process(context.Background(), ProcessRequest{
		TracingID: uuid.New(),
		TenantID:  tenantID,
		Date:      time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		FileName:  "report.csv",
		Payload:   []byte("date,purpose_id,status\n2024-05-01,x,200\n"),
	})
	if err != nil {
		t.Fatalf("decode failure must not abort the pipeline: %v", err)
	}

	if result.State != domain.TracingStateError {
		t.Fatalf("expected ERROR, got %s", result.State)
	}
	if result.ErrorCount != 1 {
		t.Fatalf("expected single file-level error, got %d", result.ErrorCount)
	}

	errs := engine.applied[0].Errors
	if len(errs) != 1 || errs[0].RowNumber != 0 || errs[0].ErrorCode != domain.ErrorCodeInvalidRowSchema {
		t.Fatalf("expected INVALID_ROW_SCHEMA at row 0, got %+v", errs)
	}
}

func TestProcessEmptyFileBecomesError(t *testing.T) {
	catalog, tenantID, _ := pipelineFixture()
	engine := &stubEngine{}
	service := NewService(catalog, engine)

	result, err := service.Process(context.Background(), ProcessRequest{
		TracingID: uuid.New(),
		TenantID:  tenantID,
		Date:      time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		FileName:  "report.csv",
		Payload:   []byte("date,purpose_id,status,requests_count\n"),
	})
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}

	if result.State != domain.TracingStateError {
		t.Fatalf("expected ERROR, got %s", result.State)
	}
	errs := engine.applied[0].Errors
	if len(errs) != 1 || errs[0].RowNumber != 0 {
		t.Fatalf("expected single row-0 error for empty file, got %+v", errs)
	}
}

func TestProcessFetchesPayloadWhenMissing(t *testing.T) {
	catalog, tenantID, purpose := pipelineFixture()
	engine := &stubEngine{}
	fetcher := &stubFetcher{
		payload:  csvPayload(fmt.Sprintf("2024-05-01,%s,200,5", purpose.ID)),
		fileName: "report.csv",
	}
	service := NewService(catalog, engine, WithFileFetcher(fetcher))

	result, err := service.Process(context.Background(), ProcessRequest{
		TracingID: uuid.New(),
		TenantID:  tenantID,
		Date:      time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if result.State != domain.TracingStateCompleted {
		t.Fatalf("expected COMPLETED, got %s", result.State)
	}
}

func TestProcessFetchFailurePropagates(t *testing.T) {
	catalog, tenantID, _ := pipelineFixture()
	engine := &stubEngine{}
	fetcher := &stubFetcher{err: errors.New("bucket unavailable")}
	service := NewService(catalog, engine, WithFileFetcher(fetcher))

	_, err := service.Process(context.Background(), ProcessRequest{
		TracingID: uuid.New(),
		TenantID:  tenantID,
		Date:      time.Now(),
	})
	if err == nil {
		t.Fatal("expected fetch failure to propagate as retryable")
	}
	if len(engine.applied) != 0 {
		t.Fatal("no transition may be applied when the file could not be fetched")
	}
}

func TestProcessEnginePropagatesConcurrency(t *testing.T) {
	catalog, tenantID, purpose := pipelineFixture()
	engine := &stubEngine{err: lifecycle.ErrConcurrentModification}
	service := NewService(catalog, engine)

	_, err := service.Process(context.Background(), ProcessRequest{
		TracingID: uuid.New(),
		TenantID:  tenantID,
		Date:      time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		FileName:  "report.csv",
		Payload:   csvPayload(fmt.Sprintf("2024-05-01,%s,200,5", purpose.ID)),
	})
	if !errors.Is(err, lifecycle.ErrConcurrentModification) {
		t.Fatalf("expected ErrConcurrentModification, got %v", err)
	}
}
