package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/rpattn/tracelift/internal/domain"
	"github.com/rpattn/tracelift/internal/lifecycle"
	"github.com/rpattn/tracelift/internal/repository"
	"github.com/rpattn/tracelift/internal/validation"

	"github.com/google/uuid"
)

const defaultRowParallelism = 8

// TransitionApplier is the state transition engine port the pipeline drives.
type TransitionApplier interface {
	Apply(ctx context.Context, req lifecycle.TransitionRequest) (lifecycle.TransitionResult, error)
}

// FileFetcher is the object-storage ingestion port. It returns the raw file
// bytes and the stored file name for a tracing.
type FileFetcher interface {
	FetchFile(ctx context.Context, tracingID uuid.UUID) ([]byte, string, error)
}

// Service is the pipeline orchestrator: decode, per-row validation,
// aggregation, state transition. It is the single entry point queue handlers
// call.
type Service struct {
	catalog     repository.CatalogRepository
	engine      TransitionApplier
	files       FileFetcher
	parallelism int
}

// Option customizes the pipeline service.
type Option func(*Service)

// WithRowParallelism bounds the row validation worker pool.
func WithRowParallelism(workers int) Option {
	return func(s *Service) {
		if workers > 0 {
			s.parallelism = workers
		}
	}
}

// WithFileFetcher attaches the object-storage port used when a process
// request carries no payload.
func WithFileFetcher(files FileFetcher) Option {
	return func(s *Service) {
		s.files = files
	}
}

// NewService wires the pipeline orchestrator.
func NewService(catalog repository.CatalogRepository, engine TransitionApplier, opts ...Option) *Service {
	service := &Service{
		catalog:     catalog,
		engine:      engine,
		parallelism: defaultRowParallelism,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

// ProcessRequest identifies one tracing file to run through the pipeline.
// Payload may be nil, in which case the file is fetched through the
// object-storage port.
type ProcessRequest struct {
	TracingID       uuid.UUID
	TenantID        uuid.UUID
	Date            time.Time
	ExpectedVersion int
	FileName        string
	Payload         []byte
}

// ProcessResult summarizes the applied outcome.
type ProcessResult struct {
	State      domain.TracingState
	Version    int
	Replayed   bool
	TotalRows  int
	ValidRows  int
	ErrorCount int
}

// Process runs one tracing end-to-end. Individual row failures never abort
// the file; a decode failure maps to a single ERROR transition with one
// file-level error at row 0. Infrastructure failures propagate to the caller
// as retryable errors.
func (s *Service) Process(ctx context.Context, req ProcessRequest) (ProcessResult, error) {
	if req.TracingID == uuid.Nil {
		return ProcessResult{}, errors.New("tracing id is required")
	}
	if req.TenantID == uuid.Nil {
		return ProcessResult{}, errors.New("tenant id is required")
	}

	payload := req.Payload
	fileName := req.FileName
	if payload == nil {
		if s.files == nil {
			return ProcessResult{}, errors.New("no payload supplied and no file fetcher configured")
		}
		fetched, name, err := s.files.FetchFile(ctx, req.TracingID)
		if err != nil {
			return ProcessResult{}, fmt.Errorf("fetch file for tracing %s: %w", req.TracingID, err)
		}
		payload = fetched
		if fileName == "" {
			fileName = name
		}
	}

	rows, err := Decode(fileName, payload)
	if err != nil {
		log.Printf("[PIPELINE] tracing %s: decode failed: %v", req.TracingID, err)
		return s.applyFileError(ctx, req, err)
	}

	vctx, err := s.loadContext(ctx, req)
	if err != nil {
		return ProcessResult{}, err
	}

	outcomes := s.validateRows(rows, vctx)
	outcomes = validation.MarkDuplicates(outcomes)

	aggregate := Aggregate(req.TracingID, req.Date, outcomes)

	result, err := s.engine.Apply(ctx, lifecycle.TransitionRequest{
		TracingID:       req.TracingID,
		ExpectedVersion: req.ExpectedVersion,
		TargetState:     aggregate.FinalState,
		Errors:          aggregate.Errors,
	})
	if err != nil {
		return ProcessResult{}, err
	}

	log.Printf("[PIPELINE] tracing %s: %d rows, %d valid, %d errors -> %s (version %d)",
		req.TracingID, aggregate.TotalRows, aggregate.ValidRows, len(aggregate.Errors),
		aggregate.FinalState, result.NewVersion)

	return ProcessResult{
		State:      aggregate.FinalState,
		Version:    result.NewVersion,
		Replayed:   result.Replayed,
		TotalRows:  aggregate.TotalRows,
		ValidRows:  aggregate.ValidRows,
		ErrorCount: len(aggregate.Errors),
	}, nil
}

// applyFileError records a malformed file as one ERROR transition with a
// single file-level error, distinguished from per-row failures by row 0.
func (s *Service) applyFileError(ctx context.Context, req ProcessRequest, decodeErr error) (ProcessResult, error) {
	fileError := domain.NewPurposeError(
		req.TracingID, domain.ErrorCodeInvalidRowSchema, decodeErr.Error(), 0, req.Date)

	result, err := s.engine.Apply(ctx, lifecycle.TransitionRequest{
		TracingID:       req.TracingID,
		ExpectedVersion: req.ExpectedVersion,
		TargetState:     domain.TracingStateError,
		Errors:          []domain.PurposeError{fileError},
	})
	if err != nil {
		return ProcessResult{}, err
	}

	return ProcessResult{
		State:      domain.TracingStateError,
		Version:    result.NewVersion,
		Replayed:   result.Replayed,
		ErrorCount: 1,
	}, nil
}

func (s *Service) loadContext(ctx context.Context, req ProcessRequest) (validation.Context, error) {
	purposes, err := s.catalog.Purposes(ctx)
	if err != nil {
		return validation.Context{}, fmt.Errorf("load purposes: %w", err)
	}
	eservices, err := s.catalog.Eservices(ctx)
	if err != nil {
		return validation.Context{}, fmt.Errorf("load eservices: %w", err)
	}
	tenants, err := s.catalog.Tenants(ctx)
	if err != nil {
		return validation.Context{}, fmt.Errorf("load tenants: %w", err)
	}

	return validation.Context{
		TenantID:  req.TenantID,
		Date:      domain.NormalizeDate(req.Date),
		Purposes:  purposes,
		Eservices: eservices,
		Tenants:   tenants,
	}, nil
}

// validateRows fans row validation out over a bounded worker pool and joins
// before returning. No row depends on another, so validation order is free;
// outcomes are written position-indexed, which keeps the joined sequence in
// source row order for the aggregation pass.
func (s *Service) validateRows(rows []validation.RawRow, vctx validation.Context) []validation.RowOutcome {
	outcomes := make([]validation.RowOutcome, len(rows))
	if len(rows) == 0 {
		return outcomes
	}

	workers := s.parallelism
	if workers > len(rows) {
		workers = len(rows)
	}

	indexes := make(chan int)
	var wg sync.WaitGroup
	wg.Add(workers)

	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := range indexes {
				outcomes[i] = validation.Validate(rows[i], vctx)
			}
		}()
	}

	for i := range rows {
		indexes <- i
	}
	close(indexes)

	// Collection barrier: aggregation needs the complete outcome set.
	wg.Wait()

	return outcomes
}
