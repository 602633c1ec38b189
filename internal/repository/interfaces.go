package repository

import (
	"context"
	"errors"
	"time"

	"github.com/rpattn/tracelift/internal/domain"

	"github.com/google/uuid"
)

var (
	// ErrTracingNotFound indicates the tracing id resolves to no record.
	ErrTracingNotFound = errors.New("tracing not found")
	// ErrDuplicateTracing indicates a non-MISSING tracing already exists for
	// the (tenant, date) pair.
	ErrDuplicateTracing = errors.New("tracing already exists for tenant and date")
	// ErrVersionConflict indicates the expected version did not match the
	// stored one; stored state is untouched.
	ErrVersionConflict = errors.New("tracing version conflict")
	// ErrIllegalTransition indicates the requested state edge is not in the
	// allowed set.
	ErrIllegalTransition = errors.New("illegal tracing state transition")
)

// TracingRepository is the persistence port for tracings and their error
// sets. ApplyTransition is the compare-and-swap primitive: the version check,
// state update, and error-set replacement execute in one transaction, so
// partial writes are never observable.
type TracingRepository interface {
	Create(ctx context.Context, tracing domain.Tracing) (domain.Tracing, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.Tracing, error)
	GetByTenantAndDate(ctx context.Context, tenantID uuid.UUID, date time.Time) (domain.Tracing, error)
	ListByTenant(ctx context.Context, tenantID uuid.UUID, date *time.Time) ([]domain.Tracing, error)
	ApplyTransition(ctx context.Context, tracingID uuid.UUID, expectedVersion int, target domain.TracingState, errs []domain.PurposeError) (domain.Tracing, error)
	ListErrors(ctx context.Context, tracingID uuid.UUID) ([]domain.PurposeError, error)
	TenantsWithTracing(ctx context.Context, date time.Time) (map[uuid.UUID]struct{}, error)
	CreateMissing(ctx context.Context, tracing domain.Tracing) (bool, error)
}

// CatalogRepository loads the read-only lookup maps row validation runs
// against. The catalog tables are replicated from upstream platform events by
// an external collaborator.
type CatalogRepository interface {
	Purposes(ctx context.Context) (map[uuid.UUID]domain.Purpose, error)
	Eservices(ctx context.Context) (map[uuid.UUID]domain.Eservice, error)
	Tenants(ctx context.Context) (map[uuid.UUID]domain.Tenant, error)
}

// TenantRepository is the tenant-directory port consumed by the reconciler.
type TenantRepository interface {
	// ExpectedTenants returns the tenants with an active, enabled purpose as
	// of the given date.
	ExpectedTenants(ctx context.Context, date time.Time) ([]uuid.UUID, error)
}
