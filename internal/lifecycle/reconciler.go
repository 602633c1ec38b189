package lifecycle

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/rpattn/tracelift/internal/domain"
	"github.com/rpattn/tracelift/internal/repository"
)

// Reconciler materializes MISSING tracings for tenants that were expected to
// submit for a date but never did. It is safe to re-run for the same date:
// tenants that already have any record for the day are subtracted first, and
// each insert is additionally guarded by a create-if-absent write.
type Reconciler struct {
	tenants    repository.TenantRepository
	tracings   repository.TracingRepository
	runTimeout time.Duration
}

const defaultRunTimeout = 5 * time.Minute

// ReconcilerOption customizes the reconciler.
type ReconcilerOption func(*Reconciler)

// WithRunTimeout bounds each scheduled reconciliation pass.
func WithRunTimeout(timeout time.Duration) ReconcilerOption {
	return func(r *Reconciler) {
		if timeout > 0 {
			r.runTimeout = timeout
		}
	}
}

// NewReconciler wires the missing-tracing reconciler.
func NewReconciler(tenants repository.TenantRepository, tracings repository.TracingRepository, opts ...ReconcilerOption) *Reconciler {
	reconciler := &Reconciler{
		tenants:    tenants,
		tracings:   tracings,
		runTimeout: defaultRunTimeout,
	}
	for _, opt := range opts {
		opt(reconciler)
	}
	return reconciler
}

// Reconcile creates MISSING records for the gap between the expected tenant
// set and the tenants with a recorded tracing, returning how many were
// created.
func (r *Reconciler) Reconcile(ctx context.Context, date time.Time) (int, error) {
	date = domain.NormalizeDate(date)

	expected, err := r.tenants.ExpectedTenants(ctx, date)
	if err != nil {
		return 0, fmt.Errorf("load expected tenants: %w", err)
	}

	recorded, err := r.tracings.TenantsWithTracing(ctx, date)
	if err != nil {
		return 0, fmt.Errorf("load recorded tenants: %w", err)
	}

	created := 0
	for _, tenantID := range expected {
		if _, ok := recorded[tenantID]; ok {
			continue
		}

		inserted, err := r.tracings.CreateMissing(ctx, domain.NewMissingTracing(tenantID, date))
		if err != nil {
			return created, fmt.Errorf("create missing tracing for tenant %s: %w", tenantID, err)
		}
		if inserted {
			created++
		}
	}

	log.Printf("[RECONCILER] date %s: %d expected, %d recorded, %d missing created",
		date.Format(domain.DateLayout), len(expected), len(recorded), created)
	return created, nil
}

// RunDaily reconciles the previous day once per day boundary until the
// context is cancelled. Intended to be started from main as a goroutine.
func (r *Reconciler) RunDaily(ctx context.Context) {
	for {
		next := domain.NormalizeDate(time.Now().UTC()).AddDate(0, 0, 1)
		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			r.reconcilePrevious(ctx, next)
		}
	}
}

// reconcilePrevious runs one bounded pass for the day before the boundary. A
// hung store call must never stall the scheduler loop past the run budget.
func (r *Reconciler) reconcilePrevious(ctx context.Context, boundary time.Time) {
	runCtx, cancel := context.WithTimeout(ctx, r.runTimeout)
	defer cancel()

	yesterday := domain.NormalizeDate(boundary).AddDate(0, 0, -1)
	if _, err := r.Reconcile(runCtx, yesterday); err != nil {
		log.Printf("[RECONCILER] reconcile %s failed: %v", yesterday.Format(domain.DateLayout), err)
	}
}
