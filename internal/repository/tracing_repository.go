package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rpattn/tracelift/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

type tracingRepository struct {
	pool *pgxpool.Pool
}

// NewTracingRepository wires a repository backed by pgxpool.
func NewTracingRepository(pool *pgxpool.Pool) TracingRepository {
	return &tracingRepository{pool: pool}
}

func (r *tracingRepository) Create(ctx context.Context, tracing domain.Tracing) (domain.Tracing, error) {
	if r.pool == nil {
		return domain.Tracing{}, errors.New("tracing repository not initialized")
	}

	var exists bool
	err := r.pool.QueryRow(
		ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM tracings
		   WHERE tenant_id = $1 AND date = $2 AND state <> 'MISSING'
		 )`,
		tracing.TenantID,
		tracing.Date,
	).Scan(&exists)
	if err != nil {
		return domain.Tracing{}, fmt.Errorf("check existing tracing: %w", err)
	}
	if exists {
		return domain.Tracing{}, fmt.Errorf("%w: tenant %s date %s",
			ErrDuplicateTracing, tracing.TenantID, tracing.Date.Format(domain.DateLayout))
	}

	_, err = r.pool.Exec(
		ctx,
		`INSERT INTO tracings (id, tenant_id, date, state, version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		tracing.ID,
		tracing.TenantID,
		tracing.Date,
		string(tracing.State),
		tracing.Version,
		tracing.CreatedAt,
		tracing.UpdatedAt,
	)
	if err != nil {
		return domain.Tracing{}, fmt.Errorf("insert tracing: %w", err)
	}

	return tracing, nil
}

func (r *tracingRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.Tracing, error) {
	row := r.pool.QueryRow(
		ctx,
		`SELECT id, tenant_id, date, state, version, created_at, updated_at
		 FROM tracings WHERE id = $1`,
		id,
	)
	return scanTracing(row)
}

func (r *tracingRepository) GetByTenantAndDate(ctx context.Context, tenantID uuid.UUID, date time.Time) (domain.Tracing, error) {
	row := r.pool.QueryRow(
		ctx,
		`SELECT id, tenant_id, date, state, version, created_at, updated_at
		 FROM tracings
		 WHERE tenant_id = $1 AND date = $2 AND state <> 'MISSING'`,
		tenantID,
		domain.NormalizeDate(date),
	)
	return scanTracing(row)
}

func (r *tracingRepository) ListByTenant(ctx context.Context, tenantID uuid.UUID, date *time.Time) ([]domain.Tracing, error) {
	query := `SELECT id, tenant_id, date, state, version, created_at, updated_at
	          FROM tracings WHERE tenant_id = $1`
	args := []any{tenantID}
	if date != nil {
		query += ` AND date = $2`
		args = append(args, domain.NormalizeDate(*date))
	}
	query += ` ORDER BY date DESC, created_at DESC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tracings: %w", err)
	}
	defer rows.Close()

	tracings := []domain.Tracing{}
	for rows.Next() {
		tracing, scanErr := scanTracing(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		tracings = append(tracings, tracing)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("iterate tracings: %w", rowsErr)
	}

	return tracings, nil
}

// ApplyTransition executes the optimistic-concurrency write: read the stored
// (state, version) under lock, verify the expected version and the state
// machine edge, then update the state and atomically replace the error set,
// all in one transaction.
func (r *tracingRepository) ApplyTransition(ctx context.Context, tracingID uuid.UUID, expectedVersion int, target domain.TracingState, errs []domain.PurposeError) (domain.Tracing, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return domain.Tracing{}, fmt.Errorf("begin transition transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(
		ctx,
		`SELECT id, tenant_id, date, state, version, created_at, updated_at
		 FROM tracings WHERE id = $1 FOR UPDATE`,
		tracingID,
	)
	current, err := scanTracing(row)
	if err != nil {
		return domain.Tracing{}, err
	}

	if current.Version != expectedVersion {
		return domain.Tracing{}, fmt.Errorf("%w: expected %d, stored %d",
			ErrVersionConflict, expectedVersion, current.Version)
	}
	if !current.State.CanTransitionTo(target) {
		return domain.Tracing{}, fmt.Errorf("%w: %s -> %s",
			ErrIllegalTransition, current.State, target)
	}

	newVersion := expectedVersion + 1
	now := time.Now().UTC()

	if _, err := tx.Exec(
		ctx,
		`UPDATE tracings SET state = $1, version = $2, updated_at = $3 WHERE id = $4`,
		string(target),
		newVersion,
		now,
		tracingID,
	); err != nil {
		return domain.Tracing{}, fmt.Errorf("update tracing state: %w", err)
	}

	if _, err := tx.Exec(
		ctx,
		`DELETE FROM purpose_errors WHERE tracing_id = $1`,
		tracingID,
	); err != nil {
		return domain.Tracing{}, fmt.Errorf("clear purpose errors: %w", err)
	}

	if len(errs) > 0 {
		batch := &pgx.Batch{}
		for _, purposeErr := range errs {
			var purposeID any
			if purposeErr.PurposeID != nil {
				purposeID = *purposeErr.PurposeID
			}
			batch.Queue(
				`INSERT INTO purpose_errors
				   (id, tracing_id, purpose_id, row_number, error_code, message, date, status, version, created_at)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
				purposeErr.ID,
				tracingID,
				purposeID,
				purposeErr.RowNumber,
				string(purposeErr.ErrorCode),
				purposeErr.Message,
				purposeErr.Date,
				purposeErr.Status,
				newVersion,
				now,
			)
		}
		results := tx.SendBatch(ctx, batch)
		for range errs {
			if _, execErr := results.Exec(); execErr != nil {
				_ = results.Close()
				return domain.Tracing{}, fmt.Errorf("insert purpose error: %w", execErr)
			}
		}
		if closeErr := results.Close(); closeErr != nil {
			return domain.Tracing{}, fmt.Errorf("flush purpose errors: %w", closeErr)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Tracing{}, fmt.Errorf("commit transition: %w", err)
	}

	current.State = target
	current.Version = newVersion
	current.UpdatedAt = now
	return current, nil
}

func (r *tracingRepository) ListErrors(ctx context.Context, tracingID uuid.UUID) ([]domain.PurposeError, error) {
	rows, err := r.pool.Query(
		ctx,
		`SELECT id, tracing_id, purpose_id, row_number, error_code, message, date, status, version, created_at
		 FROM purpose_errors
		 WHERE tracing_id = $1
		 ORDER BY row_number`,
		tracingID,
	)
	if err != nil {
		return nil, fmt.Errorf("list purpose errors: %w", err)
	}
	defer rows.Close()

	errsOut := []domain.PurposeError{}
	for rows.Next() {
		var (
			entry     domain.PurposeError
			purposeID pgtype.UUID
			errorCode string
			createdAt pgtype.Timestamptz
		)
		if scanErr := rows.Scan(
			&entry.ID,
			&entry.TracingID,
			&purposeID,
			&entry.RowNumber,
			&errorCode,
			&entry.Message,
			&entry.Date,
			&entry.Status,
			&entry.Version,
			&createdAt,
		); scanErr != nil {
			return nil, fmt.Errorf("scan purpose error: %w", scanErr)
		}

		entry.ErrorCode = domain.ErrorCode(errorCode)
		if purposeID.Valid {
			value := uuid.UUID(purposeID.Bytes)
			entry.PurposeID = &value
		}
		if createdAt.Valid {
			entry.CreatedAt = createdAt.Time
		}

		errsOut = append(errsOut, entry)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("iterate purpose errors: %w", rowsErr)
	}

	return errsOut, nil
}

func (r *tracingRepository) TenantsWithTracing(ctx context.Context, date time.Time) (map[uuid.UUID]struct{}, error) {
	rows, err := r.pool.Query(
		ctx,
		`SELECT DISTINCT tenant_id FROM tracings WHERE date = $1`,
		domain.NormalizeDate(date),
	)
	if err != nil {
		return nil, fmt.Errorf("list tenants with tracing: %w", err)
	}
	defer rows.Close()

	tenants := make(map[uuid.UUID]struct{})
	for rows.Next() {
		var tenantID uuid.UUID
		if scanErr := rows.Scan(&tenantID); scanErr != nil {
			return nil, fmt.Errorf("scan tenant id: %w", scanErr)
		}
		tenants[tenantID] = struct{}{}
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("iterate tenant ids: %w", rowsErr)
	}

	return tenants, nil
}

// CreateMissing inserts the synthesized record only when the tenant has no
// tracing at all for the day, making reconciler re-runs idempotent.
func (r *tracingRepository) CreateMissing(ctx context.Context, tracing domain.Tracing) (bool, error) {
	tag, err := r.pool.Exec(
		ctx,
		`INSERT INTO tracings (id, tenant_id, date, state, version, created_at, updated_at)
		 SELECT $1, $2, $3, $4, $5, $6, $7
		 WHERE NOT EXISTS (
		   SELECT 1 FROM tracings WHERE tenant_id = $2 AND date = $3
		 )`,
		tracing.ID,
		tracing.TenantID,
		tracing.Date,
		string(domain.TracingStateMissing),
		tracing.Version,
		tracing.CreatedAt,
		tracing.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert missing tracing: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

type pgxRow interface {
	Scan(dest ...any) error
}

func scanTracing(row pgxRow) (domain.Tracing, error) {
	var (
		tracing   domain.Tracing
		state     string
		createdAt pgtype.Timestamptz
		updatedAt pgtype.Timestamptz
	)
	err := row.Scan(
		&tracing.ID,
		&tracing.TenantID,
		&tracing.Date,
		&state,
		&tracing.Version,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Tracing{}, ErrTracingNotFound
		}
		return domain.Tracing{}, fmt.Errorf("scan tracing: %w", err)
	}

	tracing.State = domain.TracingState(state)
	if createdAt.Valid {
		tracing.CreatedAt = createdAt.Time
	}
	if updatedAt.Valid {
		tracing.UpdatedAt = updatedAt.Time
	}

	return tracing, nil
}
