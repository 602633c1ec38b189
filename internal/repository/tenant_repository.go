package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/rpattn/tracelift/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type tenantRepository struct {
	pool *pgxpool.Pool
}

// NewTenantRepository wires the tenant-directory port against the replicated
// catalog tables.
func NewTenantRepository(pool *pgxpool.Pool) TenantRepository {
	return &tenantRepository{pool: pool}
}

func (r *tenantRepository) ExpectedTenants(ctx context.Context, date time.Time) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(
		ctx,
		`SELECT DISTINCT p.consumer_id
		 FROM purposes p
		 JOIN tenants t ON t.id = p.consumer_id AND NOT t.deleted
		 WHERE p.active AND p.valid_from <= $1
		 ORDER BY p.consumer_id`,
		domain.NormalizeDate(date),
	)
	if err != nil {
		return nil, fmt.Errorf("list expected tenants: %w", err)
	}
	defer rows.Close()

	tenants := []uuid.UUID{}
	for rows.Next() {
		var tenantID uuid.UUID
		if scanErr := rows.Scan(&tenantID); scanErr != nil {
			return nil, fmt.Errorf("scan expected tenant: %w", scanErr)
		}
		tenants = append(tenants, tenantID)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("iterate expected tenants: %w", rowsErr)
	}

	return tenants, nil
}
