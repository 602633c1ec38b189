package repository

import (
	"context"
	"fmt"

	"github.com/rpattn/tracelift/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

type catalogRepository struct {
	pool *pgxpool.Pool
}

// NewCatalogRepository wires the read model for purposes, e-services, and
// tenants.
func NewCatalogRepository(pool *pgxpool.Pool) CatalogRepository {
	return &catalogRepository{pool: pool}
}

func (r *catalogRepository) Purposes(ctx context.Context) (map[uuid.UUID]domain.Purpose, error) {
	rows, err := r.pool.Query(
		ctx,
		`SELECT id, eservice_id, consumer_id, title, active, valid_from FROM purposes`,
	)
	if err != nil {
		return nil, fmt.Errorf("list purposes: %w", err)
	}
	defer rows.Close()

	purposes := make(map[uuid.UUID]domain.Purpose)
	for rows.Next() {
		var (
			purpose   domain.Purpose
			validFrom pgtype.Date
		)
		if scanErr := rows.Scan(
			&purpose.ID,
			&purpose.EserviceID,
			&purpose.ConsumerID,
			&purpose.Title,
			&purpose.Active,
			&validFrom,
		); scanErr != nil {
			return nil, fmt.Errorf("scan purpose: %w", scanErr)
		}
		if validFrom.Valid {
			purpose.ValidFrom = validFrom.Time
		}
		purposes[purpose.ID] = purpose
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("iterate purposes: %w", rowsErr)
	}

	return purposes, nil
}

func (r *catalogRepository) Eservices(ctx context.Context) (map[uuid.UUID]domain.Eservice, error) {
	rows, err := r.pool.Query(
		ctx,
		`SELECT id, producer_id, name FROM eservices`,
	)
	if err != nil {
		return nil, fmt.Errorf("list eservices: %w", err)
	}
	defer rows.Close()

	eservices := make(map[uuid.UUID]domain.Eservice)
	for rows.Next() {
		var eservice domain.Eservice
		if scanErr := rows.Scan(&eservice.ID, &eservice.ProducerID, &eservice.Name); scanErr != nil {
			return nil, fmt.Errorf("scan eservice: %w", scanErr)
		}
		eservices[eservice.ID] = eservice
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("iterate eservices: %w", rowsErr)
	}

	return eservices, nil
}

func (r *catalogRepository) Tenants(ctx context.Context) (map[uuid.UUID]domain.Tenant, error) {
	rows, err := r.pool.Query(
		ctx,
		`SELECT id, name, external_origin, deleted FROM tenants WHERE NOT deleted`,
	)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer rows.Close()

	tenants := make(map[uuid.UUID]domain.Tenant)
	for rows.Next() {
		var tenant domain.Tenant
		if scanErr := rows.Scan(&tenant.ID, &tenant.Name, &tenant.Origin, &tenant.Deleted); scanErr != nil {
			return nil, fmt.Errorf("scan tenant: %w", scanErr)
		}
		tenants[tenant.ID] = tenant
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("iterate tenants: %w", rowsErr)
	}

	return tenants, nil
}
