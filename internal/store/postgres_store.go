package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"

	"github.com/example/roadassist/internal/apperr"
	"github.com/example/roadassist/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func NewPostgresStoreWithDB(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

const requestColumns = `id, customer_id, service_type, lat, lng, problem_description,
status, accepted_providers, confirmed_provider_id, version, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, r *models.ServiceRequest) error {
	const op = "store.postgres.Create"
	row := p.db.QueryRowContext(ctx, `
INSERT INTO service_requests
  (id, customer_id, service_type, lat, lng, problem_description, status, accepted_providers, version)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,1)
RETURNING version, created_at, updated_at`,
		r.ID, r.CustomerID, string(r.ServiceType), r.Location.Lat, r.Location.Lng,
		r.ProblemDescription, string(r.Status), pq.Array(r.AcceptedProviders))
	if err := row.Scan(&r.Version, &r.CreatedAt, &r.UpdatedAt); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return apperr.Wrap(op, apperr.ErrConflict)
		}
		return apperr.Wrap(op, err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*models.ServiceRequest, error) {
	const op = "store.postgres.Get"
	row := p.db.QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM service_requests WHERE id = $1`, id)
	r, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.Wrap(op, apperr.ErrNotFound)
		}
		return nil, apperr.Wrap(op, err)
	}
	return r, nil
}

// Update writes the mutated row only if the version the caller read is
// still current. Zero rows affected with an existing id means somebody
// else won the race.
func (p *PostgresStore) Update(ctx context.Context, r *models.ServiceRequest) error {
	const op = "store.postgres.Update"
	row := p.db.QueryRowContext(ctx, `
UPDATE service_requests
SET status = $1,
    accepted_providers = $2,
    confirmed_provider_id = NULLIF($3, ''),
    version = version + 1,
    updated_at = now()
WHERE id = $4 AND version = $5
RETURNING version, updated_at`,
		string(r.Status), pq.Array(r.AcceptedProviders), r.ConfirmedProviderID, r.ID, r.Version)
	if err := row.Scan(&r.Version, &r.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// disambiguate missing row from stale version
			var exists bool
			if qerr := p.db.QueryRowContext(ctx,
				`SELECT EXISTS(SELECT 1 FROM service_requests WHERE id = $1)`, r.ID).Scan(&exists); qerr != nil {
				return apperr.Wrap(op, qerr)
			}
			if !exists {
				return apperr.Wrap(op, apperr.ErrNotFound)
			}
			return apperr.Wrap(op, apperr.ErrConflict)
		}
		return apperr.Wrap(op, err)
	}
	return nil
}

func (p *PostgresStore) ListByCustomer(ctx context.Context, customerID string, status models.Status) ([]*models.ServiceRequest, error) {
	const op = "store.postgres.ListByCustomer"
	return p.list(ctx, op, `
SELECT `+requestColumns+` FROM service_requests
WHERE customer_id = $1 AND ($2 = '' OR status = $2)
ORDER BY created_at`, customerID, string(status))
}

func (p *PostgresStore) ListByProvider(ctx context.Context, providerID string, status models.Status) ([]*models.ServiceRequest, error) {
	const op = "store.postgres.ListByProvider"
	return p.list(ctx, op, `
SELECT `+requestColumns+` FROM service_requests
WHERE ($1 = ANY(accepted_providers) OR confirmed_provider_id = $1)
  AND ($2 = '' OR status = $2)
ORDER BY created_at`, providerID, string(status))
}

func (p *PostgresStore) ListPending(ctx context.Context, st models.ServiceType) ([]*models.ServiceRequest, error) {
	const op = "store.postgres.ListPending"
	return p.list(ctx, op, `
SELECT `+requestColumns+` FROM service_requests
WHERE status IN ('pending','accepted') AND ($1 = '' OR service_type = $1)
ORDER BY created_at`, string(st))
}

func (p *PostgresStore) ListAll(ctx context.Context, status models.Status) ([]*models.ServiceRequest, error) {
	const op = "store.postgres.ListAll"
	return p.list(ctx, op, `
SELECT `+requestColumns+` FROM service_requests
WHERE ($1 = '' OR status = $1)
ORDER BY created_at`, string(status))
}

func (p *PostgresStore) list(ctx context.Context, op, query string, args ...any) ([]*models.ServiceRequest, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Wrap(op, err)
	}
	defer rows.Close()
	out := []*models.ServiceRequest{}
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, apperr.Wrap(op, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(op, err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*models.ServiceRequest, error) {
	var r models.ServiceRequest
	var st, status string
	var confirmed sql.NullString
	var accepted pq.StringArray
	if err := row.Scan(&r.ID, &r.CustomerID, &st, &r.Location.Lat, &r.Location.Lng,
		&r.ProblemDescription, &status, &accepted, &confirmed,
		&r.Version, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.ServiceType = models.ServiceType(st)
	r.Status = models.Status(status)
	r.AcceptedProviders = []string(accepted)
	if confirmed.Valid {
		r.ConfirmedProviderID = confirmed.String
	}
	return &r, nil
}

func (p *PostgresStore) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }
func (p *PostgresStore) Close() error                   { return p.db.Close() }
