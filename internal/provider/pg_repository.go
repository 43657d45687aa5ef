package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/slot-booking/internal/db"
)

const providerColumns = `id, name, specialty, email, price, currency, slot_minutes,
	to_char(work_start, 'HH24:MI'), to_char(work_end, 'HH24:MI'), active, created_at, updated_at`

type PgRepository struct {
	pool db.Querier
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func newPgRepositoryWithQuerier(q db.Querier) *PgRepository {
	return &PgRepository{pool: q}
}

func scanProvider(row pgx.Row) (*Provider, error) {
	var p Provider
	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Specialty,
		&p.Email,
		&p.Price,
		&p.Currency,
		&p.SlotMinutes,
		&p.WorkStart,
		&p.WorkEnd,
		&p.Active,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProviderNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *PgRepository) Create(ctx context.Context, p *Provider) (*Provider, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO providers (id, name, specialty, email, price, currency, slot_minutes,
		                       work_start, work_end, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::time, $9::time, true, now(), now())
		RETURNING `+providerColumns,
		p.ID, p.Name, p.Specialty, p.Email, p.Price, p.Currency, p.SlotMinutes,
		p.WorkStart.String(), p.WorkEnd.String())

	created, err := scanProvider(row)
	if err != nil {
		return nil, fmt.Errorf("insert provider: %w", err)
	}
	return created, nil
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Provider, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+providerColumns+`
		FROM providers
		WHERE id = $1
	`, id)
	return scanProvider(row)
}

func (r *PgRepository) ListActive(ctx context.Context) ([]Provider, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+providerColumns+`
		FROM providers
		WHERE active
		ORDER BY specialty, name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Provider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgRepository) UpdatePricing(ctx context.Context, id uuid.UUID, price int64, slotMinutes int) (*Provider, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE providers
		SET price = $2,
		    slot_minutes = $3,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+providerColumns,
		id, price, slotMinutes)
	return scanProvider(row)
}

func (r *PgRepository) Deactivate(ctx context.Context, id uuid.UUID) (*Provider, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE providers
		SET active = false,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+providerColumns,
		id)
	return scanProvider(row)
}
