package provider

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	pgx "github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/slot-booking/internal/slot"
)

var providerCols = []string{
	"id", "name", "specialty", "email", "price", "currency", "slot_minutes",
	"work_start", "work_end", "active", "created_at", "updated_at",
}

func providerRow(p Provider) []any {
	return []any{
		p.ID, p.Name, p.Specialty, p.Email, p.Price, p.Currency, p.SlotMinutes,
		p.WorkStart, p.WorkEnd, p.Active, p.CreatedAt, p.UpdatedAt,
	}
}

func sampleProvider() Provider {
	now := time.Now().UTC().Truncate(time.Second)
	return Provider{
		ID:          uuid.New(),
		Name:        "Dra. Ana Gómez",
		Specialty:   "Cardiology",
		Email:       "ana@example.com",
		Price:       1500000,
		Currency:    "ARS",
		SlotMinutes: 30,
		WorkStart:   slot.MustClock("09:00"),
		WorkEnd:     slot.MustClock("13:00"),
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestPgRepositoryCreate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := newPgRepositoryWithQuerier(mock)
	p := sampleProvider()

	mock.ExpectQuery("INSERT INTO providers").
		WithArgs(p.ID, p.Name, p.Specialty, p.Email, p.Price, p.Currency, p.SlotMinutes, "09:00", "13:00").
		WillReturnRows(pgxmock.NewRows(providerCols).AddRow(providerRow(p)...))

	created, err := repo.Create(context.Background(), &p)
	require.NoError(t, err)
	assert.Equal(t, p.ID, created.ID)
	assert.Equal(t, slot.MustClock("13:00"), created.WorkEnd)
	assert.True(t, created.Active)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepositoryGetByIDNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := newPgRepositoryWithQuerier(mock)
	id := uuid.New()

	mock.ExpectQuery("FROM providers").WithArgs(id).WillReturnError(pgx.ErrNoRows)

	_, err = repo.GetByID(context.Background(), id)
	assert.ErrorIs(t, err, ErrProviderNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepositoryListActive(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := newPgRepositoryWithQuerier(mock)
	a, b := sampleProvider(), sampleProvider()
	b.Specialty = "Dermatology"

	mock.ExpectQuery("WHERE active").
		WillReturnRows(pgxmock.NewRows(providerCols).AddRow(providerRow(a)...).AddRow(providerRow(b)...))

	list, err := repo.ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Dermatology", list[1].Specialty)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepositoryDeactivate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := newPgRepositoryWithQuerier(mock)
	p := sampleProvider()
	p.Active = false

	mock.ExpectQuery("SET active = false").WithArgs(p.ID).
		WillReturnRows(pgxmock.NewRows(providerCols).AddRow(providerRow(p)...))

	got, err := repo.Deactivate(context.Background(), p.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)
	require.NoError(t, mock.ExpectationsWereMet())
}
