package provider

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrProviderNotFound = errors.New("provider not found")

// Repository persists the provider catalog.
type Repository interface {
	Create(ctx context.Context, p *Provider) (*Provider, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Provider, error)
	ListActive(ctx context.Context) ([]Provider, error)

	// Price and duration changes only affect bookings made afterwards.
	UpdatePricing(ctx context.Context, id uuid.UUID, price int64, slotMinutes int) (*Provider, error)
	Deactivate(ctx context.Context, id uuid.UUID) (*Provider, error)
}
