package provider

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Service struct {
	repo            Repository
	defaultCurrency string
	logger          *zap.Logger
}

func NewService(repo Repository, defaultCurrency string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:            repo,
		defaultCurrency: defaultCurrency,
		logger:          logger,
	}
}

// Register adds a provider to the catalog.
func (s *Service) Register(ctx context.Context, reg Registration) (*Provider, error) {
	if err := reg.Validate(); err != nil {
		return nil, err
	}
	if reg.Currency == "" {
		reg.Currency = s.defaultCurrency
	}

	p := &Provider{
		ID:          uuid.New(),
		Name:        reg.Name,
		Specialty:   reg.Specialty,
		Email:       reg.Email,
		Price:       reg.Price,
		Currency:    reg.Currency,
		SlotMinutes: reg.SlotMinutes,
		WorkStart:   reg.WorkStart,
		WorkEnd:     reg.WorkEnd,
	}

	created, err := s.repo.Create(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("register provider: %w", err)
	}

	s.logger.Info("provider registered",
		zap.String("provider_id", created.ID.String()),
		zap.String("specialty", created.Specialty),
		zap.Stringer("work_start", created.WorkStart),
		zap.Stringer("work_end", created.WorkEnd),
		zap.Int("slot_minutes", created.SlotMinutes),
	)
	return created, nil
}

// Get returns a provider regardless of its active flag.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Provider, error) {
	return s.repo.GetByID(ctx, id)
}

// GetActive returns a bookable provider. Deactivated providers are reported
// as not found.
func (s *Service) GetActive(ctx context.Context, id uuid.UUID) (*Provider, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.Active {
		return nil, ErrProviderNotFound
	}
	return p, nil
}

func (s *Service) ListActive(ctx context.Context) ([]Provider, error) {
	providers, err := s.repo.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}
	return providers, nil
}

func (s *Service) UpdatePricing(ctx context.Context, id uuid.UUID, price int64, slotMinutes int) (*Provider, error) {
	if price < 0 {
		return nil, fmt.Errorf("%w: price must be >= 0", ErrInvalidProvider)
	}
	if slotMinutes <= 0 {
		return nil, fmt.Errorf("%w: slot duration must be > 0", ErrInvalidProvider)
	}

	p, err := s.repo.UpdatePricing(ctx, id, price, slotMinutes)
	if err != nil {
		return nil, err
	}
	s.logger.Info("provider pricing updated",
		zap.String("provider_id", id.String()),
		zap.Int64("price", price),
		zap.Int("slot_minutes", slotMinutes),
	)
	return p, nil
}

// Deactivate hides the provider from listings and new bookings. Existing
// appointments keep referencing it.
func (s *Service) Deactivate(ctx context.Context, id uuid.UUID) (*Provider, error) {
	p, err := s.repo.Deactivate(ctx, id)
	if err != nil {
		return nil, err
	}
	s.logger.Info("provider deactivated", zap.String("provider_id", id.String()))
	return p, nil
}
