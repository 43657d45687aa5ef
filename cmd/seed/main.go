package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"go.uber.org/zap"

	"github.com/hackgods/slot-booking/internal/config"
	"github.com/hackgods/slot-booking/internal/db"
	"github.com/hackgods/slot-booking/internal/logging"
	"github.com/hackgods/slot-booking/internal/provider"
	"github.com/hackgods/slot-booking/internal/slot"
)

const providerCount = 25

var specialties = []string{
	"Clinical Psychology",
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Nutrition",
	"Pediatrics",
	"Psychiatry",
	"Physiotherapy",
	"Ophthalmology",
	"ENT",
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("seed starting", zap.Int("providers", providerCount))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	svc := provider.NewService(provider.NewPgRepository(pool), cfg.Payment.Currency, logger)
	if err := seedProviders(ctx, svc, providerCount); err != nil {
		logger.Fatal("seed providers", zap.Error(err))
	}

	logger.Info("seed complete")
}

func seedProviders(ctx context.Context, svc *provider.Service, count int) error {
	slotLengths := []int{20, 30, 45, 60}

	for i := 0; i < count; i++ {
		// mornings start 08:00-10:00 on the half hour, days end 16:00-19:00
		start := slot.Clock(8*60 + gofakeit.Number(0, 4)*30)
		end := slot.Clock(gofakeit.Number(16, 19) * 60)

		_, err := svc.Register(ctx, provider.Registration{
			Name:        "Dr. " + gofakeit.Name(),
			Specialty:   specialties[gofakeit.Number(0, len(specialties)-1)],
			Email:       gofakeit.Email(),
			Price:       int64(gofakeit.Number(80, 300)) * 10000,
			SlotMinutes: slotLengths[gofakeit.Number(0, len(slotLengths)-1)],
			WorkStart:   start,
			WorkEnd:     end,
		})
		if err != nil {
			return fmt.Errorf("provider %d: %w", i, err)
		}
	}
	return nil
}
