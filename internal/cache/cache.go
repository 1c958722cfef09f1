package cache

import (
	"context"
	"time"

	"otodeal/backend/internal/domain"
)

// VehicleCache keeps listing reads off the primary store. Misses and
// cache errors both fall through to the repository.
type VehicleCache interface {
	GetVehicle(ctx context.Context, id string) (*domain.Vehicle, bool, error)
	SetVehicle(ctx context.Context, vehicle *domain.Vehicle, ttl time.Duration) error
	GetList(ctx context.Context, status string) ([]domain.Vehicle, bool, error)
	SetList(ctx context.Context, status string, vehicles []domain.Vehicle, ttl time.Duration) error
	Invalidate(ctx context.Context, vehicleID string) error
}

type NoopVehicleCache struct{}

func (NoopVehicleCache) GetVehicle(_ context.Context, _ string) (*domain.Vehicle, bool, error) {
	return nil, false, nil
}

func (NoopVehicleCache) SetVehicle(_ context.Context, _ *domain.Vehicle, _ time.Duration) error {
	return nil
}

func (NoopVehicleCache) GetList(_ context.Context, _ string) ([]domain.Vehicle, bool, error) {
	return nil, false, nil
}

func (NoopVehicleCache) SetList(_ context.Context, _ string, _ []domain.Vehicle, _ time.Duration) error {
	return nil
}

func (NoopVehicleCache) Invalidate(_ context.Context, _ string) error {
	return nil
}
