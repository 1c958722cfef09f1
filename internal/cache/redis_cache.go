package cache

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"

	"otodeal/backend/internal/domain"
)

const (
	vehicleKeyPrefix = "vehicle:"
	listKeyPrefix    = "vehicles:list:"
)

type RedisVehicleCache struct {
	client *redis.Client
}

func NewRedisVehicleCache(addr string, password string, db int) *RedisVehicleCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisVehicleCache{client: client}
}

func (c *RedisVehicleCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisVehicleCache) Close() error {
	return c.client.Close()
}

func (c *RedisVehicleCache) GetVehicle(ctx context.Context, id string) (*domain.Vehicle, bool, error) {
	val, err := c.client.Get(ctx, vehicleKeyPrefix+id).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var vehicle domain.Vehicle
	if err := json.Unmarshal([]byte(val), &vehicle); err != nil {
		return nil, false, err
	}
	return &vehicle, true, nil
}

func (c *RedisVehicleCache) SetVehicle(ctx context.Context, vehicle *domain.Vehicle, ttl time.Duration) error {
	if vehicle == nil {
		return nil
	}
	payload, err := json.Marshal(vehicle)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, vehicleKeyPrefix+vehicle.ID, payload, ttl).Err()
}

func (c *RedisVehicleCache) GetList(ctx context.Context, status string) ([]domain.Vehicle, bool, error) {
	val, err := c.client.Get(ctx, listKeyPrefix+status).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var vehicles []domain.Vehicle
	if err := json.Unmarshal([]byte(val), &vehicles); err != nil {
		return nil, false, err
	}
	return vehicles, true, nil
}

func (c *RedisVehicleCache) SetList(ctx context.Context, status string, vehicles []domain.Vehicle, ttl time.Duration) error {
	payload, err := json.Marshal(vehicles)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, listKeyPrefix+status, payload, ttl).Err()
}

// Invalidate drops the vehicle entry and every list variant, since any
// status change can move the vehicle between filtered listings.
func (c *RedisVehicleCache) Invalidate(ctx context.Context, vehicleID string) error {
	keys := []string{vehicleKeyPrefix + vehicleID}
	for _, status := range []string{
		"",
		domain.VehicleStatusAvailable,
		domain.VehicleStatusReserved,
		domain.VehicleStatusSold,
	} {
		keys = append(keys, listKeyPrefix+status)
	}
	return c.client.Del(ctx, keys...).Err()
}
