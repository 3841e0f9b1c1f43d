package claim

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/modelwatch/modelwatch/internal/schedule"
)

// Redis claims through a shared Redis instance: SETNX either takes the
// key or loses it, atomically, and the TTL doubles as claim retention
// so no janitor pass is needed for this strategy. This serves
// deployments whose relational store cannot offer an atomic uniqueness
// constraint across replicas.
type Redis struct {
	Client    *redis.Client
	Retention time.Duration
}

func NewRedis(addr string, retention time.Duration) *Redis {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Redis{
		Client:    redis.NewClient(&redis.Options{Addr: addr}),
		Retention: retention,
	}
}

func (r *Redis) Name() string { return "redis" }

func (r *Redis) TryClaim(ctx context.Context, taskID string, minute time.Time) (bool, error) {
	key := "claim:" + taskID + ":" + schedule.MinuteKey(minute)
	return r.Client.SetNX(ctx, key, 1, r.Retention).Result()
}

// Ping verifies connectivity at startup.
func (r *Redis) Ping(ctx context.Context) error {
	return r.Client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.Client.Close()
}
