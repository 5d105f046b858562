// Package admission answers "is this device known?" before any
// telemetry is allowed to mutate state. The set of registered
// coordinators lives in Redis, seeded from the twin store at startup
// and mutated only through this API.
package admission

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const coordSetPrefix = "admission:coordinators:"

// Cache is the known-coordinator admission cache.
type Cache struct {
	client *redis.Client
	logger *zap.Logger
}

// NewCache creates the cache.
func NewCache(client *redis.Client, logger *zap.Logger) *Cache {
	return &Cache{
		client: client,
		logger: logger,
	}
}

// Seed loads the known coordinators per farm, replacing nothing that is
// already present: registration survives restarts of this service.
func (c *Cache) Seed(ctx context.Context, coordsByFarm map[string][]string) error {
	for farmID, coordIDs := range coordsByFarm {
		if len(coordIDs) == 0 {
			continue
		}
		members := make([]interface{}, len(coordIDs))
		for i, id := range coordIDs {
			members[i] = id
		}
		if err := c.client.SAdd(ctx, coordSetPrefix+farmID, members...).Err(); err != nil {
			return fmt.Errorf("failed to seed admission cache for farm %s: %w", farmID, err)
		}
	}

	c.logger.Info("Admission cache seeded", zap.Int("farms", len(coordsByFarm)))
	return nil
}

// IsKnown reports whether the coordinator is registered for the farm.
func (c *Cache) IsKnown(ctx context.Context, farmID, coordID string) (bool, error) {
	known, err := c.client.SIsMember(ctx, coordSetPrefix+farmID, coordID).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check admission cache: %w", err)
	}
	return known, nil
}

// Register adds a coordinator to the known set for a farm.
func (c *Cache) Register(ctx context.Context, farmID, coordID string) error {
	if err := c.client.SAdd(ctx, coordSetPrefix+farmID, coordID).Err(); err != nil {
		return fmt.Errorf("failed to register coordinator: %w", err)
	}

	c.logger.Info("Coordinator registered",
		zap.String("farm_id", farmID),
		zap.String("coord_id", coordID),
	)
	return nil
}

// Forget removes a coordinator from the known set.
func (c *Cache) Forget(ctx context.Context, farmID, coordID string) error {
	if err := c.client.SRem(ctx, coordSetPrefix+farmID, coordID).Err(); err != nil {
		return fmt.Errorf("failed to forget coordinator: %w", err)
	}
	return nil
}
