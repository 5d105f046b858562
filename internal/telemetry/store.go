// Package telemetry retains raw device telemetry in per-device Redis
// streams for a bounded window. Twins and alerts are the durable
// record; this store only backs short-term history queries and the ML
// service's feature extraction.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/DICEsda/Batchlors-Intelligent-Hydroponics-sub002/internal/models"
)

// Store appends raw telemetry payloads to Redis streams with a
// time-based expiry (7 days by default).
type Store struct {
	client    *redis.Client
	retention time.Duration
	logger    *zap.Logger
}

// NewStore creates the store.
func NewStore(client *redis.Client, retention time.Duration, logger *zap.Logger) *Store {
	return &Store{
		client:    client,
		retention: retention,
		logger:    logger,
	}
}

// StreamKey names the per-device stream.
func StreamKey(key models.TwinKey) string {
	if key.TowerID != "" {
		return fmt.Sprintf("telemetry:%s:%s:%s", key.FarmID, key.CoordID, key.TowerID)
	}
	return fmt.Sprintf("telemetry:%s:%s", key.FarmID, key.CoordID)
}

// Append stores one raw payload and refreshes the stream expiry.
func (s *Store) Append(ctx context.Context, key models.TwinKey, payload []byte) error {
	stream := StreamKey(key)

	if err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{
			"data": string(payload),
			"ts":   time.Now().Unix(),
		},
	}).Err(); err != nil {
		return fmt.Errorf("failed to append telemetry to stream %s: %w", stream, err)
	}

	// Rolling retention: every append pushes the whole stream's expiry
	// forward, so a silent device's history ages out on its own.
	if err := s.client.Expire(ctx, stream, s.retention).Err(); err != nil {
		s.logger.Warn("Failed to refresh telemetry stream expiry",
			zap.String("stream", stream),
			zap.Error(err),
		)
	}

	return nil
}

// Recent returns up to count most recent raw payloads for a device,
// newest first.
func (s *Store) Recent(ctx context.Context, key models.TwinKey, count int64) ([]string, error) {
	stream := StreamKey(key)

	entries, err := s.client.XRevRangeN(ctx, stream, "+", "-", count).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read telemetry stream %s: %w", stream, err)
	}

	payloads := make([]string, 0, len(entries))
	for _, entry := range entries {
		if data, ok := entry.Values["data"].(string); ok {
			payloads = append(payloads, data)
		}
	}

	return payloads, nil
}
