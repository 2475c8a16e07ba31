package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ledger-mirror/internal/core/domain"
	"ledger-mirror/internal/core/ports"

	goredis "github.com/redis/go-redis/v9"
)

// SnapshotCache implements ports.SnapshotCache with one JSON value per ledger.
type SnapshotCache struct {
	client *goredis.Client
	key    string
	ttl    time.Duration
}

// NewSnapshotCache creates a cache under the given namespace. A zero ttl
// keeps the snapshot until it is overwritten.
func NewSnapshotCache(client *goredis.Client, namespace string, ttl time.Duration) *SnapshotCache {
	return &SnapshotCache{
		client: client,
		key:    namespace + "snapshot",
		ttl:    ttl,
	}
}

var _ ports.SnapshotCache = (*SnapshotCache)(nil)

func (c *SnapshotCache) Save(ctx context.Context, snap domain.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	if err := c.client.Set(ctx, c.key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis snapshot set: %w", err)
	}
	return nil
}

// Load returns nil, nil when nothing is cached.
func (c *SnapshotCache) Load(ctx context.Context) (*domain.Snapshot, error) {
	data, err := c.client.Get(ctx, c.key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis snapshot get: %w", err)
	}

	var snap domain.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decoding cached snapshot: %w", err)
	}
	return &snap, nil
}
