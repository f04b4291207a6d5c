package mva

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Snapshot is the serialised form of a table shared through Redis.
type Snapshot struct {
	Source   string    `json:"source"`
	LoadedAt time.Time `json:"loadedAt"`
	Entries  []Entry   `json:"entries"`
}

// SnapshotCache stores the latest rebuilt snapshot in Redis so API instances can
// refresh without querying the configuration store themselves.
type SnapshotCache struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewSnapshotCache constructs a cache helper. A zero ttl keeps the snapshot until replaced.
func NewSnapshotCache(client *redis.Client, key string, ttl time.Duration) *SnapshotCache {
	if key == "" {
		key = "mva:snapshot"
	}
	return &SnapshotCache{client: client, key: key, ttl: ttl}
}

// Get returns the cached snapshot and whether it existed.
func (c *SnapshotCache) Get(ctx context.Context) (Snapshot, bool, error) {
	if c == nil || c.client == nil {
		return Snapshot{}, false, nil
	}
	data, err := c.client.Get(ctx, c.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Snapshot{}, false, nil
		}
		return Snapshot{}, false, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, false, err
	}
	return snap, true, nil
}

// Set stores the snapshot of t.
func (c *SnapshotCache) Set(ctx context.Context, t *Table) error {
	if c == nil || c.client == nil || t == nil {
		return nil
	}
	data, err := json.Marshal(Snapshot{Source: t.Source(), LoadedAt: t.LoadedAt(), Entries: t.Entries()})
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key, data, c.ttl).Err()
}

// Notifier announces rebuilt snapshots over Redis pub/sub.
type Notifier struct {
	Client  *redis.Client
	Channel string
}

// DefaultChannel is the pub/sub channel used when none is configured.
const DefaultChannel = "mva:updated"

func (n Notifier) channel() string {
	if n.Channel == "" {
		return DefaultChannel
	}
	return n.Channel
}

// Publish notifies subscribers that a new snapshot is available.
func (n Notifier) Publish(ctx context.Context, source string) error {
	if n.Client == nil {
		return nil
	}
	return n.Client.Publish(ctx, n.channel(), source).Err()
}

// Subscribe returns a subscription on the notifier channel.
func (n Notifier) Subscribe(ctx context.Context) *redis.PubSub {
	return n.Client.Subscribe(ctx, n.channel())
}
