// Package registry publishes session status to Redis so external tooling
// can watch the wall without talking to the control API. Entries carry a
// TTL: a crashed supervisor ages out of the registry on its own.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/quadwatch/quadwatch/internal/config"
	"github.com/quadwatch/quadwatch/internal/supervisor"
)

const (
	defaultPrefix  = "quadwatch:sessions:"
	defaultTTL     = 5 * time.Minute
	publishTimeout = 2 * time.Second
)

// ErrNotFound is returned when a session has no registry entry.
var ErrNotFound = fmt.Errorf("session not registered")

// RedisRegistry is a Redis-backed session status registry. It implements
// supervisor.StatusPublisher.
type RedisRegistry struct {
	client *redis.Client
	logger *logrus.Logger
	prefix string
	ttl    time.Duration
}

// NewRedisRegistry creates a Redis-backed registry.
func NewRedisRegistry(client *redis.Client, logger *logrus.Logger, ttl time.Duration) *RedisRegistry {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisRegistry{
		client: client,
		logger: logger,
		prefix: defaultPrefix,
		ttl:    ttl,
	}
}

// Publish upserts one session's snapshot. Publishing happens from session
// goroutines, so it carries its own short timeout instead of a caller
// context.
func (r *RedisRegistry) Publish(snap supervisor.Snapshot) error {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	key := r.key(snap.Index)
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, key, data, r.ttl)
	pipe.SAdd(ctx, r.prefix+"active", strconv.Itoa(snap.Index))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish session %d: %w", snap.Index, err)
	}
	r.logger.WithFields(logrus.Fields{
		"camera": snap.Index,
		"state":  snap.State,
	}).Debug("Session status published")
	return nil
}

// Remove deletes one session's entry. Missing entries are not an error.
func (r *RedisRegistry) Remove(index int) error {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.key(index))
	pipe.SRem(ctx, r.prefix+"active", strconv.Itoa(index))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to remove session %d: %w", index, err)
	}
	return nil
}

// Get reads one session's published snapshot.
func (r *RedisRegistry) Get(ctx context.Context, index int) (supervisor.Snapshot, error) {
	data, err := r.client.Get(ctx, r.key(index)).Bytes()
	if err == redis.Nil {
		return supervisor.Snapshot{}, ErrNotFound
	}
	if err != nil {
		return supervisor.Snapshot{}, fmt.Errorf("failed to read session %d: %w", index, err)
	}
	var snap supervisor.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return supervisor.Snapshot{}, fmt.Errorf("failed to unmarshal session %d: %w", index, err)
	}
	return snap, nil
}

// List reads every published snapshot, skipping expired entries.
func (r *RedisRegistry) List(ctx context.Context) ([]supervisor.Snapshot, error) {
	out := make([]supervisor.Snapshot, 0, config.NumCameras)
	for i := 0; i < config.NumCameras; i++ {
		snap, err := r.Get(ctx, i)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, nil
}

func (r *RedisRegistry) key(index int) string {
	return r.prefix + strconv.Itoa(index)
}
