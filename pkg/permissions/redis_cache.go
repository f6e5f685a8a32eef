package permissions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// missingRecord marks a cached "no record" lookup
const missingRecord = "null"

// generationTTL keeps a record's generation counter alive far longer than any fill can take
const generationTTL = 24 * time.Hour

// getter is satisfied by both *redis.Client and *redis.Tx
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// errStaleFill aborts a cache fill that raced with a Save
var errStaleFill = errors.New("permission record changed during cache fill")

// RedisCache caches permission records, including missing ones, in front of
// another Store. Redis failures fall through to the wrapped store.
//
// Every record has a generation counter that Save bumps after writing the
// store. A fill only lands if the generation is unchanged since before the
// store read, so a fill racing a Save can never cache the old record.
type RedisCache struct {
	next   Store
	client *redis.Client
	ttl    time.Duration
	logger logrus.FieldLogger
}

// NewRedisCache wraps next with a Redis cache
func NewRedisCache(next Store, client *redis.Client, ttl time.Duration, logger logrus.FieldLogger) *RedisCache {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &RedisCache{next: next, client: client, ttl: ttl, logger: logger}
}

func cacheKey(tenantID, staffID uuid.UUID) string {
	return fmt.Sprintf("clinicore:perms:%s:%s", tenantID, staffID)
}

func generationKey(tenantID, staffID uuid.UUID) string {
	return cacheKey(tenantID, staffID) + ":gen"
}

func (c *RedisCache) Get(ctx context.Context, tenantID, staffID uuid.UUID) (*ModulePermissions, error) {
	key := cacheKey(tenantID, staffID)

	data, err := c.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		if data == missingRecord {
			return nil, nil
		}
		var perms ModulePermissions
		if err := json.Unmarshal([]byte(data), &perms); err == nil {
			return &perms, nil
		}
		c.client.Del(ctx, key)
	case !errors.Is(err, redis.Nil):
		c.logger.WithError(err).WithField("key", key).Warn("permission cache read failed")
		return c.next.Get(ctx, tenantID, staffID)
	}

	gen, genErr := c.generation(ctx, c.client, generationKey(tenantID, staffID))

	perms, err := c.next.Get(ctx, tenantID, staffID)
	if err != nil {
		return nil, err
	}
	if genErr != nil {
		c.logger.WithError(genErr).WithField("key", key).Warn("permission cache read failed")
		return perms, nil
	}

	value := missingRecord
	if perms != nil {
		raw, err := json.Marshal(perms)
		if err != nil {
			return perms, nil
		}
		value = string(raw)
	}
	c.fill(ctx, tenantID, staffID, gen, value)
	return perms, nil
}

// fill caches value unless the record's generation moved past gen
func (c *RedisCache) fill(ctx context.Context, tenantID, staffID uuid.UUID, gen int64, value string) {
	key, genKey := cacheKey(tenantID, staffID), generationKey(tenantID, staffID)

	err := c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := c.generation(ctx, tx, genKey)
		if err != nil {
			return err
		}
		if current != gen {
			return errStaleFill
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, value, c.ttl)
			return nil
		})
		return err
	}, genKey)

	switch {
	case err == nil:
	case errors.Is(err, errStaleFill), errors.Is(err, redis.TxFailedErr):
		c.logger.WithField("key", key).Debug("skipped stale permission cache fill")
	default:
		c.logger.WithError(err).WithField("key", key).Warn("permission cache write failed")
	}
}

func (c *RedisCache) generation(ctx context.Context, cmd getter, genKey string) (int64, error) {
	gen, err := cmd.Get(ctx, genKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// Save writes through to the wrapped store and drops the cached entry.
// A failed invalidation is logged; the store write already happened.
func (c *RedisCache) Save(ctx context.Context, perms *ModulePermissions) error {
	if err := c.next.Save(ctx, perms); err != nil {
		return err
	}
	if err := c.Invalidate(ctx, perms.TenantID, perms.StaffID); err != nil {
		c.logger.WithError(err).WithFields(logrus.Fields{
			"tenant_id": perms.TenantID,
			"staff_id":  perms.StaffID,
		}).Error("permission cache invalidation failed")
	}
	return nil
}

// Invalidate bumps the record's generation and removes the cached entry
func (c *RedisCache) Invalidate(ctx context.Context, tenantID, staffID uuid.UUID) error {
	genKey := generationKey(tenantID, staffID)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, genKey)
		pipe.Expire(ctx, genKey, generationTTL)
		pipe.Del(ctx, cacheKey(tenantID, staffID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to invalidate permission cache: %w", err)
	}
	return nil
}
