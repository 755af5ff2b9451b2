package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/jason-s-yu/gameroom/internal/models"
)

// KV is the subset of redis the user cache needs.
type KV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// UserStore is the store the cache sits in front of.
type UserStore interface {
	FindUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	SaveRatings(ctx context.Context, id uuid.UUID, ratings []models.Rating) error
	CreateUser(ctx context.Context, user *models.User) error
}

// UserCache serves user lookups from redis and falls through to the store on
// a miss. Redis failures degrade to store reads.
type UserCache struct {
	rdb    KV
	store  UserStore
	ttl    time.Duration
	logger *logrus.Logger
}

// NewUserCache wraps store.
func NewUserCache(rdb KV, store UserStore, ttl time.Duration, logger *logrus.Logger) *UserCache {
	if logger == nil {
		logger = logrus.New()
	}
	return &UserCache{rdb: rdb, store: store, ttl: ttl, logger: logger}
}

func userKey(id uuid.UUID) string {
	return "user:" + id.String()
}

// FindUser returns the cached user or loads and caches it.
func (c *UserCache) FindUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	key := userKey(id)
	data, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var u models.User
		if err := json.Unmarshal(data, &u); err == nil {
			return &u, nil
		}
		c.logger.WithField("key", key).Warn("discarding malformed cached user")
	case !errors.Is(err, redis.Nil):
		c.logger.WithError(err).WithField("key", key).Warn("user cache read failed")
	}

	u, err := c.store.FindUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(u); err == nil {
		if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
			c.logger.WithError(err).WithField("key", key).Warn("user cache write failed")
		}
	}
	return u, nil
}

// SaveRatings writes through to the store and drops the cached copy.
func (c *UserCache) SaveRatings(ctx context.Context, id uuid.UUID, ratings []models.Rating) error {
	if err := c.store.SaveRatings(ctx, id, ratings); err != nil {
		return err
	}
	c.invalidate(ctx, id)
	return nil
}

// CreateUser writes through to the store.
func (c *UserCache) CreateUser(ctx context.Context, user *models.User) error {
	return c.store.CreateUser(ctx, user)
}

func (c *UserCache) invalidate(ctx context.Context, id uuid.UUID) {
	if err := c.rdb.Del(ctx, userKey(id)).Err(); err != nil {
		c.logger.WithError(err).WithField("user", id).Warn("user cache invalidation failed")
	}
}
