package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"channel-access-bot/internal/config"
)

func ConnectRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		ReadTimeout:  cfg.RequestTimeout,
		WriteTimeout: cfg.RequestTimeout,
	})

	if _, err := rdb.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.Info().Msg("Connected to Redis")
	return rdb, nil
}

const grantLockPrefix = "grant:lock:"

var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// GrantLock serialises access grants per user across goroutines and
// processes.
type GrantLock struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewGrantLock(rdb *redis.Client, ttl time.Duration) *GrantLock {
	return &GrantLock{rdb: rdb, ttl: ttl}
}

// Acquire takes the lock for userID. It returns ok=false when another grant
// for the same user holds it. The returned release func is safe to call
// after the lock expired.
func (l *GrantLock) Acquire(ctx context.Context, userID int64) (func(), bool, error) {
	key := fmt.Sprintf("%s%d", grantLockPrefix, userID)
	token := uuid.NewString()

	ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire grant lock: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		// Release must outlive a cancelled request context.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, l.rdb, []string{key}, token).Err(); err != nil {
			log.Warn().Err(err).Int64("user_id", userID).Msg("Failed to release grant lock")
		}
	}
	return release, true, nil
}
