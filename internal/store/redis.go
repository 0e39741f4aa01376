package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Redis backs Store with a shared Redis instance so any number of server
// processes can coordinate the same rooms.
type Redis struct {
	rdb *redis.Client
}

func NewRedis(ctx context.Context, addr, password string, db int) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	log.Info().Str("module", "store.redis").Str("addr", addr).Msg("connected")
	return &Redis{rdb: rdb}, nil
}

func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	v, err := r.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	return v, err
}

func (r *Redis) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.rdb.Set(ctx, key, value, normalizeTTL(ttl)).Err()
}

func (r *Redis) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return r.rdb.SetNX(ctx, key, value, normalizeTTL(ttl)).Result()
}

func (r *Redis) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.rdb.Del(ctx, keys...).Err()
}

func (r *Redis) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return r.rdb.Expire(ctx, key, ttl).Result()
}

func (r *Redis) ScanPrefix(ctx context.Context, prefix string) ([]string, error) {
	var (
		out    []string
		cursor uint64
	)
	for {
		keys, next, err := r.rdb.Scan(ctx, cursor, prefix+"*", 100).Result()
		if err != nil {
			return nil, err
		}
		out = append(out, keys...)
		if next == 0 {
			return out, nil
		}
		cursor = next
	}
}

func (r *Redis) Incr(ctx context.Context, key string) (int64, error) {
	return r.rdb.Incr(ctx, key).Result()
}

func (r *Redis) Decr(ctx context.Context, key string) (int64, error) {
	return r.rdb.Decr(ctx, key).Result()
}

func (r *Redis) ZAddNX(ctx context.Context, key, member string, score float64) error {
	return r.rdb.ZAddNX(ctx, key, redis.Z{Score: score, Member: member}).Err()
}

func (r *Redis) ZRem(ctx context.Context, key, member string) error {
	return r.rdb.ZRem(ctx, key, member).Err()
}

func (r *Redis) ZRange(ctx context.Context, key string) ([]string, error) {
	return r.rdb.ZRange(ctx, key, 0, -1).Result()
}

func (r *Redis) AppendPublish(ctx context.Context, bufKey, channel, value string, maxLen int64, ttl time.Duration) error {
	// MULTI/EXEC keeps the buffer append and the publish as one step so a
	// subscriber never sees a message the buffer doesn't hold.
	pipe := r.rdb.TxPipeline()
	pipe.RPush(ctx, bufKey, value)
	pipe.LTrim(ctx, bufKey, -maxLen, -1)
	pipe.Expire(ctx, bufKey, ttl)
	pipe.Publish(ctx, channel, value)
	_, err := pipe.Exec(ctx)
	return err
}

func (r *Redis) ListRange(ctx context.Context, key string) ([]string, error) {
	return r.rdb.LRange(ctx, key, 0, -1).Result()
}

func (r *Redis) Publish(ctx context.Context, channel, payload string) error {
	return r.rdb.Publish(ctx, channel, payload).Err()
}

type redisSub struct {
	ps   *redis.PubSub
	msgs chan string
}

func (s *redisSub) Messages() <-chan string { return s.msgs }

func (s *redisSub) Close() error { return s.ps.Close() }

func (r *Redis) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	ps := r.rdb.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", channel, err)
	}
	sub := &redisSub{ps: ps, msgs: make(chan string, 64)}
	go func() {
		defer close(sub.msgs)
		for {
			select {
			case <-ctx.Done():
				_ = ps.Close()
				return
			case msg, ok := <-ps.Channel():
				if !ok {
					return
				}
				sub.msgs <- msg.Payload
			}
		}
	}()
	return sub, nil
}

func (r *Redis) Close() error { return r.rdb.Close() }

func normalizeTTL(ttl time.Duration) time.Duration {
	if ttl < 0 {
		return 0
	}
	return ttl
}
