package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/laflosh/Projet-7-Back-end-Mon-vieux-grimoire/internal/domain"
)

const (
	keyPrefix   = "books:bestrating:"
	scanPattern = keyPrefix + "*"
	scanCount   = 100

	// generationKey sits outside scanPattern so Invalidate never deletes it.
	generationKey = "books:bestrating-gen"
)

// errStaleGeneration aborts a fill that lost the race with an Invalidate.
var errStaleGeneration = errors.New("best rated generation changed")

// BestRatedCache implements cache.BestRatedCache using Redis.
type BestRatedCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewBestRatedCache creates a Redis-backed best-rated cache.
func NewBestRatedCache(client *redis.Client, ttl time.Duration) *BestRatedCache {
	return &BestRatedCache{
		client: client,
		ttl:    ttl,
	}
}

func key(n int) string {
	return keyPrefix + strconv.Itoa(n)
}

// Get reads the listing of size n.
func (c *BestRatedCache) Get(ctx context.Context, n int) ([]domain.Book, bool, error) {
	data, err := c.client.Get(ctx, key(n)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis get best rated: %w", err)
	}

	var books []domain.Book
	if err := json.Unmarshal(data, &books); err != nil {
		return nil, false, fmt.Errorf("unmarshal best rated: %w", err)
	}
	return books, true, nil
}

// Generation returns the current listing generation, 0 if none was
// recorded yet.
func (c *BestRatedCache) Generation(ctx context.Context) (int64, error) {
	gen, err := generation(ctx, c.client)
	if err != nil {
		return 0, fmt.Errorf("redis get best rated generation: %w", err)
	}
	return gen, nil
}

// Set stores the listing of size n with the configured TTL. The write runs
// in a WATCH/MULTI transaction on the generation key and is skipped when
// the generation is no longer gen.
func (c *BestRatedCache) Set(ctx context.Context, n int, gen int64, books []domain.Book) error {
	data, err := json.Marshal(books)
	if err != nil {
		return fmt.Errorf("marshal best rated: %w", err)
	}

	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := generation(ctx, tx)
		if err != nil {
			return err
		}
		if current != gen {
			return errStaleGeneration
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key(n), data, c.ttl)
			return nil
		})
		return err
	}, generationKey)

	switch {
	case err == nil, errors.Is(err, errStaleGeneration), errors.Is(err, redis.TxFailedErr):
		return nil
	default:
		return fmt.Errorf("redis set best rated: %w", err)
	}
}

// Invalidate bumps the generation, then scans for every listing key and
// deletes what it finds.
func (c *BestRatedCache) Invalidate(ctx context.Context) error {
	if err := c.client.Incr(ctx, generationKey).Err(); err != nil {
		return fmt.Errorf("redis incr best rated generation: %w", err)
	}

	var keys []string
	iter := c.client.Scan(ctx, 0, scanPattern, scanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan best rated: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}

	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del best rated: %w", err)
	}
	return nil
}

type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func generation(ctx context.Context, cmd stringGetter) (int64, error) {
	gen, err := cmd.Get(ctx, generationKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}
