package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Consecutive-failure counter per target. The counter is a fast path for
// alert gating; the durable tick history in Postgres remains the source of
// truth when redis is unavailable.

func (c *Client) IncrementFailures(ctx context.Context, targetID uuid.UUID) (int64, error) {
	key := fmt.Sprintf("target:failures:%v", targetID)
	now := time.Now().Unix()

	var failureCount int64

	err := retry(ctx, 3, func() error {
		var err error

		failureCount, err = c.rdb.HIncrBy(ctx, key, "failure_count", 1).Result()
		if err != nil {
			return err
		}

		if failureCount == 1 {
			c.rdb.HSet(ctx, key,
				"first_failure_at", now,
				"last_failure_at", now,
			)
		} else {
			c.rdb.HSet(ctx, key, "last_failure_at", now)
		}

		return nil
	})

	return failureCount, err
}

func (c *Client) ClearFailures(ctx context.Context, targetID uuid.UUID) error {
	key := fmt.Sprintf("target:failures:%v", targetID)

	return retry(ctx, 2, func() error {
		return c.rdb.Del(ctx, key).Err()
	})
}

func (c *Client) GetFailures(ctx context.Context, targetID uuid.UUID) (int64, error) {
	key := fmt.Sprintf("target:failures:%v", targetID)

	resp, err := c.rdb.HGet(ctx, key, "failure_count").Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return resp, err
}
