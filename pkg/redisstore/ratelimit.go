package redisstore

import (
	"context"
	"fmt"
	"time"
)

// Limiter counts check-ins per (slug, environment) inside a fixed window.
// The counter key is created on first INCR and expires with the window,
// so an idle monitor holds no redis state.
type Limiter struct {
	client *Client
	quota  int64
	window time.Duration
}

func NewLimiter(client *Client, quota int64, window time.Duration) *Limiter {
	return &Limiter{
		client: client,
		quota:  quota,
		window: window,
	}
}

func (l *Limiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := fmt.Sprintf("checkin:window:%v", key)

	var count int64

	err := retry(ctx, 2, func() error {
		var err error
		count, err = l.client.rdb.Incr(ctx, redisKey).Result()
		if err != nil {
			return err
		}

		if count == 1 {
			// first event opens the window
			l.client.rdb.Expire(ctx, redisKey, l.window)
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	return count <= l.quota, nil
}
