package infra

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

func redisOptions(url, appName string) (*redis.Options, error) {
	if url == "" {
		return nil, fmt.Errorf("redis url is required")
	}

	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	// CLIENT SETNAME rejects spaces.
	if name := strings.Join(strings.Fields(appName), "-"); name != "" && opt.ClientName == "" {
		opt.ClientName = name
	}
	return opt, nil
}

// NewRedisClient builds the client behind idempotency keys, rate limits and
// the sweep lock, named after the service in CLIENT LIST.
func NewRedisClient(ctx context.Context, url, appName string) (*redis.Client, error) {
	opt, err := redisOptions(url, appName)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opt)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return client, nil
}
