package redis

import (
	"context"
	"fmt"
	"time"

	"chatwave/global"

	"github.com/redis/go-redis/v9"
)

// NewClient 创建 Redis 客户端并 Ping 校验
func NewClient(ctx context.Context, c global.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     c.Addr,
		Password: c.Password,
		DB:       c.DB,
		PoolSize: c.PoolSize,
	})

	pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", c.Addr, err)
	}
	return rdb, nil
}
