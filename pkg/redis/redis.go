package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultPoolSize    = 20
	defaultDialTimeout = 5 * time.Second
)

// Options 为零值的字段使用默认值
type Options struct {
	Host        string
	Port        int
	Password    string
	DB          int
	PoolSize    int
	DialTimeout time.Duration
}

func (o *Options) clientOptions() *redis.Options {
	poolSize := o.PoolSize
	if poolSize <= 0 {
		poolSize = defaultPoolSize
	}
	timeout := o.DialTimeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	return &redis.Options{
		Addr:         fmt.Sprintf("%s:%d", o.Host, o.Port),
		Password:     o.Password,
		DB:           o.DB,
		PoolSize:     poolSize,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
		// 跳转路径上宁可快速失败退化为查库，也不长时间排队等连接
		PoolTimeout: timeout,
	}
}

// NewRedisClient 创建 Redis 客户端；Host 为空时返回 nil，调用方应退化为进程内实现
func NewRedisClient(opts *Options) (*redis.Client, error) {
	if opts == nil || opts.Host == "" {
		return nil, nil
	}

	clientOpts := opts.clientOptions()
	client := redis.NewClient(clientOpts)

	ctx, cancel := context.WithTimeout(context.Background(), clientOpts.DialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("Redis连接失败 (%s): %w", clientOpts.Addr, err)
	}

	return client, nil
}
