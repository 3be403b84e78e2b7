// Package redis 基于 go-redis 实现带过期时间的键值后端和发布订阅后端。
package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tylaig/msatempmail/internal/config"
	"github.com/tylaig/msatempmail/internal/storage"
)

// Client 封装 Redis 客户端，实现 storage.KV 和 storage.PubSub
type Client struct {
	rdb *goredis.Client
	log *zap.Logger
}

var _ storage.Backend = (*Client)(nil)

// New 创建新的 Redis 客户端并测试连接
func New(cfg config.RedisConfig, log *zap.Logger) (*Client, error) {
	timeout := cfg.OpTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// 测试连接
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if log == nil {
		log = zap.NewNop()
	}
	log.Info("connected to Redis",
		zap.String("address", cfg.Address),
		zap.Int("db", cfg.DB),
	)

	return &Client{
		rdb: rdb,
		log: log,
	}, nil
}

// Close 关闭 Redis 连接
func (c *Client) Close() error {
	err := c.rdb.Close()
	if err != nil {
		c.log.Error("failed to close Redis connection", zap.Error(err))
		return err
	}
	c.log.Info("Redis connection closed")
	return nil
}

// Ping 测试 Redis 连接
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// SetEX 设置键值（带过期时间）
func (c *Client) SetEX(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

// Get 获取键值
func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, storage.ErrKeyNotFound
	}
	return data, err
}

// Del 删除键
func (c *Client) Del(ctx context.Context, keys ...string) error {
	return c.rdb.Del(ctx, keys...).Err()
}

// Exists 检查键是否存在
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// TTL 获取键的剩余生存时间
func (c *Client) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := c.rdb.PTTL(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	// -2 表示键不存在，-1 表示没有过期时间
	switch ttl {
	case -2:
		return 0, storage.ErrKeyNotFound
	case -1:
		return 0, nil
	}
	return ttl, nil
}

// Expire 设置键的过期时间
func (c *Client) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return c.rdb.PExpire(ctx, key, ttl).Result()
}

// ResetList 在一个事务中删除旧列表、写入头元素并设置过期时间
func (c *Client) ResetList(ctx context.Context, key, head string, ttl time.Duration) error {
	_, err := c.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.RPush(ctx, key, head)
		pipe.PExpire(ctx, key, ttl)
		return nil
	})
	return err
}

// PushExisting 使用 RPUSHX，列表不存在时不会创建
func (c *Client) PushExisting(ctx context.Context, key, value string) (bool, error) {
	n, err := c.rdb.RPushX(ctx, key, value).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Range 读取列表
func (c *Client) Range(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return c.rdb.LRange(ctx, key, start, stop).Result()
}

// Publish 发布消息
func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	return c.rdb.Publish(ctx, topic, payload).Err()
}

// PSubscribe 按模式订阅，等待服务端确认后返回
func (c *Client) PSubscribe(ctx context.Context, pattern string) (storage.Subscription, error) {
	ps := c.rdb.PSubscribe(ctx, pattern)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("psubscribe %s: %w", pattern, err)
	}

	sub := &subscription{
		ps:   ps,
		out:  make(chan storage.Message, 64),
		done: make(chan struct{}),
	}
	go sub.forward()
	return sub, nil
}

// subscription 把 go-redis 的消息转换为 storage.Message
type subscription struct {
	ps        *goredis.PubSub
	out       chan storage.Message
	done      chan struct{}
	closeOnce sync.Once
}

func (s *subscription) forward() {
	defer close(s.out)

	for msg := range s.ps.Channel() {
		select {
		case s.out <- storage.Message{Topic: msg.Channel, Payload: []byte(msg.Payload)}:
		case <-s.done:
			return
		}
	}
}

func (s *subscription) Messages() <-chan storage.Message {
	return s.out
}

func (s *subscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}
