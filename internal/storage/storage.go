// Package storage 定义带生存时间的键值后端、发布订阅后端，以及构建在其上的邮箱存储。
package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrKeyNotFound 键不存在或已过期
	ErrKeyNotFound = errors.New("key not found")
	// ErrMailboxNotFound 邮箱不存在或已过期
	ErrMailboxNotFound = errors.New("mailbox not found")
	// ErrMessageNotFound 邮件不存在或已过期
	ErrMessageNotFound = errors.New("message not found")
)

// KV 是支持过期时间的键值后端，所有操作都只涉及单个键。
type KV interface {
	// SetEX 写入值并设置过期时间
	SetEX(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Get 读取值，键不存在时返回 ErrKeyNotFound
	Get(ctx context.Context, key string) ([]byte, error)
	Del(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	// TTL 返回剩余生存时间，键不存在时返回 ErrKeyNotFound，没有过期时间时返回 0
	TTL(ctx context.Context, key string) (time.Duration, error)
	// Expire 设置过期时间，键不存在时返回 false
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// ResetList 原子地把 key 重置为只包含 head 的列表并设置过期时间
	ResetList(ctx context.Context, key, head string, ttl time.Duration) error
	// PushExisting 仅当列表存在时追加到末尾，不改变过期时间
	PushExisting(ctx context.Context, key, value string) (bool, error)
	// Range 按下标读取列表，语义与 Redis LRANGE 相同，键不存在时返回空切片
	Range(ctx context.Context, key string, start, stop int64) ([]string, error)
	Ping(ctx context.Context) error
	Close() error
}

// Message 是从订阅中收到的一条消息，保留其所属主题
type Message struct {
	Topic   string
	Payload []byte
}

// Subscription 是一个模式订阅，Close 后 Messages 通道被关闭
type Subscription interface {
	Messages() <-chan Message
	Close() error
}

// PubSub 是尽力投递的发布订阅后端，不持久化、不重放
type PubSub interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	// PSubscribe 按 glob 模式订阅所有匹配的主题
	PSubscribe(ctx context.Context, pattern string) (Subscription, error)
}

// Backend 同时提供键值和发布订阅能力
type Backend interface {
	KV
	PubSub
}
