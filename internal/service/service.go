// Package service 实现邮箱的开通、查询、删除以及入站邮件的投递流水线。
package service

import (
	"context"
	"errors"
	"time"

	"github.com/tylaig/msatempmail/internal/domain"
)

// ErrBackendUnavailable 存储或通知后端访问失败，调用方应让发件方稍后重试
var ErrBackendUnavailable = errors.New("backend unavailable")

// MailboxStore 是服务依赖的邮箱存储，由 storage.MailboxStore 实现
type MailboxStore interface {
	CreateMailbox(ctx context.Context, address string, ttl time.Duration) (time.Duration, error)
	MailboxExists(ctx context.Context, address string) (bool, error)
	RemainingTTL(ctx context.Context, address string) (time.Duration, error)
	AppendMessage(ctx context.Context, address string, msg *domain.Message, ttl time.Duration) error
	ListMessages(ctx context.Context, address string) ([]string, error)
	GetMessage(ctx context.Context, id string) (*domain.Message, error)
	DeleteMailbox(ctx context.Context, address string) error
}

// Publisher 把新邮件事件通知给在线查看者，由 fanout.Publisher 实现
type Publisher interface {
	Publish(ctx context.Context, address string, msg *domain.Message) error
}
