// Package fanout 把新邮件事件通知给在线查看者。
//
// 投递是尽力而为的：没有持久化、没有重放、没有确认。查看者重连后通过
// 邮件列表对账。
package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tylaig/msatempmail/internal/domain"
	"github.com/tylaig/msatempmail/internal/monitoring"
	"github.com/tylaig/msatempmail/internal/storage"
)

// Publisher 把 NEW_EMAIL 事件发布到邮箱主题上
type Publisher struct {
	ps        storage.PubSub
	opTimeout time.Duration
	metrics   *monitoring.Metrics
}

// NewPublisher 创建事件发布器
func NewPublisher(ps storage.PubSub, opTimeout time.Duration, metrics *monitoring.Metrics) *Publisher {
	if opTimeout <= 0 {
		opTimeout = storage.DefaultOpTimeout
	}
	return &Publisher{ps: ps, opTimeout: opTimeout, metrics: metrics}
}

// Publish 发布一条新邮件事件，不等待任何订阅者
func (p *Publisher) Publish(ctx context.Context, address string, msg *domain.Message) error {
	payload, err := json.Marshal(domain.Event{Type: domain.EventNewEmail, Data: msg})
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.opTimeout)
	defer cancel()

	if err := p.ps.Publish(ctx, domain.InboxTopic(address), payload); err != nil {
		return fmt.Errorf("publish to %s: %w", address, err)
	}
	p.metrics.RecordEventPublished()
	return nil
}
