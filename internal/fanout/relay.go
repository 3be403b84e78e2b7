package fanout

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/tylaig/msatempmail/internal/domain"
	"github.com/tylaig/msatempmail/internal/storage"
)

// Relay 模式订阅所有邮箱主题，把每条消息按主题转发给 Hub
type Relay struct {
	ps    storage.PubSub
	hub   *Hub
	log   *zap.Logger
	ready chan struct{}
}

// NewRelay 创建中继
func NewRelay(ps storage.PubSub, hub *Hub, log *zap.Logger) *Relay {
	if log == nil {
		log = zap.NewNop()
	}
	return &Relay{ps: ps, hub: hub, log: log, ready: make(chan struct{})}
}

// Ready 在模式订阅建立后关闭
func (r *Relay) Ready() <-chan struct{} {
	return r.ready
}

// Run 阻塞转发，直到 ctx 被取消或订阅被后端关闭。只能调用一次。
func (r *Relay) Run(ctx context.Context) error {
	sub, err := r.ps.PSubscribe(ctx, domain.InboxPattern)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", domain.InboxPattern, err)
	}
	defer sub.Close()
	close(r.ready)

	r.log.Info("notification relay started", zap.String("pattern", domain.InboxPattern))

	for {
		select {
		case <-ctx.Done():
			r.log.Info("notification relay stopped")
			return nil
		case msg, ok := <-sub.Messages():
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("subscription %s closed", domain.InboxPattern)
			}
			n := r.hub.Dispatch(msg.Topic, msg.Payload)
			r.log.Debug("event relayed",
				zap.String("topic", msg.Topic),
				zap.Int("viewers", n),
			)
		}
	}
}
