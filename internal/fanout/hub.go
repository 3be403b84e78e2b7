package fanout

import (
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/tylaig/msatempmail/internal/domain"
	"github.com/tylaig/msatempmail/internal/monitoring"
)

// DefaultBuffer 每个订阅者缓冲的事件数
const DefaultBuffer = 16

// Subscription 是一个查看者对某个邮箱的订阅
type Subscription struct {
	// C 接收事件载荷，Close 之后被关闭
	C <-chan []byte

	ch      chan []byte
	address string
	hub     *Hub
}

// Close 取消订阅，可以重复调用
func (s *Subscription) Close() {
	s.hub.remove(s)
}

// Hub 是进程内的订阅表，按邮箱地址把事件分发给查看者
type Hub struct {
	mu      sync.RWMutex
	subs    map[string]map[*Subscription]struct{}
	buffer  int
	closed  bool
	log     *zap.Logger
	metrics *monitoring.Metrics
}

// NewHub 创建订阅表
func NewHub(buffer int, log *zap.Logger, metrics *monitoring.Metrics) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		subs:    make(map[string]map[*Subscription]struct{}),
		buffer:  buffer,
		log:     log,
		metrics: metrics,
	}
}

// Subscribe 订阅邮箱，订阅之前发布的事件不会被收到
func (h *Hub) Subscribe(address string) *Subscription {
	ch := make(chan []byte, h.buffer)
	sub := &Subscription{C: ch, ch: ch, address: address, hub: h}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		close(ch)
		return sub
	}
	if h.subs[address] == nil {
		h.subs[address] = make(map[*Subscription]struct{})
	}
	h.subs[address][sub] = struct{}{}
	return sub
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.subs[sub.address]
	if !ok {
		return
	}
	if _, ok := subs[sub]; !ok {
		return
	}
	delete(subs, sub)
	if len(subs) == 0 {
		delete(h.subs, sub.address)
	}
	close(sub.ch)
}

// Dispatch 把某个主题上的事件分发给该邮箱的所有订阅者，返回送达的数量。
//
// 订阅者缓冲已满时丢弃该事件，不阻塞其他订阅者。
func (h *Hub) Dispatch(topic string, payload []byte) int {
	address, ok := strings.CutPrefix(topic, domain.TopicPrefix)
	if !ok || address == "" {
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for sub := range h.subs[address] {
		select {
		case sub.ch <- payload:
			delivered++
		default:
			h.metrics.RecordEventDropped()
			h.log.Warn("viewer buffer full, dropping event", zap.String("address", address))
		}
	}
	return delivered
}

// Count 返回某个邮箱当前的订阅者数量
func (h *Hub) Count(address string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[address])
}

// Close 关闭所有订阅，之后的订阅立即结束
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for address, subs := range h.subs {
		for sub := range subs {
			close(sub.ch)
		}
		delete(h.subs, address)
	}
	h.closed = true
}
