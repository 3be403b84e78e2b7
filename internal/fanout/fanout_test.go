package fanout

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tylaig/msatempmail/internal/domain"
	"github.com/tylaig/msatempmail/internal/monitoring"
	"github.com/tylaig/msatempmail/internal/storage/memory"
)

func receive(t *testing.T, sub *Subscription) []byte {
	t.Helper()
	select {
	case payload, ok := <-sub.C:
		require.True(t, ok, "subscription closed")
		return payload
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
		return nil
	}
}

func TestHub_Dispatch(t *testing.T) {
	hub := NewHub(4, zap.NewNop(), nil)

	a1 := hub.Subscribe("a@example.test")
	a2 := hub.Subscribe("a@example.test")
	b := hub.Subscribe("b@example.test")
	assert.Equal(t, 2, hub.Count("a@example.test"))

	n := hub.Dispatch(domain.InboxTopic("a@example.test"), []byte("hello"))
	assert.Equal(t, 2, n)

	assert.Equal(t, []byte("hello"), receive(t, a1))
	assert.Equal(t, []byte("hello"), receive(t, a2))
	assert.Len(t, b.C, 0, "其他邮箱不应收到事件")
}

func TestHub_IgnoresForeignTopics(t *testing.T) {
	hub := NewHub(4, zap.NewNop(), nil)
	sub := hub.Subscribe("a@example.test")

	assert.Equal(t, 0, hub.Dispatch("a@example.test", []byte("x")))
	assert.Equal(t, 0, hub.Dispatch("inbox:", []byte("x")))
	assert.Len(t, sub.C, 0)
}

func TestHub_DropsWhenBufferFull(t *testing.T) {
	metrics := monitoring.NewMetrics()
	hub := NewHub(1, zap.NewNop(), metrics)
	slow := hub.Subscribe("a@example.test")
	fast := hub.Subscribe("a@example.test")

	topic := domain.InboxTopic("a@example.test")
	assert.Equal(t, 2, hub.Dispatch(topic, []byte("1")))
	receive(t, fast)

	// slow 的缓冲已满，只投递给 fast
	assert.Equal(t, 1, hub.Dispatch(topic, []byte("2")))
	assert.Equal(t, []byte("2"), receive(t, fast))
	assert.Equal(t, []byte("1"), receive(t, slow))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.EventsDropped))
}

func TestHub_Close(t *testing.T) {
	hub := NewHub(4, zap.NewNop(), nil)
	sub := hub.Subscribe("a@example.test")

	sub.Close()
	sub.Close()
	_, ok := <-sub.C
	assert.False(t, ok)
	assert.Equal(t, 0, hub.Count("a@example.test"))

	other := hub.Subscribe("b@example.test")
	hub.Close()
	_, ok = <-other.C
	assert.False(t, ok)

	late := hub.Subscribe("c@example.test")
	_, ok = <-late.C
	assert.False(t, ok)
	late.Close()
}

func TestRelay_ForwardsByTopic(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backend := memory.NewStore(memory.WithCleanupInterval(0))
	defer backend.Close()

	hub := NewHub(4, zap.NewNop(), nil)
	relay := NewRelay(backend, hub, zap.NewNop())

	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()
	<-relay.Ready()

	viewer := hub.Subscribe("demo@example.test")
	other := hub.Subscribe("other@example.test")
	defer viewer.Close()
	defer other.Close()

	publisher := NewPublisher(backend, time.Second, nil)
	msg := &domain.Message{ID: "m1", From: "a@x.com", To: "demo@example.test", Text: "hello"}
	require.NoError(t, publisher.Publish(ctx, "demo@example.test", msg))

	var event domain.Event
	require.NoError(t, json.Unmarshal(receive(t, viewer), &event))
	assert.Equal(t, domain.EventNewEmail, event.Type)
	assert.Equal(t, "m1", event.Data.ID)
	assert.Equal(t, "hello", event.Data.Text)
	assert.Len(t, other.C, 0)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop")
	}
}

func TestRelay_BackendClosed(t *testing.T) {
	backend := memory.NewStore(memory.WithCleanupInterval(0))
	relay := NewRelay(backend, NewHub(1, nil, nil), nil)

	done := make(chan error, 1)
	go func() { done <- relay.Run(context.Background()) }()
	<-relay.Ready()

	backend.Close()
	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop")
	}
}

func TestPublisher_EventShape(t *testing.T) {
	ctx := context.Background()
	backend := memory.NewStore(memory.WithCleanupInterval(0))
	defer backend.Close()

	sub, err := backend.PSubscribe(ctx, domain.InboxPattern)
	require.NoError(t, err)

	publisher := NewPublisher(backend, 0, nil)
	require.NoError(t, publisher.Publish(ctx, "demo@example.test", &domain.Message{ID: "m1"}))

	msg := <-sub.Messages()
	assert.Equal(t, "inbox:demo@example.test", msg.Topic)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(msg.Payload, &raw))
	assert.JSONEq(t, `"NEW_EMAIL"`, string(raw["type"]))
	assert.Contains(t, string(raw["data"]), `"id":"m1"`)
}
