package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tylaig/msatempmail/internal/config"
	"github.com/tylaig/msatempmail/internal/domain"
	"github.com/tylaig/msatempmail/internal/storage"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client, err := New(config.RedisConfig{Address: mr.Addr(), OpTimeout: time.Second}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client, mr
}

func TestNew_ConnectionFailure(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	_, err = New(config.RedisConfig{Address: addr}, zap.NewNop())
	assert.Error(t, err)
}

func TestClient_KeyValue(t *testing.T) {
	ctx := context.Background()
	client, mr := newTestClient(t)

	require.NoError(t, client.SetEX(ctx, "k", []byte("v"), time.Minute))

	data, err := client.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), data)

	ok, err := client.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	ttl, err := client.TTL(ctx, "k")
	require.NoError(t, err)
	assert.InDelta(t, time.Minute.Seconds(), ttl.Seconds(), 1)

	mr.FastForward(2 * time.Minute)

	_, err = client.Get(ctx, "k")
	assert.ErrorIs(t, err, storage.ErrKeyNotFound)

	_, err = client.TTL(ctx, "k")
	assert.ErrorIs(t, err, storage.ErrKeyNotFound)
}

func TestClient_TTLWithoutExpiry(t *testing.T) {
	ctx := context.Background()
	client, mr := newTestClient(t)

	require.NoError(t, mr.Set("plain", "x"))

	ttl, err := client.TTL(ctx, "plain")
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), ttl)

	ok, err := client.Expire(ctx, "plain", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = client.Expire(ctx, "missing", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClient_List(t *testing.T) {
	ctx := context.Background()
	client, mr := newTestClient(t)

	pushed, err := client.PushExisting(ctx, "list", "a")
	require.NoError(t, err)
	assert.False(t, pushed, "不存在的列表不能被创建")
	assert.False(t, mr.Exists("list"))

	require.NoError(t, client.ResetList(ctx, "list", "head", time.Minute))
	pushed, err = client.PushExisting(ctx, "list", "a")
	require.NoError(t, err)
	assert.True(t, pushed)

	items, err := client.Range(ctx, "list", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"head", "a"}, items)

	// 重置会清空旧元素
	require.NoError(t, client.ResetList(ctx, "list", "head", time.Minute))
	items, err = client.Range(ctx, "list", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"head"}, items)

	mr.FastForward(time.Minute + time.Second)
	items, err = client.Range(ctx, "list", 0, -1)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestClient_PubSub(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t)

	sub, err := client.PSubscribe(ctx, domain.InboxPattern)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, client.Publish(ctx, "other:x", []byte("ignored")))
	require.NoError(t, client.Publish(ctx, domain.InboxTopic("demo@example.test"), []byte("payload")))

	select {
	case msg := <-sub.Messages():
		assert.Equal(t, "inbox:demo@example.test", msg.Topic)
		assert.Equal(t, []byte("payload"), msg.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}

	require.NoError(t, sub.Close())
	assert.NoError(t, sub.Close(), "重复关闭不应出错")

	select {
	case _, ok := <-sub.Messages():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription channel not closed")
	}
}

func TestMailboxStore_WithRedis(t *testing.T) {
	ctx := context.Background()
	client, mr := newTestClient(t)
	store := storage.NewMailboxStore(client, time.Second, zap.NewNop())

	_, err := store.CreateMailbox(ctx, "demo@example.test", 15*time.Minute)
	require.NoError(t, err)

	ids, err := store.ListMessages(ctx, "demo@example.test")
	require.NoError(t, err)
	assert.Empty(t, ids)

	msg := &domain.Message{ID: "m1", To: "demo@example.test", Text: "hello"}
	require.NoError(t, store.AppendMessage(ctx, "demo@example.test", msg, 15*time.Minute))

	ids, err = store.ListMessages(ctx, "demo@example.test")
	require.NoError(t, err)
	assert.Equal(t, []string{"m1"}, ids)

	mr.FastForward(16 * time.Minute)

	_, err = store.ListMessages(ctx, "demo@example.test")
	assert.ErrorIs(t, err, storage.ErrMailboxNotFound)
	_, err = store.GetMessage(ctx, "m1")
	assert.ErrorIs(t, err, storage.ErrMessageNotFound)
}
