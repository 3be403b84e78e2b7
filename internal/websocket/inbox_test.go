package websocket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tylaig/msatempmail/internal/domain"
	"github.com/tylaig/msatempmail/internal/fanout"
)

func newTestServer(t *testing.T, origins []string) (*httptest.Server, *fanout.Hub) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hub := fanout.NewHub(4, zap.NewNop(), nil)
	router := gin.New()
	router.GET("/ws/inbox/:address", NewHandler(hub, origins, zap.NewNop(), nil).ServeInbox)

	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		srv.Close()
		hub.Close()
	})
	return srv, hub
}

func wsURL(srv *httptest.Server, address string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/inbox/" + address
}

func TestHandler_ServeInbox(t *testing.T) {
	t.Run("推送订阅邮箱的事件", func(t *testing.T) {
		srv, hub := newTestServer(t, nil)

		conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "Demo@Example.test"), nil)
		require.NoError(t, err)
		defer conn.Close()

		require.Eventually(t, func() bool {
			return hub.Count("demo@example.test") == 1
		}, 2*time.Second, 10*time.Millisecond)

		hub.Dispatch(domain.InboxTopic("other@example.test"), []byte(`{"type":"NEW_EMAIL","data":{"id":"x"}}`))
		hub.Dispatch(domain.InboxTopic("demo@example.test"), []byte(`{"type":"NEW_EMAIL","data":{"id":"1"}}`))

		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		kind, payload, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, websocket.TextMessage, kind)
		assert.JSONEq(t, `{"type":"NEW_EMAIL","data":{"id":"1"}}`, string(payload))
	})

	t.Run("断开连接后取消订阅", func(t *testing.T) {
		srv, hub := newTestServer(t, nil)

		conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "demo@example.test"), nil)
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			return hub.Count("demo@example.test") == 1
		}, 2*time.Second, 10*time.Millisecond)

		conn.Close()

		assert.Eventually(t, func() bool {
			return hub.Count("demo@example.test") == 0
		}, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("非法地址拒绝升级", func(t *testing.T) {
		srv, _ := newTestServer(t, nil)

		_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "not-an-address"), nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("不允许的来源", func(t *testing.T) {
		srv, _ := newTestServer(t, []string{"https://mail.example.test"})

		header := http.Header{"Origin": []string{"https://evil.test"}}
		_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "demo@example.test"), header)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)

		header.Set("Origin", "https://mail.example.test")
		conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "demo@example.test"), header)
		require.NoError(t, err)
		conn.Close()
	})
}
