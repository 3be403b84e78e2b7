// Package httptransport 提供邮箱查询、内部投递和查看者推送的 HTTP 接口。
package httptransport

import (
	"net/http"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tylaig/msatempmail/internal/config"
	"github.com/tylaig/msatempmail/internal/health"
	"github.com/tylaig/msatempmail/internal/middleware"
	"github.com/tylaig/msatempmail/internal/monitoring"
	"github.com/tylaig/msatempmail/internal/service"
	"github.com/tylaig/msatempmail/internal/websocket"
)

// Handler 聚合所有 HTTP 处理逻辑。
type Handler struct {
	mailboxes *service.MailboxService
	ingest    *service.IngestService
	log       *zap.Logger
}

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config         *config.Config
	MailboxService *service.MailboxService
	IngestService  *service.IngestService
	InboxHandler   *websocket.Handler       // 可选：查看者推送
	Health         *health.HealthChecker    // 可选：健康检查
	Metrics        *monitoring.Metrics      // 可选：为 nil 时不暴露 /metrics
	InternalAuth   *middleware.InternalAuth // 可选：默认使用配置中的令牌
	Logger         *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	router := gin.New()

	monitor := middleware.NewMonitoringMiddleware(deps.Metrics, log)
	router.Use(monitor.PanicRecovery())
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.SecurityHeaders())
	router.Use(monitor.HTTPMetrics())

	// CORS 配置
	corsConfig := gincors.Config{
		AllowOrigins:     deps.Config.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	// 如果允许所有来源，则需清空凭证支持。
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowOrigins = nil
			corsConfig.AllowAllOrigins = true
			corsConfig.AllowCredentials = false
			break
		}
	}
	router.Use(gincors.New(corsConfig))

	handler := &Handler{
		mailboxes: deps.MailboxService,
		ingest:    deps.IngestService,
		log:       log,
	}

	// 健康检查
	if deps.Health != nil {
		router.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, deps.Health.CheckHealth(c.Request.Context()))
		})
		router.GET("/health/live", gin.WrapF(deps.Health.LiveEndpoint))
		router.GET("/health/ready", gin.WrapF(deps.Health.ReadyEndpoint))
	} else {
		router.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})
	}

	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))
	}

	api := router.Group("")
	api.Use(middleware.BodySizeLimit(middleware.SmallBodyLimit))
	{
		api.POST("/mailbox/create", handler.createMailbox)
		api.GET("/mailbox/:address", handler.listMessages)
		api.DELETE("/mailbox/:address", handler.deleteMailbox)
		api.GET("/message/:id", handler.getMessage)
	}

	if deps.InboxHandler != nil {
		router.GET("/ws/inbox/:address", deps.InboxHandler.ServeInbox)
	}

	internalAuth := deps.InternalAuth
	if internalAuth == nil {
		internalAuth = middleware.NewInternalAuth(deps.Config.Ingest.InternalToken)
	}

	internal := router.Group("/internal")
	internal.Use(internalAuth.RequireToken())
	internal.Use(middleware.BodySizeLimit(middleware.IngestBodyLimit(deps.Config.Ingest.MaxMessageBytes)))
	{
		internal.POST("/save-email", handler.saveEmail)
	}

	return router
}
