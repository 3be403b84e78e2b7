package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tylaig/msatempmail/internal/config"
	"github.com/tylaig/msatempmail/internal/fanout"
	"github.com/tylaig/msatempmail/internal/health"
	"github.com/tylaig/msatempmail/internal/logger"
	"github.com/tylaig/msatempmail/internal/middleware"
	"github.com/tylaig/msatempmail/internal/monitoring"
	"github.com/tylaig/msatempmail/internal/service"
	"github.com/tylaig/msatempmail/internal/smtp"
	"github.com/tylaig/msatempmail/internal/storage"
	"github.com/tylaig/msatempmail/internal/storage/backend"
	httptransport "github.com/tylaig/msatempmail/internal/transport/http"
	"github.com/tylaig/msatempmail/internal/websocket"
)

// main 启动 HTTP API、内置 SMTP 接收和事件中继。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	log, err := logger.NewLogger(logger.FromConfig(cfg.Log))
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()

	log.Info("starting tempmail server",
		zap.String("log_level", cfg.Log.Level),
		zap.String("storage", cfg.Storage.Backend),
		zap.String("extractor", cfg.Ingest.Extractor),
		zap.Strings("domains", cfg.Mailbox.AllowedDomains),
	)

	kv, err := backend.Open(cfg, log)
	if err != nil {
		log.Fatal("failed to initialize storage", zap.Error(err))
	}
	defer kv.Close()

	metrics := monitoring.NewMetrics()

	store := storage.NewMailboxStore(kv, cfg.Redis.OpTimeout, log)
	publisher := fanout.NewPublisher(kv, cfg.Redis.OpTimeout, metrics)
	hub := fanout.NewHub(fanout.DefaultBuffer, log, metrics)
	relay := fanout.NewRelay(kv, hub, log)

	mailboxService := service.NewMailboxService(store, cfg, log, metrics)
	ingestService := service.NewIngestService(store, publisher, cfg, log, metrics)

	healthChecker := health.NewHealthChecker(store, cfg.Redis.OpTimeout, log)
	internalAuth := middleware.NewInternalAuth(cfg.Ingest.InternalToken)
	if cfg.Ingest.InternalToken == "" {
		log.Warn("internal token is empty, /internal/save-email will reject all requests")
	}

	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:         cfg,
		MailboxService: mailboxService,
		IngestService:  ingestService,
		InboxHandler:   websocket.NewHandler(hub, cfg.CORS.AllowedOrigins, log, metrics),
		Health:         healthChecker,
		Metrics:        metrics,
		InternalAuth:   internalAuth,
		Logger:         log,
	})

	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	var (
		smtpBackend *smtp.Backend
		smtpServer  *gosmtp.Server
	)
	if cfg.SMTP.Enabled {
		smtpBackend = smtp.NewBackend(ingestService, cfg, log, metrics)
		smtpServer = smtp.NewServer(smtpBackend, cfg)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	if smtpServer != nil {
		group.Go(func() error {
			log.Info("starting SMTP server",
				zap.String("address", cfg.SMTP.BindAddr),
				zap.String("domain", cfg.SMTP.Domain),
			)
			if err := smtpServer.ListenAndServe(); err != nil && !errors.Is(err, gosmtp.ErrServerClosed) {
				log.Error("SMTP server error", zap.Error(err))
				return err
			}
			return nil
		})
	}

	// 事件中继：存储后端的 inbox:* 主题 -> 本进程的查看者
	group.Go(func() error {
		return relay.Run(groupCtx)
	})

	if cfg.File != "" {
		watcher, err := config.NewWatcher(cfg.File, func(next *config.Config) {
			mailboxService.Reload(next)
			ingestService.Reload(next)
			internalAuth.SetToken(next.Ingest.InternalToken)
			if smtpBackend != nil {
				smtpBackend.Reload(next)
			}
		}, log)
		if err != nil {
			log.Warn("config hot reload disabled", zap.Error(err))
		} else {
			group.Go(func() error {
				log.Info("watching config file", zap.String("file", cfg.File))
				return watcher.Run(groupCtx)
			})
		}
	}

	// 优雅关闭
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}

		if smtpServer != nil {
			if err := smtpServer.Close(); err != nil {
				log.Warn("SMTP server close warning", zap.Error(err))
			}
		}

		hub.Close()
		log.Info("servers stopped")
		return nil
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("server error", zap.Error(err))
	}

	log.Info("server exited cleanly")
}
