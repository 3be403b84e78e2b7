// Package health 提供存活和就绪检查。
package health

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"
)

// 超过该数量的协程视为泄漏，进程不再存活
const maxGoroutines = 10000

// Pinger 是可以探测连通性的后端
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker 健康检查器
type HealthChecker struct {
	health  healthcheck.Handler
	backend Pinger
	timeout time.Duration
	logger  *zap.Logger
}

// NewHealthChecker 创建健康检查器
func NewHealthChecker(backend Pinger, timeout time.Duration, logger *zap.Logger) *HealthChecker {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	hc := &HealthChecker{
		health:  healthcheck.NewHandler(),
		backend: backend,
		timeout: timeout,
		logger:  logger,
	}

	hc.addChecks()

	return hc
}

// addChecks 添加健康检查
func (hc *HealthChecker) addChecks() {
	hc.health.AddLivenessCheck("goroutines", healthcheck.GoroutineCountCheck(maxGoroutines))

	// 存储后端不可用时不再接收流量，但进程仍然存活
	hc.health.AddReadinessCheck("backend", healthcheck.Timeout(hc.pingBackend, hc.timeout))
}

func (hc *HealthChecker) pingBackend() error {
	ctx, cancel := context.WithTimeout(context.Background(), hc.timeout)
	defer cancel()

	if err := hc.backend.Ping(ctx); err != nil {
		hc.logger.Warn("backend health check failed", zap.Error(err))
		return err
	}
	return nil
}

// LiveEndpoint 存活检查，对应 /health/live
func (hc *HealthChecker) LiveEndpoint(w http.ResponseWriter, r *http.Request) {
	hc.health.LiveEndpoint(w, r)
}

// ReadyEndpoint 就绪检查，对应 /health/ready
func (hc *HealthChecker) ReadyEndpoint(w http.ResponseWriter, r *http.Request) {
	hc.health.ReadyEndpoint(w, r)
}

// CheckHealth 执行健康检查
func (hc *HealthChecker) CheckHealth(ctx context.Context) map[string]string {
	results := make(map[string]string)

	ctx, cancel := context.WithTimeout(ctx, hc.timeout)
	defer cancel()

	if err := hc.backend.Ping(ctx); err != nil {
		results["backend"] = fmt.Sprintf("ERROR: %v", err)
	} else {
		results["backend"] = "OK"
	}

	results["system"] = "OK"
	results["timestamp"] = time.Now().Format(time.RFC3339)

	return results
}
