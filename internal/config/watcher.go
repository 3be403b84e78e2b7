package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ReloadFunc 在配置文件变更且重新加载成功后被调用
type ReloadFunc func(cfg *Config)

// Watcher 监听配置文件变更，重新调用 Load 并把新配置交给 ReloadFunc。
//
// 监听的是文件所在目录而不是文件本身，这样编辑器的"写临时文件再重命名"
// 也能被捕获。
type Watcher struct {
	watcher  *fsnotify.Watcher
	path     string
	load     func() (*Config, error)
	onReload ReloadFunc
	debounce time.Duration
	log      *zap.Logger
}

// NewWatcher 创建配置文件监听器
func NewWatcher(path string, onReload ReloadFunc, log *zap.Logger) (*Watcher, error) {
	if path == "" {
		return nil, fmt.Errorf("config file path is empty")
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to watch %q: %w", abs, err)
	}

	return &Watcher{
		watcher:  w,
		path:     abs,
		load:     Load,
		onReload: onReload,
		debounce: 500 * time.Millisecond,
		log:      log,
	}, nil
}

// Run 阻塞监听文件变更，直到 ctx 被取消
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	var timer *time.Timer

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, w.reload)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("config watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := w.load()
	if err != nil {
		// 保留旧配置继续运行
		w.log.Error("config reload failed", zap.String("file", w.path), zap.Error(err))
		return
	}
	w.onReload(cfg)
	w.log.Info("config reloaded", zap.String("file", w.path))
}
