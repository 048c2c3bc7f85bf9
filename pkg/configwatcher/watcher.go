package configwatcher

import (
	"luma_backend/internal/config"
	"luma_backend/pkg/logger"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ReloadFunc 在配置文件变更并重新解析成功后被调用
type ReloadFunc func(cfg *config.Config)

const debounce = time.Second

// Watch 监听配置文件变更并热加载。编辑器保存往往触发多个写事件，
// 以防抖计时器合并后只加载一次。解析失败保留旧配置。
func Watch(configPath string, reload ReloadFunc) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return err
	}
	if err := watcher.Add(absPath); err != nil {
		return err
	}

	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				timer.Reset(debounce)
			}
		case <-timer.C:
			newCfg, err := config.LoadConfig(filepath.Dir(absPath))
			if err != nil {
				logger.Log.Error("配置热加载失败，沿用当前配置", zap.String("path", absPath), zap.Error(err))
				continue
			}
			logger.Log.Info("配置已热加载", zap.String("path", absPath))
			reload(newCfg)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Log.Error("配置监听出错", zap.Error(err))
		}
	}
}
