package app

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"proxychecker/internal/service/web"
	"proxychecker/internal/shared/globalstate"
	"proxychecker/internal/shared/logger"
	"proxychecker/internal/shared/settings"
	"proxychecker/internal/shared/types"
	manager "proxychecker/proxypool"
	"proxychecker/proxypool/storage"
)

// logBurst 是 info 日志限流器的突发容量
const logBurst = 20

// AppServer is the application's main struct. It owns the batch manager,
// rebuilds its components when runtime settings change and exposes the
// batch lifecycle to the console and web front ends.
type AppServer struct {
	cfg     *types.Config
	iniPath string

	settingsManager *settings.SettingsManager

	// componentsLock 保护根据配置构建的共享客户端
	componentsLock sync.RWMutex
	sources        sourceFactory

	manager *manager.Manager
	logSink *logger.ThrottledSink
	hub     *web.Hub // 仅 Web 模式
	storage *storage.FileStorage

	// batchLock 保护 batchActive, 防止 Web 请求并发启动批次
	batchLock   sync.Mutex
	batchActive bool

	ctx       context.Context
	cancel    context.CancelFunc
	waitGroup sync.WaitGroup
	stopOnce  sync.Once
}

// AppServer must implement the interfaces its collaborators depend on.
var _ settings.ConfigurableModule = (*AppServer)(nil)
var _ web.CheckerController = (*AppServer)(nil)

// NewForConsole creates an AppServer for one-shot command line runs.
// extra 通常是进度条和结果打印器。
func NewForConsole(cfg *types.Config, iniPath string, extra manager.Sinks) (*AppServer, error) {
	return newAppServer(cfg, iniPath, nil, extra)
}

// NewForWeb creates an AppServer whose events are streamed through the web Hub.
func NewForWeb(cfg *types.Config, iniPath string) (*AppServer, error) {
	hub := web.NewHub()
	return newAppServer(cfg, iniPath, hub, manager.Sinks{
		Results:  []manager.ResultSink{hub},
		Logs:     []manager.LogSink{hub},
		Progress: []manager.ProgressSink{hub},
	})
}

func newAppServer(cfg *types.Config, iniPath string, hub *web.Hub, extra manager.Sinks) (*AppServer, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &AppServer{
		cfg:     cfg,
		iniPath: iniPath,
		hub:     hub,
		storage: storage.NewFileStorage(cfg.ExportConf.Dir),
		ctx:     ctx,
		cancel:  cancel,
	}

	sm, err := settings.NewSettingsManager(s.settingsPath())
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize settings manager: %w", err)
	}
	s.settingsManager = sm

	// zerolog 输出始终存在, info 行按配置限流, 警告和错误不受影响
	s.logSink = logger.NewThrottledSink(logger.NewSink("Checker"), cfg.LogConf.ThrottlePerSecond, logBurst)
	sinks := extra
	sinks.Logs = append([]manager.LogSink{s.logSink}, extra.Logs...)

	initial := sm.Get().Checker
	components := s.buildComponents(initial)
	s.manager = manager.NewManager(components, sinks)

	sm.Register("checker", s)
	return s, nil
}

// settingsPath 返回 settings.json 的位置。没有 ini 文件时配置只保存在内存中。
func (s *AppServer) settingsPath() string {
	if s.iniPath == "" {
		return ""
	}
	name := s.cfg.CheckerConf.SettingsFile
	if name == "" {
		name = "settings.json"
	}
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(filepath.Dir(s.iniPath), name)
}

// RunOnce 执行一次批次并等待结束。lines 为空时使用配置的代理源。
func (s *AppServer) RunOnce(ctx context.Context, lines []string) (*manager.BatchSummary, error) {
	globalstate.GlobalStatus.Set(globalstate.PhaseRunning)
	defer globalstate.GlobalStatus.Set(globalstate.PhaseIdle)

	summary, err := s.manager.Run(ctx, s.source(lines))
	s.reportDropped()
	return summary, err
}

// reportDropped 记录本次批次被限流丢弃的 info 行数
func (s *AppServer) reportDropped() {
	if dropped := s.logSink.ResetDropped(); dropped > 0 {
		logger.Debug().Int64("dropped", dropped).Msg("Info log lines suppressed by throttle.")
	}
}

// Serve 启动 Web 控制台并阻塞直到 Stop 被调用。
func (s *AppServer) Serve() error {
	if s.hub == nil {
		return fmt.Errorf("app server was not created for web mode")
	}
	if s.cfg.WebConf.WebPort <= 0 {
		return fmt.Errorf("web mode needs [web] web_port or PROXYCHECKER_WEB_PORT > 0, got %d", s.cfg.WebConf.WebPort)
	}
	logger.Info().Msg("Starting proxy checker in 'web' mode...")

	s.waitGroup.Add(1)
	go func() {
		defer s.waitGroup.Done()
		s.hub.Run(s.ctx)
	}()

	if err := web.StartServer(s.ctx, &s.waitGroup, s.cfg, s.settingsManager, s, s.hub); err != nil {
		s.Stop()
		s.Wait()
		return err
	}
	<-s.ctx.Done()
	s.Wait()
	return nil
}

// Stop 停止当前批次并关闭所有后台服务。可重复调用。
func (s *AppServer) Stop() {
	s.stopOnce.Do(func() {
		s.manager.Stop()
		s.cancel()
	})
}

func (s *AppServer) Wait() {
	s.waitGroup.Wait()
}

// GetIniPath returns the path of the loaded ini file.
func (s *AppServer) GetIniPath() string {
	return s.iniPath
}

// Storage returns the exporter configured by [export] dir.
func (s *AppServer) Storage() *storage.FileStorage {
	return s.storage
}
