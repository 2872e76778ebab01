package app

import (
	"fmt"
	"net/http"
	"time"

	"proxychecker/internal/shared/config"
	"proxychecker/internal/shared/logger"
	"proxychecker/internal/shared/settings"
	manager "proxychecker/proxypool"
	"proxychecker/proxypool/scraper"
	"proxychecker/proxypool/validator"
)

// sourceFactory 保存构建代理源所需的共享客户端
type sourceFactory struct {
	client *http.Client
}

// buildComponents 根据静态配置和运行时设置构建一套新的检测部件。
// 列表抓取和测试地址选择共用一个客户端, 地理位置查询使用独立的连接池,
// 每次探测各自创建私有连接。
func (s *AppServer) buildComponents(cs *settings.CheckerSettings) manager.Components {
	userAgent := s.cfg.CheckerConf.UserAgent
	if userAgent == "" {
		userAgent = validator.DefaultUserAgent
	}
	testURLs := config.SplitList(s.cfg.CheckerConf.TestURLs)
	if len(testURLs) == 0 {
		testURLs = validator.DefaultTestURLs
	}

	shared := validator.NewDirectClient(millis(cs.SelectorTimeoutMs), cs.Concurrency, userAgent)
	geo := validator.NewGeoClient(s.cfg.CheckerConf.GeoURL, millis(cs.GeoTimeoutMs), userAgent)

	s.componentsLock.Lock()
	if s.sources.client != nil {
		s.sources.client.CloseIdleConnections()
	}
	s.sources = sourceFactory{client: shared}
	s.componentsLock.Unlock()

	return manager.Components{
		Selector:    validator.NewEndpointSelector(shared, testURLs),
		Prober:      validator.NewValidator(millis(cs.ProbeTimeoutMs), userAgent, geo),
		Concurrency: cs.Concurrency,
	}
}

// OnSettingsUpdate 实现 settings.ConfigurableModule, 新部件从下一次批次开始生效。
func (s *AppServer) OnSettingsUpdate(moduleKey string, newSettings interface{}) error {
	cs, ok := newSettings.(*settings.CheckerSettings)
	if !ok {
		return fmt.Errorf("invalid settings type for module %s: %T", moduleKey, newSettings)
	}
	s.manager.Configure(s.buildComponents(cs))
	logger.Info().
		Int("concurrency", cs.Concurrency).
		Int("probe_timeout_ms", cs.ProbeTimeoutMs).
		Msg("Checker settings applied to next batch.")
	return nil
}

// source 选择本次批次的代理源: 导入的列表优先, 否则按 source_format 使用配置地址,
// source_format 为内置网站名时抓取该网站。
func (s *AppServer) source(lines []string) scraper.Scraper {
	if len(lines) > 0 {
		return scraper.NewStaticScraper("imported list", lines)
	}

	s.componentsLock.RLock()
	client := s.sources.client
	s.componentsLock.RUnlock()

	format := s.cfg.CheckerConf.SourceFormat
	switch format {
	case "table":
		return scraper.NewTableScraper(s.cfg.CheckerConf.SourceURL, "", client)
	case "", "text":
		return scraper.NewTextScraper(s.cfg.CheckerConf.SourceURL, client)
	}
	if preset, ok := scraper.LookupPreset(format); ok {
		return preset.New(client)
	}
	logger.Warn().Str("source_format", format).Strs("presets", scraper.PresetNames()).Msg("Unknown source_format, falling back to text list.")
	return scraper.NewTextScraper(s.cfg.CheckerConf.SourceURL, client)
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
