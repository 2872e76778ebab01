package settings

// ConfigurableModule 是所有希望其配置能被在线管理的模块必须实现的接口。
// 当相关配置发生变更时, SettingsManager 会调用此方法。
type ConfigurableModule interface {
	// OnSettingsUpdate 在配置变更时被 SettingsManager 调用。
	// moduleKey: 发生变化的模块 (e.g., "checker")。
	// newSettings: 对应模块已解析好的新配置结构体指针 (e.g., *CheckerSettings)。
	OnSettingsUpdate(moduleKey string, newSettings interface{}) error
}

// RuntimeSettings 是 settings.json 文件的顶层结构。
// 使用指针类型, JSON 中缺少某个模块时对应字段为 nil, 由 ensureDefaultModules 补齐。
type RuntimeSettings struct {
	Checker *CheckerSettings `json:"checker"`
}

// CheckerSettings 对应 settings.json 中的 "checker" 模块, 变更在下一次批次生效。
type CheckerSettings struct {
	Concurrency       int `json:"concurrency"`
	ProbeTimeoutMs    int `json:"probe_timeout_ms"`
	SelectorTimeoutMs int `json:"selector_timeout_ms"`
	GeoTimeoutMs      int `json:"geo_timeout_ms"`
}

func defaultCheckerSettings() *CheckerSettings {
	return &CheckerSettings{
		Concurrency:       10,
		ProbeTimeoutMs:    10000,
		SelectorTimeoutMs: 15000,
		GeoTimeoutMs:      5000,
	}
}

func createDefaultSettings() *RuntimeSettings {
	return &RuntimeSettings{
		Checker: defaultCheckerSettings(),
	}
}

func ensureDefaultModules(s *RuntimeSettings) {
	if s.Checker == nil {
		s.Checker = defaultCheckerSettings()
	}
	s.Checker.normalize()
}

// normalize 将缺失或非法的字段替换为默认值。
func (c *CheckerSettings) normalize() {
	d := defaultCheckerSettings()
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.ProbeTimeoutMs <= 0 {
		c.ProbeTimeoutMs = d.ProbeTimeoutMs
	}
	if c.SelectorTimeoutMs <= 0 {
		c.SelectorTimeoutMs = d.SelectorTimeoutMs
	}
	if c.GeoTimeoutMs <= 0 {
		c.GeoTimeoutMs = d.GeoTimeoutMs
	}
}
