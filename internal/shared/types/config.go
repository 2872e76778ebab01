package types

// CheckerConf 包含代理检测流程的静态配置
type CheckerConf struct {
	SourceURL    string `ini:"source_url"`
	SourceFormat string `ini:"source_format"` // "text" (默认, 每行一个代理), "table" (HTML 表格) 或内置网站名
	TestURLs     string `ini:"test_urls"`     // 逗号分隔, 按优先级排列
	GeoURL       string `ini:"geo_url"`
	UserAgent    string `ini:"user_agent"`
	SettingsFile string `ini:"settings_file"` // 运行时可调参数, 相对于配置目录
}

// LogConf contains logging specific configuration
type LogConf struct {
	Level             string  `ini:"level"`
	ThrottlePerSecond float64 `ini:"throttle_per_second"` // info 日志限速, 0 表示不限
}

// WebConf 包含 Web 控制台的配置, -serve 要求 web_port 为正数
type WebConf struct {
	WebPort     int    `ini:"web_port"`
	WebUser     string `ini:"web_user"`
	WebPassword string `ini:"web_password"`
}

// ExportConf 控制检测结果的导出
type ExportConf struct {
	Dir string `ini:"dir"`
}

// Config 是 proxychecker.ini 的统一配置结构体
type Config struct {
	CheckerConf `ini:"checker"`
	LogConf     `ini:"log"`
	WebConf     `ini:"web"`
	ExportConf  `ini:"export"`
}
