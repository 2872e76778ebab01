package scraper

import (
	"net/http"
	"sort"
)

// Preset 描述一个已知的免费代理网站。Variable 非空时代理列表在页面脚本变量中,
// 否则页面是前两列为 ip 和 port 的表格, Selector 选中代理行。
type Preset struct {
	Name     string
	URL      string
	Selector string
	Variable string
}

// New 用给定客户端创建该网站的抓取器。
func (p Preset) New(client *http.Client) Scraper {
	if p.Variable != "" {
		return NewScriptScraper(p.URL, p.Variable, client)
	}
	return NewTableScraper(p.URL, p.Selector, client)
}

var presets = map[string]Preset{
	"ip3366": {
		Name:     "ip3366",
		URL:      "http://www.ip3366.net/?stype=1&page=1",
		Selector: "table.table-bordered tbody tr",
	},
	"kuaidaili": {
		Name:     "kuaidaili",
		URL:      "https://www.kuaidaili.com/free/inha/1/",
		Variable: "fpsList",
	},
	"zdaye": {
		Name:     "zdaye",
		URL:      "https://www.zdaye.com/free/1/?https=1",
		Selector: "table#ipc tbody tr",
	},
	"proxylistdownload": {
		Name:     "proxylistdownload",
		URL:      "https://www.proxy-list.download/HTTP",
		Selector: "table#example1 tbody#tabli tr",
	},
	"proxydb": {
		Name:     "proxydb",
		URL:      "https://proxydb.net/?protocol=http&protocol=https",
		Selector: "tbody tr",
	},
}

// LookupPreset 按名称查找内置的代理网站。
func LookupPreset(name string) (Preset, bool) {
	p, ok := presets[name]
	return p, ok
}

// PresetNames returns the built-in preset names in sorted order.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
