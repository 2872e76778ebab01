package scraper

import "context"

// Scraper 接口定义了获取原始代理列表的行为。
type Scraper interface {
	// Scrape 返回原始代理行。实现者只负责获取和切分, 不做解析和验证。
	Scrape(ctx context.Context) ([]string, error)

	// Name 返回来源名称, 用于日志记录。
	Name() string
}

// StaticScraper 返回预先给定的代理行, 用于手动导入和测试。
type StaticScraper struct {
	name  string
	lines []string
}

func NewStaticScraper(name string, lines []string) *StaticScraper {
	return &StaticScraper{name: name, lines: lines}
}

func (s *StaticScraper) Name() string {
	return s.name
}

func (s *StaticScraper) Scrape(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]string, len(s.lines))
	copy(out, s.lines)
	return out, nil
}
